package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/shopsync/internal/ir"
)

// Scenario is one end-to-end sync scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Online is the connectivity at startup. When true, the startup
	// reconnect completes before the first step.
	Online bool `yaml:"online"`

	// Fetch seeds what the remote returns for (type, key) reads.
	Fetch []FetchSeed `yaml:"fetch,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// EntitySpec is an entity written inline in a scenario.
type EntitySpec struct {
	ID   string         `yaml:"id"`
	Data map[string]any `yaml:"data,omitempty"`
}

// FetchSeed is the remote's answer to a fetch of (Type, Key).
type FetchSeed struct {
	Type     string       `yaml:"type"`
	Key      string       `yaml:"key"`
	Entities []EntitySpec `yaml:"entities"`
}

// Step is one scenario action. Exactly one action field is set.
type Step struct {
	Read    *ReadStep   `yaml:"read,omitempty"`
	Mutate  *MutateStep `yaml:"mutate,omitempty"`
	Event   *EventStep  `yaml:"event,omitempty"`
	Fail    *FailStep   `yaml:"fail,omitempty"`
	Online  bool        `yaml:"online,omitempty"`
	Offline bool        `yaml:"offline,omitempty"`
	Advance string      `yaml:"advance,omitempty"`
	Refresh bool        `yaml:"refresh,omitempty"`

	// Expect checks the step's outcome. Nil means any outcome is accepted.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

type ReadStep struct {
	Type string `yaml:"type"`
	Key  string `yaml:"key"`
}

type MutateStep struct {
	Action string         `yaml:"action"`
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id"`
	Data   map[string]any `yaml:"data,omitempty"`
}

type EventStep struct {
	Type  string         `yaml:"type"`
	Event string         `yaml:"event"` // INSERT, UPDATE or DELETE
	ID    string         `yaml:"id"`
	Data  map[string]any `yaml:"data,omitempty"`
}

// FailStep scripts the next Times answers for Op.
type FailStep struct {
	Op      string `yaml:"op"`
	Error   string `yaml:"error"` // connectivity or rejection
	Message string `yaml:"message,omitempty"`
	Times   int    `yaml:"times,omitempty"`
}

// StepExpect is checked against a step's outcome.
type StepExpect struct {
	// Status is the mutation status: confirmed, queued or rejected.
	Status string `yaml:"status,omitempty"`

	// Error is the fault kind the step must fail with (e.g. CONNECTIVITY_FAULT).
	Error string `yaml:"error,omitempty"`

	// Count is the number of entities a read returns, or the number of
	// entries a refresh re-fetched.
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type       string         `yaml:"type"`
	Op         string         `yaml:"op,omitempty"`
	EntityType string         `yaml:"entity_type,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Count      *int           `yaml:"count,omitempty"`
	Keys       []string       `yaml:"keys,omitempty"`
	State      string         `yaml:"state,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueLength  = "queue_length"
	AssertRemoteCalls  = "remote_calls"
	AssertEntity       = "entity"
	AssertEntityAbsent = "entity_absent"
	AssertConnection   = "connection"
	AssertMetrics      = "metrics"
)

// Kind names the step's action.
func (s Step) Kind() string {
	switch {
	case s.Read != nil:
		return "read"
	case s.Mutate != nil:
		return "mutate"
	case s.Event != nil:
		return "event"
	case s.Fail != nil:
		return "fail"
	case s.Online:
		return "online"
	case s.Offline:
		return "offline"
	case s.Advance != "":
		return "advance"
	case s.Refresh:
		return "refresh"
	}
	return ""
}

func (s Step) actionCount() int {
	n := 0
	for _, set := range []bool{s.Read != nil, s.Mutate != nil, s.Event != nil, s.Fail != nil, s.Online, s.Offline, s.Advance != "", s.Refresh} {
		if set {
			n++
		}
	}
	return n
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}

	for i, f := range s.Fetch {
		if _, err := ir.ParseEntityType(f.Type); err != nil {
			return fmt.Errorf("fetch[%d]: %w", i, err)
		}
		if f.Key == "" {
			return fmt.Errorf("fetch[%d]: key is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if n := step.actionCount(); n != 1 {
		return fmt.Errorf("exactly one action is required, got %d", n)
	}

	switch {
	case step.Read != nil:
		if _, err := ir.ParseEntityType(step.Read.Type); err != nil {
			return err
		}
		if step.Read.Key == "" {
			return errors.New("read: key is required")
		}
	case step.Mutate != nil:
		if _, err := buildMutation(*step.Mutate); err != nil {
			return err
		}
	case step.Event != nil:
		if _, _, err := buildEvent(*step.Event); err != nil {
			return err
		}
	case step.Fail != nil:
		switch step.Fail.Op {
		case "create", "update", "delete", "fetch":
		default:
			return fmt.Errorf("fail: unknown op %q", step.Fail.Op)
		}
		if _, err := scriptedError(*step.Fail); err != nil {
			return err
		}
	case step.Advance != "":
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertQueueLength:
		if a.Count == nil {
			return errors.New("queue_length: count is required")
		}
	case AssertRemoteCalls:
		if a.Op == "" {
			return errors.New("remote_calls: op is required")
		}
		if a.Count == nil && a.Keys == nil {
			return errors.New("remote_calls: count or keys is required")
		}
	case AssertEntity, AssertEntityAbsent:
		if _, err := ir.ParseEntityType(a.EntityType); err != nil {
			return fmt.Errorf("%s: %w", a.Type, err)
		}
		if a.ID == "" {
			return fmt.Errorf("%s: id is required", a.Type)
		}
	case AssertConnection:
		switch a.State {
		case "online", "offline", "reconnecting":
		default:
			return fmt.Errorf("connection: unknown state %q", a.State)
		}
	case AssertMetrics:
		if len(a.Expect) == 0 {
			return errors.New("metrics: expect is required")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
