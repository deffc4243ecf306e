// Package ir provides the shared domain types of the shopsync engine.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal, so it stays the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Entities are keyed by (EntityType, ID); uniqueness is upsert-by-id
//   - Mutation is a closed union (Create, Update, Delete) so replay code can
//     switch over it exhaustively
//   - Entity payloads are stored as canonical JSON so equal entities are
//     byte-equal
//   - Queue ordering uses the sequence id, never wall-clock timestamps
package ir
