// Package store defines the conversation data model and the audit ledger.
//
// # Data Model
//
//   - Participant: the counterpart of a one-to-one conversation
//   - Message: a single entry; messages sent by the local user carry a Status
//     (sending, sent, error), counterpart messages carry none
//   - Conversation: a participant plus its ordered message sequence
//   - Commit: an immutable snapshot of a conversation taken when a send finishes
//
// Messages are only ever appended. Their text may grow while a reply streams in
// and the status of an outgoing message changes exactly once, from sending to a
// terminal value. Conversation.Clone returns copies that never share a backing
// array with the original, so snapshots handed to observers stay stable.
//
// # Ledger
//
// The Ledger interface records commits for inspection (the hago history
// command). SQLiteStore implements it with modernc.org/sqlite in WAL mode and
// creates its schema on open. MockStore is an in-memory implementation for
// tests.
//
// The ledger is an audit trail. Live conversation state is owned by the
// conversation package and is never restored from it.
package store
