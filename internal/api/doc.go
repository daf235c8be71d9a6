// Package api is the HTTP surface of hago.
//
// Read endpoints return JSON views of the committed conversations and of the
// uncommitted working copy while a send is in flight. Write endpoints start,
// retry and cancel sends; a send outlives the request that started it and its
// progress is observed through GET /api/conversations/{id}/events, a
// Server-Sent Events stream that emits a "snapshot" event per update and a
// "final" event when the send commits.
//
// Sends honor the Idempotency-Key header: a repeated key from the same caller
// for the same path replays the first response instead of sending again.
package api
