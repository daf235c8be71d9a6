// Package conversation implements one-to-one chat: the send pipeline, the
// controller that owns committed conversations, and update fan-out.
//
// # Controller
//
// Controller holds the only copy of every conversation's committed messages,
// keyed by id. The active conversation is an id resolved through that map:
//
//	ctrl := conversation.NewController(localUserID, ledger, logger)
//	ctrl.Add(conv)
//	ctrl.Select("chat-1")
//	active, ok := ctrl.GetActive()
//
// Commit replaces a conversation's sequence wholesale and, when a ledger is
// configured, records an audit commit.
//
// # Service
//
// Service is the send pipeline:
//
//	svc := conversation.New(conversation.Config{
//	    Directory: ctrl,
//	    Finalizer: ctrl,
//	    Source:    source,
//	    Observer:  broadcaster,
//	})
//	ticket, err := svc.Start(ctx, "chat-1", "Hi")
//	receipt, err := ticket.Wait(ctx)
//
// A send goes through these steps:
//
//  1. Blank input is ignored (OutcomeIgnoredEmpty).
//  2. A second send while one is in flight is ignored (OutcomeIgnoredBusy).
//  3. The outgoing message is appended with status sending.
//  4. The reply source is asked for a stream over the full history. When the
//     stream starts an empty counterpart placeholder is appended.
//  5. Each non-empty fragment grows the placeholder text.
//  6. The outgoing status becomes sent on success and error on failure or
//     cancellation. Partial reply text is kept either way.
//  7. The sequence is handed to the Finalizer exactly once.
//
// Each step that changes the sequence publishes one Update to the Observer.
// Updates carry full snapshots, so observers never share memory with the
// working sequence.
//
// # States
//
//	Idle -> AwaitingFirstFragment -> Streaming -> Finalizing -> Idle
//	                    \________________\______-> Aborted ----> Idle
//
// AwaitingFirstFragment may also go straight to Finalizing when the reply
// fails or ends without text.
//
// # Cancellation
//
// The context passed to Start governs the send. Cancelling it, calling
// Service.Cancel, or closing the service aborts the reply at its next
// fragment. Aborted sends are still committed with the outgoing message in
// error status, so they can be retried.
//
// # Retry
//
// Retry removes a failed outgoing message and sends its text again as a new
// message with a fresh id and timestamp. It obeys the one-send-in-flight rule.
//
// # Broadcaster
//
// Broadcaster implements Observer and fans updates out per conversation.
// Publishing never blocks; a subscriber that falls behind loses its oldest
// queued snapshot instead of the newest.
package conversation
