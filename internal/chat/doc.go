// Package chat is the conversation core of the localloop server.
//
// # Overview
//
// The package sits between the HTTP/WebSocket surface and the store,
// providing three cooperating pieces:
//
//   - Service: canonical conversation resolution, the append-only message
//     ledger, and read-watermark tracking
//   - Broadcaster: room-keyed fanout of persisted messages to live
//     subscribers
//   - the error taxonomy shared by both surfaces
//
// # Canonical conversations
//
// A conversation is the single record for all messages between two users.
// ResolveConversation is get-or-create over the unordered pair: the storage
// layer enforces pair uniqueness, and a creation race resolves by
// re-querying the winning row. Both participants calling with swapped
// arguments always land on the same conversation ID.
//
// # Message flow
//
// SendMessage persists first, then publishes:
//
//  1. Trim and validate the body, check ledger membership
//  2. Append the message and bump the conversation's recency, atomically
//  3. Publish to the conversation's room, fire-and-forget
//
// A fanout miss (no subscribers, full buffer, disconnect) never affects the
// send result; readers catch up from the durable history.
//
// # Idempotent sends
//
// A client may attach a client key to a send. Retrying with the same key
// returns the already-persisted message: a TTL cache answers the common case
// in memory, and a unique storage constraint backstops it. Sends without a
// key are at-least-once; a blind retry can duplicate.
package chat
