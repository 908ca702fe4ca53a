/*
Package session runs conversations.

A Registry maps session ids to Actors. Each Actor owns one conversation: a
snapshot of the state machine, a FIFO mailbox drained by a single goroutine and
the external calls it has in flight. Inbound triggers go through the Mapper,
which turns them into machine events, either directly or after a round trip to
the workflow backend. A backend-resolved trigger keeps the queue position it
arrived at.

Every transition is published to the session's stream.Sink and, when a Manager
is configured, merged into the persisted snapshot under the session lock.
*/
package session
