/*
Package domain contains the core domain model of the Parley session-control core.

It defines the entities the conversation state machine works with: the per-session
Context and its append-only Message log, the hierarchical StateValue, the Event union
that drives transitions, inbound Triggers, workflow-backend Descriptors and the
OutboundEvent stream published to subscribers. This package is kept pure and free of
I/O, following Hexagonal Architecture principles.

# Key Entities

  - Context: mutable record per session (messages, agent id, email, error, survey data).
  - Message: immutable log entry with a role (user, bot, agent).
  - StateValue: dotted state path such as "botActive.processing".
  - Event: the input of one state-machine transition.
  - Trigger: raw inbound signal, either a user message or a named system trigger.
  - OutboundEvent: a state snapshot or a message delivered to a session subscriber.
*/
package domain
