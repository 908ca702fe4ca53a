/*
Package parley is the session-control core of a conversational chat backend.

For every chat session it tracks which phase of a multi-party conversation the
session is in (automated bot, human agent hand-off, post-chat survey, transcript
delivery), reacts to inbound triggers from the end user and from an external
workflow backend, and emits one ordered stream of state and message updates to the
subscribers of that session.

# Architecture

  - internal/runtime: the pure conversation state machine (states, guards, actions).
  - pkg/session: one actor per session with a FIFO mailbox, the registry that owns
    them and the mapper that turns opaque triggers into machine events.
  - pkg/stream: per-session output sinks with replay for late subscribers.
  - pkg/actors: dialogue, handover, relay and transcript calls over the workflow backend.
  - pkg/adapters: HTTP/SSE and MCP transports, memory and Redis snapshot stores.

# Usage

	wf, err := workflow.New("https://automation.example.com/webhook")
	if err != nil {
		log.Fatal(err)
	}

	p, err := parley.New(wf,
		parley.WithSnapshotStore(memory.NewStore(), middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)),
		parley.WithMetrics(observability.NewMetrics()),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close(context.Background())

	events, _ := p.Hub().Sink("session-123").Subscribe(ctx)
	p.Dispatch(ctx, domain.Trigger{SessionID: "session-123", Message: "hello"})

	for ev := range events {
		fmt.Println(ev.Kind, ev.Status, ev.Text)
	}

The cmd/parley binary wires the same pieces from a YAML file and serves them over
HTTP (POST /v1/triggers, GET /v1/sessions/{id}/events) or MCP.
*/
package parley
