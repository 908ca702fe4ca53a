/*
Package observability provides Prometheus metrics and structured logging for
parley sessions.

Metrics.Hooks returns domain.LifecycleHooks that count transitions, time external
invocations and track live sessions. They are installed on the session registry
and exposed over HTTP with Metrics.Handler.
*/
package observability
