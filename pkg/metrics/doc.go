/*
Package metrics defines the Prometheus instrumentation of the sandbox
backend and exposes it for scraping.

All metrics live in the sandbox_ namespace and are registered against the
default registry at package init. The groups mirror the components:

  - sessions: active gauge and started counter
  - containers: managed gauge, reaped and healed counters
  - fs events: intercepted shell verbs by verb and outcome
  - notifications: open subscriber sockets and published events
  - terminal: bytes pumped by direction
  - api: request counts by method and status, latency histogram

Handler returns the HTTP handler the API mounts at /metrics; the automatic
Go runtime metrics of the default registry come along for free.
*/
package metrics
