// Package main hosts the keepalive service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the trigger (/run and /), the
//     run-state snapshot (/status), a liveness probe (/healthz), and
//     Prometheus metrics (/metrics). The trigger validates the shared token
//     and a resolvable target URL before handing off to the runner.
//   - Runner: internal/runner.Runner is a single-slot visit state machine.
//     An accepted trigger flips the running flag, records the visit ID, URL,
//     and start time, and launches the browser session as a background
//     goroutine; the trigger response returns immediately. A trigger that
//     arrives mid-visit is answered with accepted=false and nothing is
//     queued.
//   - Browser: internal/browser wraps chromedp. Each visit launches a fresh
//     headless Chrome with sandbox-disabling flags for containerized hosts,
//     fixes the viewport, navigates until DOM readiness, holds the page for
//     the stay duration, and closes the browser on every exit path. Close
//     errors are logged and swallowed so cleanup never masks a visit error.
//   - Keep-alive pings: while a visit is in flight, a ticker loop GETs the
//     configured keep-alive URL (defaulting to this service's own /healthz)
//     with a short per-attempt timeout. Ping failures are logged, never
//     fatal; the loop is cancelled the moment the visit ends.
//   - Configuration & plumbing: Viper populates config from env/file
//     (KEEPALIVE_ prefix); zap provides structured logging; Prometheus
//     collectors track visits, pings, and HTTP traffic.
//
// Operational notes:
//   - Concurrency model: at most one browser visit at a time, enforced by
//     the runner's flag; HTTP handlers stay fully concurrent, so /status and
//     /healthz answer mid-visit. The only coordination is the runner mutex.
//   - Shutdown: SIGINT/SIGTERM stops the HTTP server, then the process waits
//     for any in-flight visit to complete before exiting. Nothing interrupts
//     a navigation or stay in progress.
//   - A launch timeout of zero (the default) means a hung Chrome launch can
//     hold the visit slot indefinitely. That trade-off is deliberate: the
//     next trigger after a finished visit always starts a fresh browser.
//
// Quick checklist:
//   - Configure env vars: KEEPALIVE_AUTH_TOKEN (required for triggers to be
//     accepted), KEEPALIVE_VISIT_DEFAULT_URL, KEEPALIVE_VISIT_STAY_MINUTES,
//     KEEPALIVE_SERVER_PORT, KEEPALIVE_KEEPALIVE_URL.
//   - Run locally: go run ./cmd/keepalive -config config.yaml (or rely
//     solely on env overrides).
//   - Trigger: GET /run?token=...&url=https://console.example.com&stay=14
//     answers 202 and holds the page open in the background.
package main
