// Package httpserver exposes the sandbox over HTTP.
//
// Routes:
//
//	POST /api/v1/run/{language}  {"code": "..."} -> program stdout as text/plain
//	POST /api/v1/execute         {"language", "code", "timeout_sec"} -> JSON report
//	GET  /healthz
//
// Build failures, runtime failures and timeouts answer 500 with a readable
// message; the X-Run-Outcome header tells them apart. Invalid input answers
// 400, a full execution queue 503, and a client over its rate limit 429.
// The MCP streamable HTTP transport can be mounted on the same router.
package httpserver
