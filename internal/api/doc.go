// Package api is the operator surface of wavectl.
//
// Service drives an engine in process and allows one active execution
// (run, resume or rollback) at a time; executions continue in the
// background after the request that started them returns. Server exposes a
// Service over HTTP with gin, Client talks to that server with resty, and
// MCPTools publishes the same operations as MCP tools served over SSE.
//
// Both Service and Client implement Operator, so the CLI works the same
// against a local engine and a remote `wavectl serve`.
package api
