// Package mcp implements the Streamable HTTP transport binding of the
// Model Context Protocol: one JSON-RPC 2.0 request per HTTP POST, one
// response per HTTP response body, no server-initiated streaming.
//
// The gateway answers "initialize" and "ping" locally; every other
// method — tools/list, tools/call, resources/list, resources/read,
// prompts/list, prompts/get, completion/complete — is forwarded to the
// internal/child multiplexer, which resolves the namespaced identifier
// to the owning child process and relays the call over its stdio
// transport.
package mcp
