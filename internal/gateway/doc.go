// Package gateway wires the configured state store, identity
// providers, embedded OAuth server, and child MCP multiplexer into the
// HTTP router described in SPEC_FULL.md §4.6, and owns the process's
// startup and graceful-shutdown sequence.
package gateway
