// Package config handles configuration loading for mcpbox.
//
// # Overview
//
// Configuration is loaded from a single JSON file with environment
// variable expansion. The package provides validation and sensible
// defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	"auth": { "apikey": { "apiKey": "${MCPBOX_API_KEY}" } }
//
// Syntax: ${VAR_NAME}. A reference to an unset variable fails Load.
//
// # Configuration Sections
//
// Server:
//
//	"server": { "port": 8080 }
//
// Logging:
//
//	"log": { "level": "info", "format": "pretty", "redactSecrets": true }
//
// Authentication, a tagged union on "type":
//
//	"auth": { "type": "apikey", "apikey": { "apiKey": "..." } }
//	"auth": { "type": "oauth", "oauth": { "issuer": "...", "identityProviders": [...] } }
//
// Storage, a tagged union on "type":
//
//	"storage": { "type": "memory" }
//	"storage": { "type": "sqlite", "path": "/var/lib/mcpbox/state.db" }
//
// Managed child MCP servers:
//
//	"mcpServers": {
//	  "weather": { "command": "npx", "args": ["-y", "weather-mcp"] }
//	}
//
// # Usage
//
//	cfg, err := config.Load("mcpbox.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
