package oauth

import "github.com/2389/mcpbox/internal/security"

func hashSecret(secret string) string {
	return security.HashHex(secret)
}
