package config

import "strings"

// maskSecret keeps the first and last 4 characters of a secret visible.
// Short secrets are masked entirely.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// MaskAPIKey masks an API key for display in errors and logs.
func MaskAPIKey(apiKey string) string {
	return maskSecret(apiKey)
}

// MaskTelegramToken masks a <bot_id>:<token> pair, keeping the bot id
// visible for diagnostics.
func MaskTelegramToken(token string) string {
	if token == "" {
		return ""
	}
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return maskSecret(token)
	}
	return parts[0] + ":" + maskSecret(parts[1])
}
