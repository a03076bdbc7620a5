package session

import "github.com/season179/wabridge/internal/config"

// DefaultSessionName is used when neither the flag nor the config file
// names a session.
const DefaultSessionName = "main"

// Resolve picks the active session name. An explicit flag wins; next
// comes default_session from config.toml; a missing or unreadable
// config falls back to DefaultSessionName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
