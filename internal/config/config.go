// Package config centralizes the coordination engine's environment-driven
// defaults: the synthetic-commit identity every coordinator operation
// signs with, and the editor command the adapter's EditMessage callers
// resolve. Matches the teacher's env-var-driven single-global-Config
// idiom, scoped to this module's own domain.
package config

import (
	"os"
)

// Config holds process-wide, environment-sourced defaults.
type Config struct {
	// CommitterName/CommitterEmail sign every synthetic commit the
	// coordinator creates (stash, shadow commit, meta-index staging
	// commits), per spec.md §6 ("All synthetic commits use the repo's
	// default signature").
	CommitterName  string
	CommitterEmail string
	// Editor is the command the caller-supplied EditorRunner (spec.md
	// §4.C) is expected to resolve, the backend's $EDITOR equivalent.
	// The core never spawns it itself; the value is carried here so
	// front-ends share one resolution point.
	Editor string
}

// DefaultConfig reads METAREPO_* environment variables, falling back to
// the values the rest of this module has always used.
func DefaultConfig() *Config {
	return &Config{
		CommitterName:  envOr("METAREPO_COMMITTER_NAME", "metarepo"),
		CommitterEmail: envOr("METAREPO_COMMITTER_EMAIL", "metarepo@localhost"),
		Editor:         envOr("EDITOR", "vi"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Global is the application-wide configuration instance, read once at
// startup the same way the teacher keeps one package-level Config.
var Global = DefaultConfig()
