package main

import (
	"log/slog"

	"github.com/meshsignal/room-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRooms <= 0 {
		logger.Warn("startup security warning: MAX_ROOMS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_rooms_unlimited_in_prod",
			"max_rooms", cfg.MaxRooms,
			"mode", cfg.Mode,
		)
	}

	// Warn when the message cap is unusually large, since it weakens the
	// relay's oversized message DoS hardening.
	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
