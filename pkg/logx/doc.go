// Package logx configures system-notifier's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional journald sink when running under systemd
//   - Optional desktop sink (warnings/errors surfaced as notifications, rate limited)
package logx
