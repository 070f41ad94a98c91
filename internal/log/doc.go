// Package log builds the service's slog loggers.
//
// Every logger is wrapped in a RedactingHandler, which masks values that
// must never reach log storage:
//   - attributes named like credentials (authorization, cookie, api keys,
//     the admin token, passwords, session ids)
//   - values that look like secrets (bearer and basic credentials, JWTs,
//     long opaque keys, PEM private keys)
//   - passwords embedded in connection URLs such as redis:// and
//     postgres:// addresses
//   - the host part of client IP addresses
//
// Usage:
//
//	logger, err := log.NewLogger(os.Stderr, log.Options{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
package log
