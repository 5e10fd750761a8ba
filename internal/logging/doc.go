// Package logging provides structured logging utilities for gmail-chat.
//
// All components log through log/slog. This package keeps attribute names
// consistent and makes sure identifying values are hashed before they reach
// a log line.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "chat")
//	logger.Info("tool round finished",
//	    logging.Round(2),
//	    logging.StopReason("tool_use"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("session created",
//	    logging.UserHash(email),
//	    logging.Session(sessionID))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Session identifiers are bearer secrets and are hashed the same way
//   - Tokens are never logged directly
package logging
