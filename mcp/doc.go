// Package mcp contains the Model Context Protocol data types and method
// names the bridge speaks: initialization, tools, logging and ping. The
// package is free of transport logic; streaminghttp frames these values and
// internal/engine produces them.
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate client-provided values and Allows to filter outbound messages.
//
// # Compatibility
//
// NegotiateProtocolVersion echoes a supported client version and otherwise
// falls back to LatestProtocolVersion.
package mcp
