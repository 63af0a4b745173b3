package mcp

import "testing"

func TestNegotiateProtocolVersion(t *testing.T) {
	if got := NegotiateProtocolVersion("2025-03-26"); got != "2025-03-26" {
		t.Fatalf("supported version not echoed: %s", got)
	}
	if got := NegotiateProtocolVersion("1999-01-01"); got != LatestProtocolVersion {
		t.Fatalf("unsupported version should fall back to latest, got %s", got)
	}
}

func TestLoggingLevelAllows(t *testing.T) {
	if !LoggingLevelInfo.Allows(LoggingLevelError) {
		t.Fatal("info threshold should allow error")
	}
	if LoggingLevelError.Allows(LoggingLevelInfo) {
		t.Fatal("error threshold should drop info")
	}
	if LoggingLevel("bogus").Allows(LoggingLevelEmergency) {
		t.Fatal("invalid threshold allows nothing")
	}
	if IsValidLoggingLevel("verbose") {
		t.Fatal("verbose is not a syslog level")
	}
}
