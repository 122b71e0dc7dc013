package model

import "testing"

func TestParseEventType(t *testing.T) {
	for _, value := range []string{
		"submission.created",
		"submission.updated",
		"status_updated",
		"message.sent",
		"message.read",
		"speaker.reply",
		"consent.revoked",
		"profile.updated",
	} {
		parsed, err := ParseEventType(value)
		if err != nil {
			t.Fatalf("ParseEventType(%q) error: %v", value, err)
		}
		if string(parsed) != value {
			t.Fatalf("expected %q, got %q", value, parsed)
		}
	}
}

func TestParseEventTypeRejectsUnknown(t *testing.T) {
	if _, err := ParseEventType("submission.deleted"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if EventType("").Valid() {
		t.Fatal("empty event type must not be valid")
	}
}
