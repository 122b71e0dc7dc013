package model

import "fmt"

// EventType is the closed set of federation event kinds. Producers enqueue
// with one of these literal values; anything else is rejected at the edge.
type EventType string

const (
	EventSubmissionCreated EventType = "submission.created"
	EventSubmissionUpdated EventType = "submission.updated"
	EventStatusUpdated     EventType = "status_updated"
	EventMessageSent       EventType = "message.sent"
	EventMessageRead       EventType = "message.read"
	EventSpeakerReply      EventType = "speaker.reply"
	EventConsentRevoked    EventType = "consent.revoked"
	EventProfileUpdated    EventType = "profile.updated"
)

var eventTypes = map[EventType]struct{}{
	EventSubmissionCreated: {},
	EventSubmissionUpdated: {},
	EventStatusUpdated:     {},
	EventMessageSent:       {},
	EventMessageRead:       {},
	EventSpeakerReply:      {},
	EventConsentRevoked:    {},
	EventProfileUpdated:    {},
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

func ParseEventType(value string) (EventType, error) {
	t := EventType(value)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", value)
	}
	return t, nil
}
