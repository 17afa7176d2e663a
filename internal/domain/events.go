package domain

import "time"

// EventType is the routing key of a domain event.
type EventType string

const (
	EventSessionCreated    EventType = "session.created"
	EventParticipantJoined EventType = "participant.joined"
	EventSessionStarted    EventType = "session.started"
	EventQuestionAdvanced  EventType = "question.advanced"
	EventSessionEnded      EventType = "session.ended"
	EventAnswerRecorded    EventType = "answer.recorded"
)

// Event is emitted after a session operation commits.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}
