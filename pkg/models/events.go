package models

// Outbound event types emitted to connected clients. For a single task the
// emitted sequence is always a prefix of: start, token*, (end|error|interrupted).
const (
	EventStreamStart       = "stream.start"
	EventStreamToken       = "stream.token"
	EventStreamEnd         = "stream.end"
	EventStreamError       = "stream.error"
	EventStreamInterrupted = "stream.interrupted"
)

// Stable error codes surfaced on stream.error events.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeClassificationError = "CLASSIFICATION_ERROR"
	CodeGenerationError     = "GENERATION_ERROR"
	CodePersistenceError    = "PERSISTENCE_ERROR"
)

// StreamEvent is the outbound wire event. Fields are populated per event type;
// unused fields are omitted from the encoded payload.
type StreamEvent struct {
	Type        string           `json:"type"`
	SessionID   string           `json:"sessionId"`
	Token       string           `json:"token,omitempty"`
	Content     string           `json:"content,omitempty"`
	MessageType MessageType      `json:"messageType,omitempty"`
	Artifact    *ArtifactPayload `json:"artifact,omitempty"`
	ErrorCode   string           `json:"errorCode,omitempty"`
	Message     string           `json:"message,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// StreamStart builds a stream.start event.
func StreamStart(sessionID string) StreamEvent {
	return StreamEvent{Type: EventStreamStart, SessionID: sessionID}
}

// StreamToken builds a stream.token event.
func StreamToken(sessionID, token string) StreamEvent {
	return StreamEvent{Type: EventStreamToken, SessionID: sessionID, Token: token}
}

// StreamEnd builds a stream.end event.
func StreamEnd(sessionID, content string, messageType MessageType, artifact *ArtifactPayload) StreamEvent {
	return StreamEvent{
		Type:        EventStreamEnd,
		SessionID:   sessionID,
		Content:     content,
		MessageType: messageType,
		Artifact:    artifact,
	}
}

// StreamError builds a stream.error event with a stable error code.
func StreamError(sessionID, code, message string) StreamEvent {
	return StreamEvent{Type: EventStreamError, SessionID: sessionID, ErrorCode: code, Message: message}
}

// StreamInterrupted builds a stream.interrupted event.
func StreamInterrupted(sessionID, reason string) StreamEvent {
	return StreamEvent{Type: EventStreamInterrupted, SessionID: sessionID, Reason: reason}
}
