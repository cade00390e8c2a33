package protocol

import "time"

// TranscribeRequest asks a remote worker to decode one audio window.
type TranscribeRequest struct {
	RequestID  string `json:"request_id"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Mode       string `json:"mode"`
	Language   string `json:"language,omitempty"`
	PCM        []byte `json:"pcm"`
}

// TranscribeReply carries the worker's transcript or an error string.
type TranscribeReply struct {
	RequestID   string  `json:"request_id"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence,omitempty"`
	Error       string  `json:"error,omitempty"`
	Unavailable bool    `json:"unavailable,omitempty"`
}

// SessionEvent mirrors a dictation session event onto the bus.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TriggerCommand is published by remote input triggers.
type TriggerCommand struct {
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscribe      = "stt.transcribe"
	SubjectTriggerBegin    = "dictation.trigger.begin"
	SubjectTriggerEnd      = "dictation.trigger.end"
	SubjectSessionState    = "dictation.session.state"
	SubjectTranscriptDelta = "dictation.text.delta"
	SubjectTranscriptFinal = "dictation.text.final"
	SubjectSessionError    = "dictation.session.error"

	QueueTranscribeWorkers = "stt-workers"
)
