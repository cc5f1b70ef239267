// Package models defines the shared data structures for calls and transcripts.
package models

import (
	"bytes"
	"strconv"
	"time"
)

// Speaker roles attached to transcript entries.
const (
	SpeakerCaller = "caller"
	SpeakerAI     = "ai"
	SpeakerAdmin  = "admin"
)

// Call status values understood by the record keeper.
const (
	StatusInitiated  = "INITIATED"
	StatusRinging    = "RINGING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusProcessed  = "PROCESSED"
	StatusFailed     = "FAILED"
	StatusMissed     = "MISSED"
	StatusDeclined   = "DECLINED"
)

// Call directions as recorded by the record keeper.
const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// TranscriptEntry is one line of conversation, as stored in call metadata.
type TranscriptEntry struct {
	Text      string `json:"text"`
	Speaker   string `json:"speaker"`
	Timestamp int64  `json:"timestamp"`
}

// Millis is a timestamp in Unix milliseconds. The record keeper serializes
// timestamps inconsistently: sometimes an ISO-8601 string, sometimes epoch
// seconds, sometimes epoch milliseconds. Everything normalizes to
// milliseconds on decode.
type Millis int64

// UnmarshalJSON accepts null, an ISO-8601 string, or a number in either
// epoch seconds or epoch milliseconds.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		*m = Millis(t.UnixMilli())
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	// Values below 1e10 are epoch seconds; anything larger is already ms.
	if n < 1e10 {
		*m = Millis(n * 1000)
	} else {
		*m = Millis(n)
	}
	return nil
}

// CallDetails is the record keeper's view of a single call.
type CallDetails struct {
	ID         string       `json:"id"`
	Direction  string       `json:"direction"`
	Status     string       `json:"status"`
	AnsweredAt Millis       `json:"answeredAt"`
	StartedAt  Millis       `json:"startedAt"`
	CreatedAt  Millis       `json:"createdAt"`
	Metadata   CallMetadata `json:"metadata"`
}

// CallMetadata is the mutable metadata blob attached to a call record.
type CallMetadata struct {
	Transcripts     []TranscriptEntry `json:"transcripts"`
	InitialPrompts  []string          `json:"initialPrompts"`
	RoutedToAI      bool              `json:"routedToAI"`
	TranscriptCount int               `json:"transcriptCount"`
}
