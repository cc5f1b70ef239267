package models

import (
	"fmt"
	"sort"
	"strings"
)

// TranscriptEvent is the event mirrored to the transcript topic for each
// completed line of speech.
type TranscriptEvent struct {
	EventType string `json:"eventType"`
	CallID    string `json:"callId"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// StatusEvent is the event mirrored to the status topic when a call
// reaches a terminal state.
type StatusEvent struct {
	EventType string `json:"eventType"`
	CallID    string `json:"callId"`
	Status    string `json:"status"`
	Duration  int64  `json:"durationSeconds"`
	Timestamp int64  `json:"timestamp"`
}

// CompileTranscript renders the final human-readable transcript for a call:
// initial objectives first (tagged as admin), then all entries ordered by
// timestamp. Entries with empty text are skipped.
func CompileTranscript(objectives []string, entries []TranscriptEntry) string {
	sorted := make([]TranscriptEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var parts []string
	for _, obj := range objectives {
		if s := strings.TrimSpace(obj); s != "" {
			parts = append(parts, fmt.Sprintf("[%s]: %s", strings.ToUpper(SpeakerAdmin), s))
		}
	}
	for _, e := range sorted {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		speaker := e.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", strings.ToUpper(speaker), e.Text))
	}
	return strings.Join(parts, "\n")
}
