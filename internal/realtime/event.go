package realtime

// Client event types (sent to the speech backend).
const (
	EventTypeSessionUpdate            = "session.update"
	EventTypeInputAudioBufferAppend   = "input_audio_buffer.append"
	EventTypeConversationItemCreate   = "conversation.item.create"
	EventTypeConversationItemTruncate = "conversation.item.truncate"
	EventTypeResponseCreate           = "response.create"
)

// Server event types (received from the speech backend). Only the events
// the bridge reacts to are named; everything else passes through Recv with
// its raw type string.
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"

	EventTypeConversationItemInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"

	EventTypeResponseAudioDelta          = "response.audio.delta"
	EventTypeResponseAudioTranscriptDone = "response.audio_transcript.done"
	EventTypeResponseTextDone            = "response.text.done"
	EventTypeResponseDone                = "response.done"
)

// ServerEvent is one decoded event from the speech backend. A single tagged
// struct covers every event the bridge consumes; fields not present on a
// given event type stay zero.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// response.audio.delta
	Delta  string `json:"delta,omitempty"`
	ItemID string `json:"item_id,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.text.done
	Text string `json:"text,omitempty"`

	// error
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
