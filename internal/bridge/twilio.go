package bridge

import (
	"encoding/json"
	"fmt"
)

// Telephony media stream frame names.
const (
	FrameConnected = "connected"
	FrameStart     = "start"
	FrameMedia     = "media"
	FrameStop      = "stop"
	FrameClear     = "clear"
)

// InboundFrame is one frame received from the telephony media stream,
// decoded once into a tagged union. Only the section matching Event is
// populated.
type InboundFrame struct {
	Event string `json:"event"`

	// connected frames sometimes carry the call-leg id at the top level,
	// sometimes nested under start; both spellings occur in the wild.
	CallSID      string `json:"callSid"`
	CallSIDUpper string `json:"CallSid"`

	Start *StartSection `json:"start,omitempty"`
	Media *MediaSection `json:"media,omitempty"`
}

// StartSection is the payload of a start frame (and, for some providers,
// part of the connected frame).
type StartSection struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

// MediaSection is the payload of a media frame. Timestamp is milliseconds
// from stream start; Payload is base64 audio.
type MediaSection struct {
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectedCallSID returns the call-leg id a connected frame carries,
// wherever it was spelled.
func (f *InboundFrame) ConnectedCallSID() string {
	if f.Start != nil && f.Start.CallSID != "" {
		return f.Start.CallSID
	}
	if f.CallSID != "" {
		return f.CallSID
	}
	return f.CallSIDUpper
}

// DecodeInbound parses one raw telephony frame.
func DecodeInbound(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode telephony frame: %w", err)
	}
	return &f, nil
}

// OutboundMedia is an audio frame sent back to the telephony stream.
type OutboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     MediaPayload `json:"media"`
}

// MediaPayload carries the base64 audio of an outbound frame.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// NewOutboundMedia addresses an audio payload to a stream.
func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{
		Event:     FrameMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: payload},
	}
}

// ClearFrame tells the telephony side to flush buffered audio it has not
// yet played, used when the caller interrupts the assistant.
type ClearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// NewClearFrame addresses a clear instruction to a stream.
func NewClearFrame(streamSID string) ClearFrame {
	return ClearFrame{Event: FrameClear, StreamSID: streamSID}
}
