// Package realtime connects to the speech backend's realtime websocket API
// and exposes the per-call session handle the bridge drives.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ai-call-bridge/internal/config"
)

// ConnectError marks a failure to establish or configure a backend session,
// as opposed to errors on an already-live connection. The bridge maps it to
// a FAILED call status instead of COMPLETED.
type ConnectError struct {
	Err        error
	HTTPStatus int
}

func (e *ConnectError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("speech backend connect failed (http %d): %v", e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("speech backend connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Session is a live backend conversation. The bridge reads server events,
// forwards audio, and steers the conversation through this surface.
type Session interface {
	Recv() (*ServerEvent, error)
	AppendAudio(audioBase64 string) error
	CreateUserItem(text string) error
	TruncateItem(itemID string, contentIndex, audioEndMs int) error
	CreateResponse() error
	Close() error
}

// Connector opens configured backend sessions.
type Connector interface {
	OpenSession(ctx context.Context, objectives []string) (Session, error)
}

// Client dials the speech backend. Safe for concurrent use; each call gets
// its own session.
type Client struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.SpeechConfig) *Client {
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// OpenSession dials the backend, applies the session configuration, and
// requests the opening turn. Objectives, when present, are folded into the
// instructions and take precedence over the default greeting flow. Any
// failure before the session is fully configured is a *ConnectError.
func (c *Client) OpenSession(ctx context.Context, objectives []string) (Session, error) {
	if c.cfg.APIKey == "" {
		return nil, &ConnectError{Err: fmt.Errorf("speech backend API key not configured")}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		ce := &ConnectError{Err: err}
		if resp != nil {
			ce.HTTPStatus = resp.StatusCode
		}
		return nil, ce
	}

	session := newSession(conn)
	if err := c.initializeSession(session, objectives); err != nil {
		session.Close()
		return nil, &ConnectError{Err: err}
	}
	return session, nil
}

// initializeSession sends the session configuration followed by the first
// response request, which makes the backend open the conversation.
func (c *Client) initializeSession(session *WebSocketSession, objectives []string) error {
	cfg := map[string]interface{}{
		"turn_detection":      map[string]interface{}{"type": "server_vad"},
		"input_audio_format":  c.cfg.InputFormat,
		"output_audio_format": c.cfg.OutputFormat,
		"voice":               c.cfg.Voice,
		"instructions":        BuildInstructions(c.cfg.Instructions, objectives),
		"modalities":          []string{"text", "audio"},
		"temperature":         c.cfg.Temperature,
		"tools":               DefaultTools(),
		"tool_choice":         "auto",
		"input_audio_transcription": map[string]interface{}{
			"model":    "whisper-1",
			"language": "en",
		},
	}
	if err := session.UpdateSession(cfg); err != nil {
		return fmt.Errorf("send session configuration: %w", err)
	}
	if err := session.CreateResponse(); err != nil {
		return fmt.Errorf("request opening response: %w", err)
	}
	return nil
}
