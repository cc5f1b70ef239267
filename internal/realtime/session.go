package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrMalformedEvent marks a backend frame that failed to decode. The
// connection itself is still usable; callers typically log and keep
// reading.
var ErrMalformedEvent = errors.New("malformed backend event")

// wsConn is the subset of a websocket connection the session uses. Satisfied
// by *websocket.Conn; tests substitute a fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// WebSocketSession is one live connection to the speech backend. Writes are
// serialized with a mutex because the bridge's forwarding loop and the
// administrative side-channel both send on the same connection; reads are
// single-consumer (the bridge's backend loop).
type WebSocketSession struct {
	conn      wsConn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// newSession wraps an established websocket connection.
func newSession(conn wsConn) *WebSocketSession {
	return &WebSocketSession{conn: conn}
}

func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

func (s *WebSocketSession) sendEvent(event map[string]interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(event)
}

// Recv blocks until the next backend event arrives and decodes it. Returns
// the connection error once the connection is gone; unparseable frames are
// reported as errors without tearing the connection down.
func (s *WebSocketSession) Recv() (*ServerEvent, error) {
	_, message, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var event ServerEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &event, nil
}

// UpdateSession sends the session configuration.
func (s *WebSocketSession) UpdateSession(config map[string]interface{}) error {
	return s.sendEvent(map[string]interface{}{
		"event_id": generateEventID(),
		"type":     EventTypeSessionUpdate,
		"session":  config,
	})
}

// AppendAudio appends a base64-encoded audio chunk to the input buffer. The
// payload arrives from the telephony stream already base64-encoded and is
// passed through untouched.
func (s *WebSocketSession) AppendAudio(audioBase64 string) error {
	return s.sendEvent(map[string]interface{}{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    audioBase64,
	})
}

// CreateUserItem injects a user text turn into the conversation.
func (s *WebSocketSession) CreateUserItem(text string) error {
	return s.sendEvent(map[string]interface{}{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]interface{}{
			"type": "message",
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// TruncateItem cuts an in-progress assistant item at audioEndMs, discarding
// audio the backend generated past what the caller actually heard.
func (s *WebSocketSession) TruncateItem(itemID string, contentIndex, audioEndMs int) error {
	return s.sendEvent(map[string]interface{}{
		"event_id":      generateEventID(),
		"type":          EventTypeConversationItemTruncate,
		"item_id":       itemID,
		"content_index": contentIndex,
		"audio_end_ms":  audioEndMs,
	})
}

// CreateResponse asks the backend to generate its next turn.
func (s *WebSocketSession) CreateResponse() error {
	return s.sendEvent(map[string]interface{}{
		"event_id": generateEventID(),
		"type":     EventTypeResponseCreate,
	})
}

// Close closes the underlying connection. Safe to call from any goroutine
// and any number of times; the first call wins.
func (s *WebSocketSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
