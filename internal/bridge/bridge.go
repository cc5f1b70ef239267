package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-call-bridge/internal/identity"
	"ai-call-bridge/internal/models"
	"ai-call-bridge/internal/observability/logging"
	"ai-call-bridge/internal/observability/metrics"
	"ai-call-bridge/internal/realtime"
	"ai-call-bridge/internal/registry"
)

// MediaConn is the telephony side of the bridge. Satisfied by
// *websocket.Conn; tests substitute a fake.
type MediaConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Store is the record keeper surface the bridge uses.
type Store interface {
	FetchCallDetails(ctx context.Context, callID string) (*models.CallDetails, error)
	UpdateStatus(ctx context.Context, callID, status string, answeredAt, endedAt int64) error
	AppendTranscript(ctx context.Context, callID, text, speaker string) error
	UpdateMetadata(ctx context.Context, callID string, metadata map[string]interface{}) error
	UpdateCallRecord(ctx context.Context, callID, transportSID, status string) error
}

// EventSink mirrors call activity onto the event topics.
type EventSink interface {
	PublishTranscript(ctx context.Context, callID, speaker, text string) error
	PublishStatus(ctx context.Context, callID, status string, durationSeconds int64) error
}

// Deps are the collaborators a bridge needs.
type Deps struct {
	Registry  *registry.Registry
	Resolver  *identity.Resolver
	Store     Store
	Connector realtime.Connector
	Events    EventSink
	Metrics   *metrics.Metrics
}

// Bridge runs one call: a telephony media stream on one side, a speech
// backend session on the other. Audio and control frames flow both ways
// until either leg drops, then the whole call tears down.
type Bridge struct {
	deps   Deps
	handle string
	conn   MediaConn

	session   realtime.Session
	lifecycle *Lifecycle

	mu              sync.Mutex
	log             zerolog.Logger
	streamSID       string
	latestTS        int64
	responseStartTS int64
	responseActive  bool
	lastItem        string
	callID          string
	actualCallSID   string
	objectives      []string
	objectivesSent  bool
	seenKeys        map[string]bool

	teardownOnce sync.Once
	startedAt    time.Time
}

// New creates a bridge for one media connection. handle is the routing
// token from the stream path: a record-keeper call id for dialed calls, a
// provider call-leg id otherwise.
func New(deps Deps, conn MediaConn, handle string) *Bridge {
	return &Bridge{
		deps:      deps,
		handle:    handle,
		conn:      conn,
		lifecycle: NewLifecycle(),
		log:       logging.WithCall("", handle),
		seenKeys:  map[string]bool{handle: true},
	}
}

// Run drives the call to completion. It returns once both legs are down
// and teardown has finished; the error reports setup failures only, a call
// that went active always ends with nil.
func (b *Bridge) Run(ctx context.Context) error {
	if p, ok := b.deps.Registry.Pending(b.handle); ok {
		b.objectives = p.InitialObjectives
	}

	session, err := b.deps.Connector.OpenSession(ctx, b.objectives)
	if err != nil {
		b.lifecycle.Fail()
		b.deps.Metrics.RecordCallFailed()
		b.logger().Error().Err(err).Msg("Failed to open speech backend session")
		b.markFailed(ctx)
		// markFailed resolves through the pending entry, so it is purged
		// only afterwards; a call that never goes active has no teardown
		// pass to clean it up.
		b.deps.Registry.DeletePending(b.handle)
		b.conn.Close()
		return err
	}
	b.session = session
	b.deps.Registry.Register(b.handle, session)

	if callID, err := b.deps.Resolver.Resolve(ctx, b.handle); err != nil {
		b.logger().Warn().Err(err).Msg("Identity resolution failed, continuing without record keeper")
	} else if callID != "" {
		b.setCallID(callID)
		b.markInProgress(ctx, callID)
		b.sendObjectivesOnce(ctx)
	}

	b.lifecycle.Activate()
	b.startedAt = time.Now()
	b.deps.Metrics.RecordCallStart()
	b.logger().Info().Msg("Bridge active")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.telephonyLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.backendLoop(ctx)
	}()
	wg.Wait()

	b.teardown()
	return nil
}

// telephonyLoop reads frames from the media stream and forwards audio to
// the backend. On exit it closes the backend session so the peer loop
// unblocks within bounded time.
func (b *Bridge) telephonyLoop(ctx context.Context) {
	defer func() {
		b.lifecycle.Drain()
		b.session.Close()
	}()

	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			b.logger().Info().Err(err).Msg("Telephony stream closed")
			return
		}
		frame, err := DecodeInbound(raw)
		if err != nil {
			b.logger().Warn().Err(err).Msg("Dropping undecodable telephony frame")
			continue
		}

		switch frame.Event {
		case FrameConnected:
			b.onConnected(ctx, frame)
		case FrameStart:
			b.onStart(frame)
		case FrameMedia:
			if !b.onMedia(frame) {
				return
			}
		case FrameStop:
			b.logger().Info().Msg("Media stream stopped, ending call")
			return
		default:
			b.logger().Debug().Str("event", frame.Event).Msg("Ignoring unknown telephony frame")
		}
	}
}

// onConnected handles the connected frame, which carries the authoritative
// provider call-leg id. The session is rekeyed from the routing handle to
// that id so the admin side-channel finds it either way.
func (b *Bridge) onConnected(ctx context.Context, frame *InboundFrame) {
	sid := frame.ConnectedCallSID()
	if sid == "" {
		return
	}

	b.mu.Lock()
	b.actualCallSID = sid
	b.seenKeys[sid] = true
	needsRekey := sid != b.handle
	haveCallID := b.callID != ""
	noObjectives := len(b.objectives) == 0
	b.mu.Unlock()

	b.setLog(logging.WithCall(b.getCallID(), sid))
	b.logger().Info().Msg("Media stream connected")

	if needsRekey {
		b.deps.Registry.Rekey(b.handle, sid)
		b.deps.Registry.AttachTransportSID(b.handle, sid)
	}

	if noObjectives {
		if p, ok := b.deps.Registry.Pending(sid); ok && len(p.InitialObjectives) > 0 {
			b.mu.Lock()
			b.objectives = p.InitialObjectives
			b.mu.Unlock()
		}
	}

	if !haveCallID {
		callID, err := b.deps.Resolver.Resolve(ctx, sid)
		if err != nil {
			b.logger().Warn().Err(err).Msg("Identity resolution failed on connected frame")
			return
		}
		if callID == "" {
			return
		}
		b.setCallID(callID)
		b.setLog(logging.WithCall(callID, sid))
		if err := b.deps.Store.UpdateCallRecord(ctx, callID, sid, models.StatusInProgress); err != nil {
			b.logger().Warn().Err(err).Msg("Failed to attach provider call leg to record")
		}
		b.markInProgress(ctx, callID)
	}
	b.sendObjectivesOnce(ctx)
}

func (b *Bridge) onStart(frame *InboundFrame) {
	if frame.Start == nil || frame.Start.StreamSID == "" {
		b.logger().Warn().Msg("Start frame without stream token")
		return
	}
	b.mu.Lock()
	b.streamSID = frame.Start.StreamSID
	b.mu.Unlock()
	b.logger().Info().Str("streamSid", frame.Start.StreamSID).Msg("Media stream started")
}

// onMedia forwards one caller audio frame. Returns false when the backend
// connection is gone and the loop should exit.
func (b *Bridge) onMedia(frame *InboundFrame) bool {
	if frame.Media == nil {
		return true
	}
	b.mu.Lock()
	b.latestTS = frame.Media.Timestamp
	b.mu.Unlock()

	if err := b.session.AppendAudio(frame.Media.Payload); err != nil {
		b.logger().Info().Err(err).Msg("Backend session gone while forwarding audio")
		return false
	}
	b.deps.Metrics.RecordFrameForwarded("inbound", len(frame.Media.Payload))
	return true
}

// backendLoop reads backend events: audio back to the caller, interruption
// handling, transcripts out to the record keeper. On exit it closes the
// telephony connection so the peer loop unblocks within bounded time.
func (b *Bridge) backendLoop(ctx context.Context) {
	defer func() {
		b.lifecycle.Drain()
		b.conn.Close()
	}()

	for {
		ev, err := b.session.Recv()
		if err != nil {
			if errors.Is(err, realtime.ErrMalformedEvent) {
				b.logger().Warn().Err(err).Msg("Dropping undecodable backend event")
				continue
			}
			b.logger().Info().Err(err).Msg("Backend session closed")
			return
		}

		switch ev.Type {
		case realtime.EventTypeResponseAudioDelta:
			if !b.onAudioDelta(ev) {
				return
			}
		case realtime.EventTypeInputAudioBufferSpeechStarted:
			b.onSpeechStarted()
		case realtime.EventTypeConversationItemInputAudioTranscriptionCompleted:
			b.recordTranscript(ctx, ev.Transcript, models.SpeakerCaller)
		case realtime.EventTypeResponseAudioTranscriptDone:
			b.recordTranscript(ctx, ev.Transcript, models.SpeakerAI)
		case realtime.EventTypeResponseTextDone:
			b.recordTranscript(ctx, ev.Text, models.SpeakerAI)
		case realtime.EventTypeError:
			if ev.Error != nil {
				b.logger().Warn().Str("code", ev.Error.Code).Str("message", ev.Error.Message).Msg("Backend reported error")
			}
		}
	}
}

// onAudioDelta relays one chunk of assistant audio to the caller. Returns
// false when the telephony connection is gone.
func (b *Bridge) onAudioDelta(ev *realtime.ServerEvent) bool {
	if ev.Delta == "" {
		b.logger().Warn().Msg("Backend sent audio delta with no payload")
		return true
	}

	b.mu.Lock()
	streamSID := b.streamSID
	if !b.responseActive {
		b.responseStartTS = b.latestTS
		b.responseActive = true
	}
	if ev.ItemID != "" {
		b.lastItem = ev.ItemID
	}
	b.mu.Unlock()

	if streamSID == "" {
		// Audio can only be addressed once the start frame delivered the
		// stream token.
		b.logger().Warn().Msg("Dropping backend audio before stream token")
		b.deps.Metrics.RecordFrameDropped("no_stream_token")
		return true
	}

	if err := b.conn.WriteJSON(NewOutboundMedia(streamSID, ev.Delta)); err != nil {
		b.logger().Info().Err(err).Msg("Telephony stream gone while forwarding audio")
		return false
	}
	b.deps.Metrics.RecordFrameForwarded("outbound", len(ev.Delta))
	return true
}

// onSpeechStarted handles a caller interruption: truncate the assistant's
// in-flight item at the amount of audio the caller actually heard, then
// tell the telephony side to flush its buffer.
func (b *Bridge) onSpeechStarted() {
	b.mu.Lock()
	lastItem := b.lastItem
	responseActive := b.responseActive
	elapsed := b.latestTS - b.responseStartTS
	streamSID := b.streamSID
	b.lastItem = ""
	b.responseActive = false
	b.mu.Unlock()

	if lastItem != "" && responseActive {
		if elapsed < 0 {
			elapsed = 0
		}
		if err := b.session.TruncateItem(lastItem, 0, int(elapsed)); err != nil {
			b.logger().Warn().Err(err).Msg("Failed to truncate interrupted response")
		}
	}

	if streamSID != "" {
		if err := b.conn.WriteJSON(NewClearFrame(streamSID)); err != nil {
			b.logger().Info().Err(err).Msg("Telephony stream closed; cannot send clear frame")
		}
	}
	b.deps.Metrics.RecordBargeIn()
}

// recordTranscript forwards one completed line of speech to the record
// keeper and the event topics.
func (b *Bridge) recordTranscript(ctx context.Context, text, speaker string) {
	text = strings.TrimSpace(text)
	callID := b.getCallID()
	if text == "" || callID == "" {
		return
	}
	if err := b.deps.Store.AppendTranscript(ctx, callID, text, speaker); err != nil {
		b.logger().Warn().Err(err).Str("speaker", speaker).Msg("Failed to append transcript")
	}
	if err := b.deps.Events.PublishTranscript(ctx, callID, speaker, text); err != nil {
		b.logger().Warn().Err(err).Msg("Failed to publish transcript event")
	}
	b.deps.Metrics.RecordTranscript(speaker)
}

// sendObjectivesOnce records the call's initial objectives as admin
// transcript lines, skipping any that already exist on the record so
// reconnects do not duplicate them.
func (b *Bridge) sendObjectivesOnce(ctx context.Context) {
	b.mu.Lock()
	callID := b.callID
	objectives := b.objectives
	sent := b.objectivesSent
	if callID != "" && len(objectives) > 0 && !sent {
		b.objectivesSent = true
		sent = false
	} else {
		sent = true
	}
	b.mu.Unlock()
	if sent {
		return
	}

	var existing []models.TranscriptEntry
	if details, err := b.deps.Store.FetchCallDetails(ctx, callID); err == nil && details != nil {
		existing = details.Metadata.Transcripts
	}

	for _, obj := range objectives {
		obj = strings.TrimSpace(obj)
		if obj == "" {
			continue
		}
		duplicate := false
		for _, t := range existing {
			if t.Speaker == models.SpeakerAdmin && strings.TrimSpace(t.Text) == obj {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		if err := b.deps.Store.AppendTranscript(ctx, callID, obj, models.SpeakerAdmin); err != nil {
			b.logger().Warn().Err(err).Msg("Failed to record call objective")
		}
	}
}

// markInProgress flips the record to IN_PROGRESS with the answer time.
func (b *Bridge) markInProgress(ctx context.Context, callID string) {
	if err := b.deps.Store.UpdateStatus(ctx, callID, models.StatusInProgress, time.Now().UnixMilli(), 0); err != nil {
		b.logger().Warn().Err(err).Msg("Failed to mark call in progress")
	}
}

// markFailed records a call whose backend session never came up.
func (b *Bridge) markFailed(ctx context.Context) {
	callID, err := b.deps.Resolver.Resolve(ctx, b.handle)
	if err != nil || callID == "" {
		return
	}
	if err := b.deps.Store.UpdateStatus(ctx, callID, models.StatusFailed, 0, 0); err != nil {
		b.logger().Warn().Err(err).Msg("Failed to mark call failed")
	}
	if err := b.deps.Events.PublishStatus(ctx, callID, models.StatusFailed, 0); err != nil {
		b.logger().Warn().Err(err).Msg("Failed to publish failure event")
	}
}

// setLog swaps the per-call logger once richer identifiers are known. The
// logger is read from both loops, so it travels under the same lock as the
// rest of the shared call state.
func (b *Bridge) setLog(l zerolog.Logger) {
	b.mu.Lock()
	b.log = l
	b.mu.Unlock()
}

func (b *Bridge) logger() *zerolog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.log
	return &l
}

func (b *Bridge) setCallID(callID string) {
	b.mu.Lock()
	b.callID = callID
	b.mu.Unlock()
}

func (b *Bridge) getCallID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callID
}

// teardown runs exactly once after both loops have exited: registry
// cleanup, final transcript compilation, terminal status, session close.
// Each substep is independently guarded so one failure cannot skip the
// rest.
func (b *Bridge) teardown() {
	b.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		b.mu.Lock()
		callID := b.callID
		cleanupSID := b.actualCallSID
		if cleanupSID == "" {
			cleanupSID = b.handle
		}
		keys := make([]string, 0, len(b.seenKeys))
		for k := range b.seenKeys {
			keys = append(keys, k)
		}
		b.mu.Unlock()

		b.logger().Info().Msg("Call ended, tearing down bridge")

		// Agent legs fold back onto an original call leg; clean both.
		originalSID := cleanupSID
		if orig, ok := b.deps.Registry.AgentLeg(cleanupSID); ok {
			originalSID = orig
			b.deps.Registry.DeleteAgentLeg(cleanupSID)
		}
		for _, agentSID := range b.deps.Registry.AgentLegsFor(originalSID) {
			b.deps.Registry.DeleteAgentLeg(agentSID)
		}
		b.deps.Registry.DeletePending(originalSID)
		for _, key := range keys {
			b.deps.Registry.DeletePending(key)
			b.deps.Registry.Deregister(key)
		}

		duration := int64(time.Since(b.startedAt).Seconds())
		if callID != "" {
			b.compileFinalTranscript(ctx, callID)
			if err := b.deps.Store.UpdateStatus(ctx, callID, models.StatusCompleted, 0, time.Now().UnixMilli()); err != nil {
				b.logger().Warn().Err(err).Msg("Failed to mark call completed")
			}
			if err := b.deps.Events.PublishStatus(ctx, callID, models.StatusCompleted, duration); err != nil {
				b.logger().Warn().Err(err).Msg("Failed to publish completion event")
			}
		}

		b.session.Close()
		b.lifecycle.Close()
		b.deps.Metrics.RecordCallEnd(float64(duration))
	})
}

// compileFinalTranscript folds the per-line transcripts stored on the call
// record into one readable document, objectives first.
func (b *Bridge) compileFinalTranscript(ctx context.Context, callID string) {
	details, err := b.deps.Store.FetchCallDetails(ctx, callID)
	if err != nil || details == nil {
		if err != nil {
			b.logger().Warn().Err(err).Msg("Failed to fetch call details for final transcript")
		}
		return
	}
	transcripts := details.Metadata.Transcripts
	if len(transcripts) == 0 {
		return
	}

	compiled := models.CompileTranscript(details.Metadata.InitialPrompts, transcripts)
	err = b.deps.Store.UpdateMetadata(ctx, callID, map[string]interface{}{
		"finalTranscription": compiled,
		"transcriptCount":    len(transcripts),
	})
	if err != nil {
		b.logger().Warn().Err(err).Msg("Failed to store final transcription")
	}
}
