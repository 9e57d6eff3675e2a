package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vocalis-ai/voicelive/pkg/protocol"
	"github.com/vocalis-ai/voicelive/pkg/usage"
)

// AudioSink receives synthesized audio for buffered playback. The engine
// only appends and signals; popping and clearing belong to the pipeline.
type AudioSink interface {
	Enqueue(pcm []byte)
	Stop()
	Close()
}

// AvatarPath is the optional peer-connection upgrade. Begin starts
// negotiation when the session is established; ConsumeBinary reports whether
// the media path took an inbound audio frame (false routes it to buffered
// playback).
type AvatarPath interface {
	Begin(servers []protocol.IceServer)
	CompleteAnswer(sdp string)
	ConsumeBinary(pcm []byte) bool
	Close()
}

// wsConn is the subset of *websocket.Conn the engine needs; tests inject a
// fake through Dependencies.Dial.
type wsConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// DialFunc opens the duplex channel.
type DialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

// Dependencies wire an Engine. Config and Playback are required; everything
// else has a usable default.
type Dependencies struct {
	Config    Config
	Logger    *slog.Logger
	Ledger    *usage.Ledger
	Durations *usage.DurationAccumulator
	Playback  AudioSink
	// Capture is closed on Disconnect so teardown releases the microphone.
	Capture io.Closer
	Avatar  AvatarPath
	Sinks   Sinks
	Metrics *Metrics
	// Dial overrides the websocket dialer (tests).
	Dial DialFunc
	// Probe overrides the reachability HTTP client (tests).
	Probe *http.Client
}

// Engine is the session protocol engine. All inbound processing happens on
// one read goroutine; outbound writes are serialized by a write mutex.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	ledger    *usage.Ledger
	durations *usage.DurationAccumulator
	playback  AudioSink
	capture   io.Closer
	avatar    AvatarPath
	sinks     Sinks
	metrics   *Metrics
	dial      DialFunc
	probe     *http.Client

	writeMu sync.Mutex

	mu            sync.Mutex
	conn          wsConn
	status        Status
	sess          *Session
	current       *Response
	iceServers    []protocol.IceServer
	everConnected bool
	lastRole      protocol.Role
	lastText      string
	readDone      chan struct{}
}

// NewEngine builds an engine from deps.
func NewEngine(deps Dependencies) (*Engine, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Playback == nil {
		return nil, fmt.Errorf("playback sink is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ledger == nil {
		deps.Ledger = usage.NewLedger(nil, deps.Logger)
	}
	if deps.Durations == nil {
		deps.Durations = &usage.DurationAccumulator{}
	}
	if deps.Dial == nil {
		deps.Dial = gorillaDial
	}
	if deps.Probe == nil {
		deps.Probe = http.DefaultClient
	}
	return &Engine{
		cfg:       deps.Config,
		logger:    deps.Logger,
		ledger:    deps.Ledger,
		durations: deps.Durations,
		playback:  deps.Playback,
		capture:   deps.Capture,
		avatar:    deps.Avatar,
		sinks:     deps.Sinks,
		metrics:   deps.Metrics,
		dial:      deps.Dial,
		probe:     deps.Probe,
		status:    StatusDisconnected,
	}, nil
}

func gorillaDial(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Current returns a snapshot of the negotiated session, if any.
func (e *Engine) Current() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return Session{}, false
	}
	snapshot := *e.sess
	snapshot.Status = e.status
	return snapshot, true
}

// Ledger exposes the usage ledger for display and persistence.
func (e *Engine) Ledger() *usage.Ledger {
	return e.ledger
}

// Durations exposes the audio duration accumulator.
func (e *Engine) Durations() *usage.DurationAccumulator {
	return e.durations
}

// NotifyLevel forwards a local energy reading to the level sink. The
// capture pipeline calls it per block.
func (e *Engine) NotifyLevel(level float64, role protocol.Role) {
	e.sinks.level(level, role)
}

// Connect opens the duplex channel. It resolves once the transport
// handshake completes and fails with a *TransportError otherwise. Session
// restart after a failure is a user action; the engine never redials on its
// own.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusDisconnected {
		e.mu.Unlock()
		return fmt.Errorf("connect: session is %s", e.status)
	}
	e.status = StatusConnecting
	e.mu.Unlock()
	e.sinks.status("Connecting", StatusConnecting)

	wsURL, err := websocketURL(e.cfg.Endpoint)
	if err != nil {
		e.setDisconnected()
		return &TransportError{Op: "dial", URL: e.cfg.Endpoint, Err: err}
	}

	if err := e.checkReachable(ctx); err != nil {
		e.setDisconnected()
		return err
	}

	header := make(http.Header)
	if e.cfg.Credential != "" {
		header.Set("Authorization", "Bearer "+e.cfg.Credential)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, e.connectTimeout())
		defer cancel()
	}

	conn, err := e.dial(dialCtx, wsURL, header)
	if err != nil {
		e.setDisconnected()
		return &TransportError{Op: "dial", URL: wsURL, Err: err}
	}

	e.mu.Lock()
	if e.everConnected && e.cfg.ResetUsageOnReconnect {
		e.ledger.Reset()
		e.durations.Reset()
	}
	e.everConnected = true
	e.conn = conn
	e.status = StatusConnected
	e.readDone = make(chan struct{})
	done := e.readDone
	e.mu.Unlock()

	e.metrics.sessionStart()
	e.sinks.status("Connected", StatusConnected)
	go e.readLoop(conn, done)
	return nil
}

func (e *Engine) connectTimeout() time.Duration {
	if e.cfg.ConnectTimeout > 0 {
		return e.cfg.ConnectTimeout
	}
	return 15 * time.Second
}

// checkReachable probes the endpoint over HTTP with a fixed timeout so an
// unreachable host fails fast instead of hanging in the websocket dial.
func (e *Engine) checkReachable(ctx context.Context) error {
	timeout := e.cfg.ReachabilityTimeout
	if timeout <= 0 {
		return nil
	}
	target, err := probeURL(e.cfg.Endpoint)
	if err != nil {
		return &TransportError{Op: "probe", URL: e.cfg.Endpoint, Err: err}
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, target, nil)
	if err != nil {
		return &TransportError{Op: "probe", URL: target, Err: err}
	}
	resp, err := e.probe.Do(req)
	if err != nil {
		return &TransportError{Op: "probe", URL: target, Err: err}
	}
	_ = resp.Body.Close()
	// Any HTTP response means the host answers; status codes are expected
	// since the endpoint speaks websocket, not plain GET/HEAD.
	return nil
}

// setDisconnected rolls back a failed connect attempt and tells the status
// sink, so collaborators never keep showing a stale connecting label.
func (e *Engine) setDisconnected() {
	e.mu.Lock()
	e.status = StatusDisconnected
	e.mu.Unlock()
	e.sinks.status("Disconnected", StatusDisconnected)
}

// SendConfig serializes and transmits the session configuration. No-op
// unless the channel is open.
func (e *Engine) SendConfig() {
	msg := protocol.Config{
		WelcomeMessage: e.cfg.WelcomeMessage,
		VoiceModel:     e.cfg.Model,
		Voice:          e.cfg.Voice,
		Instructions:   e.cfg.Instructions,
		Locale:         e.cfg.Locale,
	}
	e.writeControlMessage(msg)
}

// SendText transmits a free-text message.
func (e *Engine) SendText(text string) {
	e.writeControlMessage(protocol.TextMessage{Text: text})
}

// SendStop asks the remote side to end its turn. Advisory: the transport
// stays open.
func (e *Engine) SendStop() {
	e.writeControlMessage(protocol.StopMessage{})
}

// SendAvatarOffer transmits the local SDP offer on behalf of the avatar
// path.
func (e *Engine) SendAvatarOffer(sdp string) {
	e.writeControlMessage(protocol.AvatarConnect{SdpOffer: sdp})
}

// SendAudio transmits one binary PCM frame while the channel is open and
// silently drops it otherwise. Audio is perishable; there is no queueing.
func (e *Engine) SendAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	e.mu.Lock()
	conn := e.conn
	open := e.status == StatusConnected || e.status == StatusSpeaking
	rate := e.cfg.InputSampleRateHz
	e.mu.Unlock()
	if !open || conn == nil {
		return
	}

	e.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, pcm)
	e.writeMu.Unlock()
	if err != nil {
		e.logger.Warn("audio frame dropped", "err", err)
		return
	}
	e.metrics.frame("out", "binary")
	e.metrics.audioBytes("out", len(pcm))
	e.durations.AddInputBytes(int64(len(pcm)), rate)
}

func (e *Engine) writeControlMessage(msg protocol.Message) {
	e.mu.Lock()
	conn := e.conn
	open := e.status == StatusConnected || e.status == StatusSpeaking
	e.mu.Unlock()
	if !open || conn == nil {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		e.logger.Warn("control message not encodable", "err", err)
		return
	}
	e.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	e.writeMu.Unlock()
	if err != nil {
		e.logger.Warn("control message dropped", "err", err)
		return
	}
	e.metrics.frame("out", "control")
}

// Disconnect closes the transport and tears down capture and playback.
// Idempotent: calling it on an already-closed session does nothing.
func (e *Engine) Disconnect() {
	e.teardown("closed", nil)
}

func (e *Engine) teardown(reason string, cause error) {
	e.mu.Lock()
	if e.status == StatusDisconnected && e.conn == nil {
		e.mu.Unlock()
		return
	}
	conn := e.conn
	e.conn = nil
	e.status = StatusDisconnected
	e.current = nil
	if e.sess != nil {
		e.sess.Status = StatusDisconnected
	}
	done := e.readDone
	e.readDone = nil
	e.mu.Unlock()

	if conn != nil {
		deadline := e.cfg.WriteTimeout
		if deadline <= 0 {
			deadline = 2 * time.Second
		}
		e.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(deadline))
		e.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	e.playback.Stop()
	if e.capture != nil {
		_ = e.capture.Close()
	}
	if e.avatar != nil {
		e.avatar.Close()
	}

	e.metrics.sessionEnd(reason)
	if cause != nil {
		e.sinks.status(cause.Error(), StatusDisconnected)
	} else {
		e.sinks.status("Disconnected", StatusDisconnected)
	}
}

func (e *Engine) readLoop(conn wsConn, done chan struct{}) {
	defer close(done)

	var transportErr error
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				transportErr = err
			}
			break
		}
		switch messageType {
		case websocket.BinaryMessage:
			e.handleBinary(data)
		case websocket.TextMessage:
			e.handleText(data)
		default:
			// Ping/pong and fragments are handled by the transport.
		}
	}

	// The read loop owns detection of channel close; teardown must not wait
	// on itself.
	e.mu.Lock()
	stillActive := e.conn == conn
	if stillActive {
		e.readDone = nil
	}
	e.mu.Unlock()
	if !stillActive {
		return
	}

	if transportErr != nil {
		err := &TransportError{Op: "read", URL: e.cfg.Endpoint, Err: transportErr}
		e.logger.Error("duplex channel failed", "err", transportErr)
		e.teardown("transport_error", err)
		return
	}
	e.teardown("remote_close", nil)
}

func (e *Engine) handleBinary(data []byte) {
	e.metrics.frame("in", "binary")
	e.metrics.audioBytes("in", len(data))
	if e.avatar != nil && e.avatar.ConsumeBinary(data) {
		return
	}
	e.playback.Enqueue(data)
}

func (e *Engine) handleText(data []byte) {
	if len(strings.TrimSpace(string(data))) == 0 {
		e.metrics.parseError()
		e.logger.Warn("empty text frame dropped")
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		// Parse errors are recovered locally: drop, count, log, never fatal.
		e.metrics.parseError()
		e.logger.Warn("malformed control frame dropped", "err", err)
		return
	}
	e.metrics.frame("in", "control")

	switch m := msg.(type) {
	case protocol.Transcription:
		e.handleTranscription(m)
	case protocol.SessionEvent:
		e.handleSessionEvent(m)
	case protocol.StopAudio:
		e.playback.Stop()
		e.transition(StatusSpeaking, StatusConnected, "Listening")
	case protocol.ErrorMessage:
		remoteErr := &RemoteError{Message: m.Message}
		e.logger.Warn("remote error", "message", m.Message)
		e.sinks.trace(protocol.RoleAgent, protocol.TypeError, m.Message)
		e.sinks.status(remoteErr.Error(), e.Status())
	case protocol.IceServers:
		e.mu.Lock()
		e.iceServers = m.Servers
		haveSession := e.sess != nil
		e.mu.Unlock()
		if haveSession {
			e.beginAvatar()
		}
	case protocol.SdpAnswer:
		if e.avatar != nil {
			e.avatar.CompleteAnswer(m.Sdp)
		}
	case protocol.Unknown:
		e.logger.Warn("unrecognized control message ignored", "type", m.Type)
	default:
		// Outbound-only variants echoed back; nothing to do.
		e.logger.Warn("unexpected inbound control message", "type", fmt.Sprintf("%T", msg))
	}
}

// handleTranscription forwards text to the transcript sink, suppressing
// near-duplicates: services often re-emit the most recent utterance with the
// same prefix while finalizing. Best effort only.
func (e *Engine) handleTranscription(m protocol.Transcription) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	e.mu.Lock()
	duplicate := m.Role == e.lastRole && e.lastText != "" &&
		(text == e.lastText || strings.HasPrefix(e.lastText, text))
	if !duplicate {
		e.lastRole = m.Role
		e.lastText = text
	}
	e.mu.Unlock()
	if duplicate {
		return
	}
	e.sinks.transcript(m.Role, text)
}

func (e *Engine) handleSessionEvent(ev protocol.SessionEvent) {
	e.sinks.trace(protocol.RoleAgent, ev.Event, json.RawMessage(ev.Payload))

	switch ev.Event {
	case protocol.EventSessionCreated:
		e.mu.Lock()
		sess := &Session{Status: StatusConnected, Model: e.cfg.Model}
		applySessionPayload(sess, ev.Payload, time.Now())
		e.sess = sess
		e.mu.Unlock()
		e.sinks.status("Session ready", StatusConnected)
		e.beginAvatar()
	case protocol.EventSessionUpdated:
		e.mu.Lock()
		if e.sess != nil {
			applySessionPayload(e.sess, ev.Payload, time.Now())
		}
		e.mu.Unlock()
	case protocol.EventSessionDisconnected:
		// Detached: teardown joins the read loop, which is this goroutine.
		go e.teardown("remote_close", nil)
	case protocol.EventResponseCreated:
		payload := parseResponsePayload(ev.Payload)
		e.mu.Lock()
		e.current = &Response{ID: payload.ID, Status: ResponseInProgress}
		e.mu.Unlock()
	case protocol.EventResponseDone:
		e.finishResponse(ev.Payload)
	case protocol.EventSpeechStarted:
		e.transition(StatusConnected, StatusSpeaking, "Speaking")
	case protocol.EventSpeechStopped:
		e.transition(StatusSpeaking, StatusConnected, "Listening")
	case protocol.EventAudioDelta:
		e.transition(StatusConnected, StatusSpeaking, "Speaking")
		if n := audioDeltaBytes(ev.Payload); n > 0 {
			e.durations.AddOutputBytes(n, e.outputSampleRate())
		}
	case protocol.EventAudioDone:
		// Playback drains on its own; response.done carries the accounting.
	case protocol.EventAudioTimestamp:
		if offset, duration, ok := timestampDelta(ev.Payload); ok {
			e.durations.ObserveTimestamp(offset, duration)
		}
	case protocol.EventRateLimitsUpdated:
		// Trace only.
	case protocol.EventError:
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(ev.Payload, &payload)
		if payload.Message != "" {
			e.sinks.status((&RemoteError{Message: payload.Message}).Error(), e.Status())
		}
	default:
		e.logger.Debug("unhandled session event", "event", ev.Event)
	}
}

// finishResponse finalizes usage accounting exactly once, at response.done.
// Partial updates mid-response are never exposed.
func (e *Engine) finishResponse(payload json.RawMessage) {
	parsed := parseResponsePayload(payload)

	e.mu.Lock()
	model := e.cfg.Model
	if e.sess != nil && e.sess.Model != "" {
		model = e.sess.Model
	}
	if e.current != nil {
		e.current.Status = ResponseCompleted
	}
	e.mu.Unlock()

	usageRaw := parsed.Usage
	if len(usageRaw) == 0 && len(payload) > 0 {
		// Some services inline usage fields at the top level.
		usageRaw = payload
	}
	if len(usageRaw) > 0 {
		e.ledger.RecordPayload(model, usageRaw)
	}
	e.durations.FinishResponse()
	e.transition(StatusSpeaking, StatusConnected, "Listening")
}

// transition moves from one status to another; any other current status
// makes the event a defensive no-op.
func (e *Engine) transition(from, to Status, label string) {
	e.mu.Lock()
	if e.status != from {
		e.mu.Unlock()
		return
	}
	e.status = to
	if e.sess != nil {
		e.sess.Status = to
	}
	e.mu.Unlock()
	e.sinks.status(label, to)
}

func (e *Engine) beginAvatar() {
	if e.avatar == nil || !e.cfg.AvatarEnabled {
		return
	}
	e.mu.Lock()
	servers := e.iceServers
	e.mu.Unlock()
	e.avatar.Begin(servers)
}

func (e *Engine) outputSampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil && e.sess.OutputSampleRate > 0 {
		return e.sess.OutputSampleRate
	}
	if e.cfg.OutputSampleRateHz > 0 {
		return e.cfg.OutputSampleRateHz
	}
	return 24000
}

func audioDeltaBytes(payload json.RawMessage) int64 {
	var fields struct {
		ByteLength int64 `json:"byte_length"`
		Bytes      int64 `json:"bytes"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0
	}
	if fields.ByteLength > 0 {
		return fields.ByteLength
	}
	return fields.Bytes
}

func timestampDelta(payload json.RawMessage) (offsetMS, durationMS int64, ok bool) {
	var fields struct {
		OffsetMS   *int64 `json:"offset_ms"`
		DurationMS *int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, 0, false
	}
	if fields.OffsetMS == nil && fields.DurationMS == nil {
		return 0, 0, false
	}
	if fields.OffsetMS != nil {
		offsetMS = *fields.OffsetMS
	}
	if fields.DurationMS != nil {
		durationMS = *fields.DurationMS
	}
	return offsetMS, durationMS, true
}
