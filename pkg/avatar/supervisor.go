// Package avatar manages the optional peer-connection upgrade of a voice
// session. Negotiation runs over the existing duplex channel (SDP offer out,
// answer and ICE servers in); media, once established, flows over WebRTC.
// Any failure falls back to buffered audio playback without disturbing the
// session.
package avatar

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vocalis-ai/voicelive/pkg/protocol"
)

// Path is the active media delivery route.
type Path string

const (
	// PathBuffered plays audio through the jitter-buffered pipeline.
	PathBuffered Path = "buffered"
	// PathPeerConnection renders media from WebRTC tracks.
	PathPeerConnection Path = "peer_connection"
)

// NegotiationFailure reports why the upgrade was abandoned. It is always
// recoverable: the session continues on the buffered path.
type NegotiationFailure struct {
	Stage string
	Err   error
}

func (e *NegotiationFailure) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("avatar negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *NegotiationFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Offerer carries the local SDP offer to the remote side. The session
// engine implements it.
type Offerer interface {
	SendAvatarOffer(sdp string)
}

// TrackSink receives depacketized media payloads from remote tracks.
type TrackSink func(kind string, payload []byte)

// Config wires a Supervisor.
type Config struct {
	Offerer Offerer
	Logger  *slog.Logger
	// GatherTimeout bounds ICE candidate gathering. Partial candidate sets
	// are sent rather than waiting indefinitely.
	GatherTimeout time.Duration
	// OnFallback fires once when negotiation is abandoned.
	OnFallback func(err error)
	// Tracks receives remote media; nil discards it.
	Tracks TrackSink
}

// Supervisor owns the peer connection lifecycle. It starts on the buffered
// path and switches to the peer connection only after the remote description
// is applied and the connection reports connected.
type Supervisor struct {
	offerer       Offerer
	logger        *slog.Logger
	gatherTimeout time.Duration
	onFallback    func(err error)
	tracks        TrackSink

	mu         sync.Mutex
	path       Path
	pc         *webrtc.PeerConnection
	negotiated bool
	fellBack   bool
	closed     bool
}

// New builds a Supervisor on the buffered path.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Offerer == nil {
		return nil, errors.New("avatar: offerer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 2 * time.Second
	}
	return &Supervisor{
		offerer:       cfg.Offerer,
		logger:        cfg.Logger,
		gatherTimeout: cfg.GatherTimeout,
		onFallback:    cfg.OnFallback,
		tracks:        cfg.Tracks,
		path:          PathBuffered,
	}, nil
}

// Path returns the current media route.
func (s *Supervisor) Path() Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// ConsumeBinary reports whether the peer connection path took an inbound
// channel audio frame. On the buffered path the caller keeps the frame.
// Media on the peer path arrives over WebRTC, so the duplicate channel
// frame is dropped here.
func (s *Supervisor) ConsumeBinary(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path == PathPeerConnection
}

// Begin starts negotiation with the given relay servers. Safe to call more
// than once; only the first call negotiates. It never blocks the caller.
func (s *Supervisor) Begin(servers []protocol.IceServer) {
	s.mu.Lock()
	if s.negotiated || s.closed {
		s.mu.Unlock()
		return
	}
	s.negotiated = true
	s.mu.Unlock()

	go func() {
		if err := s.negotiate(servers); err != nil {
			s.fallback(err)
		}
	}()
}

func (s *Supervisor) negotiate(servers []protocol.IceServer) error {
	cfg := webrtc.Configuration{}
	for _, server := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return &NegotiationFailure{Stage: "peer_connection", Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = pc.Close()
		return nil
	}
	s.pc = pc
	s.mu.Unlock()

	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(s.onConnectionState)

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return &NegotiationFailure{Stage: "transceiver", Err: err}
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return &NegotiationFailure{Stage: "offer", Err: err}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return &NegotiationFailure{Stage: "local_description", Err: err}
	}

	// A partial candidate set is fine; the deadline keeps a misbehaving
	// STUN server from stalling the session.
	select {
	case <-gathered:
	case <-time.After(s.gatherTimeout):
		s.logger.Debug("ice gathering deadline hit, sending partial offer")
	}

	local := pc.LocalDescription()
	if local == nil {
		return &NegotiationFailure{Stage: "local_description", Err: errors.New("no local description")}
	}
	s.offerer.SendAvatarOffer(local.SDP)
	return nil
}

// CompleteAnswer applies the remote description. A malformed answer
// abandons the upgrade.
func (s *Supervisor) CompleteAnswer(sdp string) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}
	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		s.fallback(&NegotiationFailure{Stage: "remote_description", Err: err})
	}
}

func (s *Supervisor) onConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if !s.closed {
			s.path = PathPeerConnection
		}
		s.mu.Unlock()
		s.logger.Info("avatar media path established")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		s.fallback(&NegotiationFailure{Stage: "transport", Err: fmt.Errorf("peer connection %s", state)})
	}
}

func (s *Supervisor) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := track.Kind().String()
	s.logger.Info("avatar track started", "kind", kind, "codec", track.Codec().MimeType)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("avatar track ended", "kind", kind, "err", err)
			}
			return
		}
		if s.tracks != nil && len(pkt.Payload) > 0 {
			s.tracks(kind, pkt.Payload)
		}
	}
}

// fallback abandons the upgrade and pins the buffered path. Fires the
// callback exactly once per negotiation, including when the peer connection
// could not be constructed at all.
func (s *Supervisor) fallback(err error) {
	s.mu.Lock()
	if s.closed || s.fellBack {
		s.mu.Unlock()
		return
	}
	s.fellBack = true
	pc := s.pc
	s.pc = nil
	s.path = PathBuffered
	s.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
	s.logger.Warn("avatar upgrade abandoned, continuing with buffered audio", "err", err)
	if s.onFallback != nil {
		s.onFallback(err)
	}
}

// Close releases the peer connection. Idempotent.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pc := s.pc
	s.pc = nil
	s.path = PathBuffered
	s.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}
