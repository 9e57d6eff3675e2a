// Package protocol defines the duplex wire protocol for a voice session:
// JSON control messages interleaved with headerless binary PCM16 frames.
//
// Every control message carries a "type" discriminator. Decode maps each
// known discriminator onto exactly one variant struct; well-formed messages
// with an unrecognized discriminator decode to Unknown so callers can log
// and drop them in one place.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeConfig        = "session.config"
	TypeMessage       = "message"
	TypeStop          = "stop"
	TypeAvatarConnect = "avatar.connect"

	TypeTranscription = "transcription"
	TypeSessionEvent  = "event"
	TypeStopAudio     = "stop_audio"
	TypeError         = "error"
	TypeIceServers    = "ice_servers"
	TypeSdpAnswer     = "sdp_answer"
)

// Session event vocabulary. The set is open-ended: events outside this list
// still decode and are forwarded with their raw payload.
const (
	EventSessionCreated      = "session.created"
	EventSessionUpdated      = "session.updated"
	EventSessionDisconnected = "session.disconnected"
	EventResponseCreated     = "response.created"
	EventResponseDone        = "response.done"
	EventRateLimitsUpdated   = "rate_limits.updated"
	EventSpeechStarted       = "input_audio.speech_started"
	EventSpeechStopped       = "input_audio.speech_stopped"
	EventAudioDelta          = "response.audio.delta"
	EventAudioDone           = "response.audio.done"
	EventAudioTimestamp      = "response.audio_timestamp.delta"
	EventError               = "error"
)

// Role identifies which side of the conversation produced a transcript or
// audio signal.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// DecodeError reports a malformed control frame. It is recoverable by
// design: callers drop the frame and keep the session alive.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// Message is a decoded control message. Exactly one variant implements it
// per discriminator.
type Message interface {
	messageType() string
}

// Config is the outbound session configuration message.
type Config struct {
	Type           string `json:"type"`
	WelcomeMessage string `json:"welcome_message,omitempty"`
	VoiceModel     string `json:"voice_model"`
	Voice          string `json:"voice,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	Locale         string `json:"locale,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	Credential     string `json:"credential,omitempty"`
}

func (Config) messageType() string { return TypeConfig }

// TextMessage is outbound free text from the user.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (TextMessage) messageType() string { return TypeMessage }

// StopMessage signals a user-initiated end of turn. It is advisory and does
// not close the transport.
type StopMessage struct {
	Type string `json:"type"`
}

func (StopMessage) messageType() string { return TypeStop }

// AvatarConnect carries the local SDP offer for the avatar upgrade path.
type AvatarConnect struct {
	Type     string `json:"type"`
	SdpOffer string `json:"sdp_offer"`
}

func (AvatarConnect) messageType() string { return TypeAvatarConnect }

// Transcription is inbound recognized or synthesized text.
type Transcription struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Role Role   `json:"role"`
}

func (Transcription) messageType() string { return TypeTranscription }

// SessionEvent is an inbound lifecycle event with an opaque payload.
type SessionEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (SessionEvent) messageType() string { return TypeSessionEvent }

// StopAudio tells the client to halt and discard buffered playback; the
// agent's turn was interrupted.
type StopAudio struct {
	Type string `json:"type"`
}

func (StopAudio) messageType() string { return TypeStopAudio }

// ErrorMessage is an error reported by the far end.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorMessage) messageType() string { return TypeError }

// IceServer is one STUN/TURN server entry for peer-connection negotiation.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// IceServers carries relay credentials for the avatar upgrade path.
type IceServers struct {
	Type    string      `json:"type"`
	Servers []IceServer `json:"servers"`
}

func (IceServers) messageType() string { return TypeIceServers }

// SdpAnswer is the remote description completing avatar negotiation.
type SdpAnswer struct {
	Type string `json:"type"`
	Sdp  string `json:"sdp"`
}

func (SdpAnswer) messageType() string { return TypeSdpAnswer }

// Unknown is a well-formed control message whose discriminator is not part
// of the closed variant set.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) messageType() string { return u.Type }

// Decode parses one inbound text frame. Malformed JSON or a missing
// discriminator yields a *DecodeError; an unrecognized discriminator yields
// Unknown, never an error.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("control frame missing type", "type")
	}

	switch typ {
	case TypeConfig:
		var msg Config
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid config frame", "")
		}
		return msg, nil
	case TypeMessage:
		var msg TextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid message frame", "")
		}
		return msg, nil
	case TypeStop:
		return StopMessage{Type: typ}, nil
	case TypeAvatarConnect:
		var msg AvatarConnect
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid avatar.connect frame", "")
		}
		return msg, nil
	case TypeTranscription:
		var msg Transcription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcription frame", "")
		}
		if msg.Role != RoleUser && msg.Role != RoleAgent {
			return nil, badFrame("transcription role must be user or agent", "role")
		}
		return msg, nil
	case TypeSessionEvent:
		var msg SessionEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid event frame", "")
		}
		if strings.TrimSpace(msg.Event) == "" {
			return nil, badFrame("event frame missing event name", "event")
		}
		return msg, nil
	case TypeStopAudio:
		return StopAudio{Type: typ}, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	case TypeIceServers:
		var msg IceServers
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid ice_servers frame", "")
		}
		return msg, nil
	case TypeSdpAnswer:
		var msg SdpAnswer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid sdp_answer frame", "")
		}
		return msg, nil
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// Encode serializes an outbound control message, stamping the discriminator
// so callers cannot send a variant under the wrong type tag.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Config:
		m.Type = TypeConfig
		return json.Marshal(m)
	case TextMessage:
		m.Type = TypeMessage
		return json.Marshal(m)
	case StopMessage:
		m.Type = TypeStop
		return json.Marshal(m)
	case AvatarConnect:
		m.Type = TypeAvatarConnect
		return json.Marshal(m)
	case nil:
		return nil, fmt.Errorf("encode nil control message")
	default:
		return nil, fmt.Errorf("control message type %q is not outbound", msg.messageType())
	}
}

// AudioFormat describes negotiated audio shape for one direction.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz,omitempty"`
}

// DefaultSampleRate returns the sample rate implied by an encoding name when
// the remote side does not negotiate one explicitly.
func DefaultSampleRate(encoding string) int {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "pcm_s16le_8k", "pcm16-8k", "g711_ulaw", "g711_alaw":
		return 8000
	default:
		return 24000
	}
}
