package session

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls one session engine instance.
type Config struct {
	// Endpoint is the duplex channel URL (ws:// or wss://; http(s) schemes
	// are rewritten).
	Endpoint string
	// Credential is the bearer credential sent on dial, if any.
	Credential string

	Model          string
	Voice          string
	Instructions   string
	Locale         string
	WelcomeMessage string

	InputSampleRateHz  int
	OutputSampleRateHz int

	// ResetUsageOnReconnect clears the ledger when a new session connects.
	// Default false: usage is cumulative until an explicit history clear.
	ResetUsageOnReconnect bool

	// AvatarEnabled turns on the peer-connection upgrade path.
	AvatarEnabled bool

	ConnectTimeout      time.Duration
	ReachabilityTimeout time.Duration
	WriteTimeout        time.Duration

	PricingURL string
}

// LoadFromEnv builds a Config from VOICELIVE_* environment variables.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:              os.Getenv("VOICELIVE_ENDPOINT"),
		Credential:            os.Getenv("VOICELIVE_CREDENTIAL"),
		Model:                 envOr("VOICELIVE_MODEL", "gpt-4o-realtime-preview"),
		Voice:                 envOr("VOICELIVE_VOICE", "alloy"),
		Instructions:          os.Getenv("VOICELIVE_INSTRUCTIONS"),
		Locale:                envOr("VOICELIVE_LOCALE", "en-US"),
		WelcomeMessage:        os.Getenv("VOICELIVE_WELCOME"),
		InputSampleRateHz:     envIntOr("VOICELIVE_INPUT_SAMPLE_RATE", 24000),
		OutputSampleRateHz:    envIntOr("VOICELIVE_OUTPUT_SAMPLE_RATE", 24000),
		ResetUsageOnReconnect: envBoolOr("VOICELIVE_RESET_USAGE_ON_RECONNECT", false),
		AvatarEnabled:         envBoolOr("VOICELIVE_AVATAR", false),
		ConnectTimeout:        envDurationOr("VOICELIVE_CONNECT_TIMEOUT", 15*time.Second),
		ReachabilityTimeout:   envDurationOr("VOICELIVE_REACHABILITY_TIMEOUT", 3*time.Second),
		WriteTimeout:          envDurationOr("VOICELIVE_WRITE_TIMEOUT", 5*time.Second),
		PricingURL:            os.Getenv("VOICELIVE_PRICING_URL"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields a session cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required (set VOICELIVE_ENDPOINT)")
	}
	if _, err := websocketURL(c.Endpoint); err != nil {
		return err
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// websocketURL normalizes an endpoint to a ws(s) scheme.
func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("endpoint must use http(s) or ws(s), got %q", u.Scheme)
	}
	return u.String(), nil
}

// probeURL is the http(s) form of the endpoint used for the reachability
// check before dialing.
func probeURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String(), nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
