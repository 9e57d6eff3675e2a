package session

import (
	"fmt"
	"net/url"
)

// TransportError reports a channel-level failure: the duplex connection
// could not be opened or closed unexpectedly. It ends the active session and
// is never retried automatically.
//
// Use errors.As(err, &transportErr) to distinguish transport failures from
// remote-reported errors (*RemoteError).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RemoteError is an error control message from the far end, surfaced
// verbatim. The session continues unless the remote side also closes the
// transport.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("remote error: %s", e.Message)
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
