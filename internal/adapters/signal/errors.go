package signal

import (
	"errors"
	"net/http"

	"github.com/dkeye/voicelink/internal/domain"
)

var ErrClosed = errors.New("signal connection closed")

// ServerError converts an error frame into a classified error.
func ServerError(op string, m Message) error {
	text := m.Error
	if text == "" {
		text = m.Code
	}
	err := errors.New(text)
	switch m.Code {
	case CodeUnauthorized, CodeTokenExpired, CodeInvalidToken:
		return domain.NewError(op, domain.ErrAuth, err)
	case CodeRoomNotFound:
		// The room may not be created yet; worth another attempt.
		return domain.NewError(op, domain.ErrNetwork, err)
	case CodeRoomFull, CodeKicked, CodeBadRequest:
		return domain.NewError(op, domain.ErrProtocol, err)
	}
	return domain.NewError(op, domain.ErrProtocol, err)
}

// handshakeError classifies a failed websocket dial by the HTTP status of the upgrade response.
func handshakeError(err error, resp *http.Response) error {
	if resp == nil {
		return domain.NewError("signal dial", domain.ErrNetwork, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewError("signal dial", domain.ErrAuth, err)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500:
		return domain.NewError("signal dial", domain.ErrNetwork, err)
	}
	return domain.NewError("signal dial", domain.ErrProtocol, err)
}
