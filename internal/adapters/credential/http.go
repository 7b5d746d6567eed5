// Package credential fetches short-lived session credentials from the token service.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 64 * 1024
)

var (
	ErrEmptyToken     = errors.New("credential service returned no token")
	ErrMalformedToken = errors.New("malformed token")
	ErrMissingRoom    = errors.New("room is required")
	ErrMissingIdent   = errors.New("identity is required")
)

type Options struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

type tokenRequest struct {
	Room         string              `json:"room"`
	Identity     string              `json:"identity"`
	Role         string              `json:"role"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

type tokenResponse struct {
	Token         string `json:"token"`
	ServerAddress string `json:"serverAddress"`
	Room          string `json:"room"`
	AllowPublish  *bool  `json:"allowPublish"`
}

// HTTPFetcher asks the credential service for one token per call. It never retries.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{url: strings.TrimRight(opts.URL, "/"), client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req domain.CredentialRequest) (domain.Credential, error) {
	const op = "fetch credential"
	if strings.TrimSpace(string(req.Room)) == "" {
		return domain.Credential{}, domain.NewError(op, domain.ErrProtocol, ErrMissingRoom)
	}
	if strings.TrimSpace(string(req.Identity)) == "" {
		return domain.Credential{}, domain.NewError(op, domain.ErrProtocol, ErrMissingIdent)
	}

	body, err := json.Marshal(tokenRequest{
		Room:         string(req.Room),
		Identity:     string(req.Identity),
		Role:         string(req.Role),
		Capabilities: req.Capabilities,
	})
	if err != nil {
		return domain.Credential{}, domain.NewError(op, domain.ErrProtocol, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return domain.Credential{}, domain.NewError(op, domain.ErrProtocol, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return domain.Credential{}, ctx.Err()
		}
		return domain.Credential{}, domain.NewError(op, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return domain.Credential{}, domain.NewError(op, domain.ErrNetwork, err)
	}
	if kind := statusKind(resp.StatusCode); kind != nil {
		log.Warn().Str("module", "credential").Int("status", resp.StatusCode).Msg("credential request rejected")
		return domain.Credential{}, domain.NewError(op, kind, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var out tokenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.Credential{}, domain.NewError(op, domain.ErrProtocol, fmt.Errorf("decode response: %w", err))
	}
	return toCredential(req, out)
}

func statusKind(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrAuth
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return domain.ErrNetwork
	}
	return domain.ErrProtocol
}

func toCredential(req domain.CredentialRequest, out tokenResponse) (domain.Credential, error) {
	const op = "fetch credential"
	token := domain.Sanitize(out.Token)
	if token == "" {
		return domain.Credential{}, domain.NewError(op, domain.ErrAuth, ErrEmptyToken)
	}
	if strings.ContainsFunc(token, func(r rune) bool { return r <= ' ' || r == 0x7f }) {
		return domain.Credential{}, domain.NewError(op, domain.ErrAuth, ErrMalformedToken)
	}

	cred := domain.Credential{
		Token:         token,
		ServerAddress: domain.Sanitize(out.ServerAddress),
		Room:          req.Room,
		Capabilities:  req.Capabilities,
	}
	if room := domain.Sanitize(out.Room); room != "" {
		cred.Room = domain.RoomName(room)
	}
	if out.AllowPublish != nil {
		cred.Capabilities.CanPublish = req.Capabilities.CanPublish && *out.AllowPublish
	}
	return cred, nil
}
