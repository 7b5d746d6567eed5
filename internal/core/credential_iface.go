package core

import (
	"context"

	"github.com/dkeye/voicelink/internal/domain"
)

// CredentialFetcher exchanges a room/identity/capability request for a short-lived credential.
// It never retries on its own; failures are classified as domain.ErrAuth or domain.ErrNetwork.
type CredentialFetcher interface {
	Fetch(ctx context.Context, req domain.CredentialRequest) (domain.Credential, error)
}

// StaticCredential returns a caller-supplied credential and bypasses the credential service.
type StaticCredential domain.Credential

func (s StaticCredential) Fetch(context.Context, domain.CredentialRequest) (domain.Credential, error) {
	return domain.Credential(s), nil
}
