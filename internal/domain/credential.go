package domain

import "strings"

type Role string

const (
	RoleHost     Role = "host"
	RoleGuest    Role = "guest"
	RoleListener Role = "listener"
)

type Capabilities struct {
	CanPublish   bool `json:"canPublish"`
	CanSubscribe bool `json:"canSubscribe"`
}

// Credential is a short-lived, capability-scoped authorization for one connection attempt.
type Credential struct {
	Token         string
	ServerAddress string
	Room          RoomName
	Capabilities  Capabilities
}

// CredentialRequest is what the credential service is asked for.
type CredentialRequest struct {
	Room         RoomName
	Identity     Identity
	Role         Role
	Capabilities Capabilities
}

// Sanitize strips incidental whitespace and quoting around opaque credential strings.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}
