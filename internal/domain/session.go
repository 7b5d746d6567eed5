package domain

import "time"

type (
	RoomName  string
	SessionID string
)

type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// Live reports whether a network session exists or is being established.
func (s ConnectionStatus) Live() bool {
	return s == StatusConnecting || s == StatusConnected || s == StatusReconnecting
}

// Session is one connection of a local identity to a room.
type Session struct {
	ID        SessionID        `json:"id"`
	Room      RoomName         `json:"room"`
	Identity  Identity         `json:"identity"`
	Status    ConnectionStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}
