package signal

// Message is the envelope for every signaling frame in both directions.
// Requests carry an ID; the server echoes it on the matching reply.
type Message struct {
	Type string `json:"type" msgpack:"type"`
	ID   string `json:"id,omitempty" msgpack:"id,omitempty"`

	Room        string `json:"room,omitempty" msgpack:"room,omitempty"`
	Identity    string `json:"identity,omitempty" msgpack:"identity,omitempty"`
	DisplayName string `json:"displayName,omitempty" msgpack:"displayName,omitempty"`

	SDP       string     `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty" msgpack:"candidate,omitempty"`

	Participant  *ParticipantInfo  `json:"participant,omitempty" msgpack:"participant,omitempty"`
	Participants []ParticipantInfo `json:"participants,omitempty" msgpack:"participants,omitempty"`
	Track        *TrackInfo        `json:"track,omitempty" msgpack:"track,omitempty"`
	Muted        bool              `json:"muted,omitempty" msgpack:"muted,omitempty"`

	Code  string `json:"code,omitempty" msgpack:"code,omitempty"`
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

type ParticipantInfo struct {
	Identity    string      `json:"identity" msgpack:"identity"`
	DisplayName string      `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
	Metadata    string      `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Tracks      []TrackInfo `json:"tracks,omitempty" msgpack:"tracks,omitempty"`
}

type TrackInfo struct {
	ID    string `json:"id" msgpack:"id"`
	Kind  string `json:"kind" msgpack:"kind"`
	Muted bool   `json:"muted,omitempty" msgpack:"muted,omitempty"`
}

type Candidate struct {
	Candidate     string  `json:"candidate" msgpack:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
}

// Client to server.
const (
	TypeJoin      = "join"
	TypeOffer     = "offer"
	TypeCandidate = "candidate"
	TypePublish   = "publish"
	TypeUnpublish = "unpublish"
	TypeLeave     = "leave"
	TypePing      = "ping"
)

// Server to client.
const (
	TypeJoined             = "joined"
	TypeAnswer             = "answer"
	TypeAck                = "ack"
	TypeParticipantJoined  = "participant_joined"
	TypeParticipantLeft    = "participant_left"
	TypeParticipantUpdated = "participant_updated"
	TypeTrackPublished     = "track_published"
	TypeTrackUnpublished   = "track_unpublished"
	TypeTrackMuted         = "track_muted"
	TypeError              = "error"
	TypePong               = "pong"
)

// Error codes sent by the server in TypeError messages.
const (
	CodeUnauthorized = "unauthorized"
	CodeTokenExpired = "token_expired"
	CodeInvalidToken = "invalid_token"
	CodeRoomNotFound = "room_not_found"
	CodeRoomFull     = "room_full"
	CodeKicked       = "kicked"
	CodeBadRequest   = "bad_request"
)
