package signal

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns messages into websocket frames.
type Codec interface {
	Name() string
	Marshal(m *Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
	// FrameType is the websocket message type the codec writes.
	FrameType() int
}

type JSONCodec struct{}

func (JSONCodec) Name() string                            { return "json" }
func (JSONCodec) Marshal(m *Message) ([]byte, error)      { return json.Marshal(m) }
func (JSONCodec) Unmarshal(data []byte, m *Message) error { return json.Unmarshal(data, m) }
func (JSONCodec) FrameType() int                          { return websocket.TextMessage }

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                            { return "msgpack" }
func (MsgpackCodec) Marshal(m *Message) ([]byte, error)      { return msgpack.Marshal(m) }
func (MsgpackCodec) Unmarshal(data []byte, m *Message) error { return msgpack.Unmarshal(data, m) }
func (MsgpackCodec) FrameType() int                          { return websocket.BinaryMessage }

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown signal codec %q", name)
}
