package ota

import (
	"encoding/json"
	"fmt"
)

// BlockMessage is the wire form of one file block delivered by the data
// plane. Payload is base64 in the JSON encoding.
type BlockMessage struct {
	FileID     uint32 `json:"f"`
	BlockIndex uint32 `json:"i"`
	BlockSize  int64  `json:"l"`
	Payload    []byte `json:"p"`
}

// Marshal encodes the block message for transport.
func (m *BlockMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBlockMessage decodes a block message. Decoded payloads larger
// than maxPayload are rejected.
func UnmarshalBlockMessage(data []byte, maxPayload int) (*BlockMessage, error) {
	var m BlockMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode block message: %w", err)
	}
	if len(m.Payload) > maxPayload {
		return nil, fmt.Errorf("block payload %d exceeds decode buffer %d", len(m.Payload), maxPayload)
	}
	if int64(len(m.Payload)) != m.BlockSize {
		return nil, fmt.Errorf("block payload length %d does not match declared size %d", len(m.Payload), m.BlockSize)
	}
	return &m, nil
}
