package storage

import (
	"encoding/json"
	"errors"

	"github.com/MrEthical07/goIdentity/model"
)

const snapshotVersionV1 = 1

// ErrSnapshotVersion reports an encoded snapshot with an unknown layout.
var ErrSnapshotVersion = errors.New("storage: unsupported snapshot version")

// EncodeSnapshot serializes c as a version byte followed by JSON.
func EncodeSnapshot(c *model.Client) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, snapshotVersionV1)
	return append(out, body...), nil
}

// DecodeSnapshot parses data produced by EncodeSnapshot and validates the
// result.
func DecodeSnapshot(data []byte) (*model.Client, error) {
	if len(data) == 0 || data[0] != snapshotVersionV1 {
		return nil, ErrSnapshotVersion
	}
	var c model.Client
	if err := json.Unmarshal(data[1:], &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
