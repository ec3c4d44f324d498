package commsutil

import (
	"encoding/json"
	"errors"

	"github.com/morezero/guest-agent/pkg/dispatcher"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DecodeCommand decodes a `{"method": ..., "args": {...}}` request. Absent or null args
// become an empty map.
func DecodeCommand(data []byte) (*dispatcher.Command, error) {
	var cmd dispatcher.Command
	if err := DecodePayload(data, &cmd); err != nil {
		return nil, err
	}
	if cmd.Method == "" {
		return nil, errors.New("missing method")
	}
	if cmd.Args == nil {
		cmd.Args = map[string]any{}
	}
	return &cmd, nil
}

// EncodeResponse serializes a Response. A result that cannot be encoded is replaced by a
// failure describing the encoding error, so the caller still gets an answer.
func EncodeResponse(resp *dispatcher.Response) []byte {
	data, err := EncodePayload(resp)
	if err == nil {
		return data
	}
	msg := "failed to encode result: " + err.Error()
	data, _ = EncodePayload(&dispatcher.Response{Failure: &msg})
	return data
}
