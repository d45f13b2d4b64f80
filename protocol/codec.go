package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"

	"gridlink/core"
)

// api follows encoding/json semantics (sorted map keys, HTML escaping) so
// payloads are byte-compatible with the backend's expectations.
var api = sonic.ConfigStd

// Marshal encodes v as JSON.
func Marshal(v interface{}) ([]byte, error) {
	b, err := api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal decodes JSON into v.
func Unmarshal(data []byte, v interface{}) error {
	if err := api.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: unmarshal %T: %w", v, err)
	}
	return nil
}

// UnmarshalPayload decodes a raw JSON payload into a typed struct.
func UnmarshalPayload[T any](raw []byte) (T, error) {
	var v T
	err := Unmarshal(raw, &v)
	return v, err
}

// DecodeAgentEvent parses one SSE data payload. An event without a type is
// rejected; unknown types are returned as is.
func DecodeAgentEvent(data []byte) (core.AgentEvent, error) {
	var ev core.AgentEvent
	if err := api.Unmarshal(data, &ev); err != nil {
		return core.AgentEvent{}, fmt.Errorf("protocol: decode agent event: %w", err)
	}
	if ev.Type == "" {
		return core.AgentEvent{}, fmt.Errorf("protocol: agent event missing type field")
	}
	return ev, nil
}
