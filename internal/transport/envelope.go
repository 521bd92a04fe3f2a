package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope is the message a worker receives: the shared token and one shell
// command, JSON encoded and then base64 encoded.
type Envelope struct {
	Token   string `json:"socket_token"`
	Command string `json:"command"`
}

func (e Envelope) Encode() ([]byte, error) {
	js, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed encoding envelope: %w", err)
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(js)))
	base64.StdEncoding.Encode(encoded, js)
	return encoded, nil
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	js := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(js, data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed decoding envelope: %w", err)
	}
	envelope := Envelope{}
	if err = json.Unmarshal(js[:n], &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed parsing envelope: %w", err)
	}
	return envelope, nil
}
