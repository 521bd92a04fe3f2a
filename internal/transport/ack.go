package transport

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	AckModeLegacy = "legacy"
	AckModeStatus = "status"

	SuccessMarker = "success"
)

// Acknowledger decides whether a worker reply accepts the command.
type Acknowledger interface {
	Accepted(response []byte) bool
}

// SubstringAck accepts any reply containing the marker. Replies that merely
// echo the marker, for example inside a target, are misread as acceptance.
type SubstringAck struct {
	Marker string
}

func (a SubstringAck) Accepted(response []byte) bool {
	return bytes.Contains(response, []byte(a.Marker))
}

// StatusAck expects the first line of the reply to be "OK" or "ERR <reason>".
type StatusAck struct{}

func (StatusAck) Accepted(response []byte) bool {
	line, _, _ := bytes.Cut(response, []byte("\n"))
	return string(bytes.TrimSpace(line)) == "OK"
}

func NewAcknowledger(mode string) (Acknowledger, error) {
	switch strings.ToLower(mode) {
	case "", AckModeLegacy:
		return SubstringAck{SuccessMarker}, nil
	case AckModeStatus:
		return StatusAck{}, nil
	default:
		return nil, fmt.Errorf("unknown acknowledgement mode %q", mode)
	}
}
