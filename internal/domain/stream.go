// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const MaxStreamNameLen = 128

var (
	ErrStreamNameEmpty   = errors.New("stream name empty")
	ErrStreamNameTooLong = errors.New("stream name too long")
)

// StreamName is the application name negotiated by "connect".
type StreamName string

// Stream is the identity of one live broadcast.
// Key is stored as supplied by the publisher and never validated here.
type Stream struct {
	Name      StreamName `json:"name"`
	Key       string     `json:"-"`
	StartedAt time.Time  `json:"started_at"`
}

// NewStream avoids raw literals in adapters and keeps the name rules in one place.
func NewStream(name StreamName, key string) (*Stream, error) {
	if err := ValidateStreamName(name); err != nil {
		return nil, err
	}
	return &Stream{Name: name, Key: key, StartedAt: time.Now()}, nil
}

func ValidateStreamName(name StreamName) error {
	if len(name) == 0 {
		return ErrStreamNameEmpty
	}
	if len(name) > MaxStreamNameLen {
		return ErrStreamNameTooLong
	}
	return nil
}
