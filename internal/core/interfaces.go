package core

import (
	"errors"
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/amf"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/message"
)

var (
	// ErrBackpressure means the connection send queue is full.
	ErrBackpressure = errors.New("send queue full")
	ErrConnClosed   = errors.New("connection closed")
)

// Conn abstracts one RTMP transport connection.
// Owned by the adapter; the core only sends through it and asks it to close.
type Conn interface {
	ID() domain.ConnID
	RemoteAddr() string
	// TrySend queues m without blocking.
	TrySend(m message.Message) error
	// Close flushes what is already queued, then closes.
	Close()
	// Disconnect drops the connection immediately.
	Disconnect()
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []Conn
}

// StreamInfo is a read-only view for APIs (no transport fields).
type StreamInfo struct {
	Name        domain.StreamName `json:"name"`
	Publisher   string            `json:"publisher"`
	Subscribers int               `json:"subscribers"`
	StartedAt   time.Time         `json:"started_at"`
	HasMetadata bool              `json:"has_metadata"`
}

// Stream is one live broadcast: a publisher, its subscribers and the state a
// late joiner needs.
type Stream interface {
	Meta() *domain.Stream
	Name() domain.StreamName
	Publisher() Conn

	// SetMetadata replaces the metadata, dropping the filesize key.
	SetMetadata(obj *amf.Object)
	// Metadata returns a copy of the current metadata or nil.
	Metadata() *amf.Object

	// AddSubscriber sends the cached sequence headers to conn and adds it.
	// It reports false when the stream is closed or conn is already subscribed.
	AddSubscriber(conn Conn, streamID uint32) bool
	RemoveSubscriber(id domain.ConnID) bool
	SubscriberCount() int

	// AddMedia forwards m to every subscriber without blocking.
	AddMedia(m message.Message) PublishResult

	// CloseStream notifies and closes every subscriber. Only the first call
	// has an effect.
	CloseStream() bool
	Closed() bool

	Info() StreamInfo
}
