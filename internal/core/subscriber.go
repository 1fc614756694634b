package core

import "sync/atomic"

type SubscriberState int32

const (
	SubscriberStateOk SubscriberState = iota
	// SubscriberStateWaitKeyframe holds back video until the next key frame.
	SubscriberStateWaitKeyframe
	SubscriberStateDelete
)

// subscriber is a single playback connection of a stream.
type subscriber struct {
	conn     Conn
	streamID uint32
	state    atomic.Int32
}

func newSubscriber(conn Conn, streamID uint32, state SubscriberState) *subscriber {
	s := &subscriber{conn: conn, streamID: streamID}
	s.state.Store(int32(state))
	return s
}

func (s *subscriber) State() SubscriberState {
	return SubscriberState(s.state.Load())
}

// MarkOk releases a subscriber waiting for a key frame. A deleted
// subscriber stays deleted.
func (s *subscriber) MarkOk() {
	s.state.CompareAndSwap(int32(SubscriberStateWaitKeyframe), int32(SubscriberStateOk))
}

func (s *subscriber) MarkDelete() {
	s.state.Store(int32(SubscriberStateDelete))
}
