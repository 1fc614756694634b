package core

import (
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/lem-onair/lemonair-streaming/internal/amf"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// streamImpl is a threadsafe in-memory stream.
// It never closes the publisher connection; that belongs to its controller.
type streamImpl struct {
	meta      *domain.Stream
	publisher Conn
	logger    zerolog.Logger

	metadata atomic.Pointer[amf.Object]
	videoSeq atomic.Pointer[message.Message]
	audioSeq atomic.Pointer[message.Message]
	closed   atomic.Bool

	mu   sync.RWMutex
	subs map[domain.ConnID]*subscriber
}

func NewStream(meta *domain.Stream, publisher Conn) Stream {
	return &streamImpl{
		meta:      meta,
		publisher: publisher,
		subs:      make(map[domain.ConnID]*subscriber),
		logger: log.With().
			Str("module", "core.stream").
			Str("stream", string(meta.Name)).
			Logger(),
	}
}

func (s *streamImpl) Meta() *domain.Stream    { return s.meta }
func (s *streamImpl) Name() domain.StreamName { return s.meta.Name }
func (s *streamImpl) Publisher() Conn         { return s.publisher }
func (s *streamImpl) Closed() bool            { return s.closed.Load() }

func (s *streamImpl) SetMetadata(obj *amf.Object) {
	if obj == nil {
		s.metadata.Store(nil)
		return
	}
	md := obj.Clone()
	md.Delete("filesize")
	s.metadata.Store(md)
}

func (s *streamImpl) Metadata() *amf.Object {
	return s.metadata.Load().Clone()
}

func (s *streamImpl) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *streamImpl) AddSubscriber(conn Conn, streamID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	if _, ok := s.subs[conn.ID()]; ok {
		return false
	}
	for _, seq := range []*message.Message{s.videoSeq.Load(), s.audioSeq.Load()} {
		if seq == nil {
			continue
		}
		if err := conn.TrySend(message.Forward(*seq, streamID)); err != nil {
			s.logger.Warn().Err(err).Str("conn", string(conn.ID())).Msg("sequence header not delivered")
			return false
		}
	}
	s.subs[conn.ID()] = newSubscriber(conn, streamID, SubscriberStateWaitKeyframe)
	s.logger.Info().Str("conn", string(conn.ID())).Int("subscribers", len(s.subs)).Msg("subscriber added")
	return true
}

func (s *streamImpl) RemoveSubscriber(id domain.ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return false
	}
	sub.MarkDelete()
	delete(s.subs, id)
	s.logger.Info().Str("conn", string(id)).Int("subscribers", len(s.subs)).Msg("subscriber removed")
	return true
}

func (s *streamImpl) AddMedia(m message.Message) PublishResult {
	res := PublishResult{}
	if s.closed.Load() {
		return res
	}

	seqHeader := false
	switch m.Type {
	case message.TypeVideo:
		if message.IsVideoSequenceHeader(m.Payload) {
			seqHeader = true
			s.videoSeq.Store(&m)
		}
	case message.TypeAudio:
		if message.IsAACSequenceHeader(m.Payload) {
			seqHeader = true
			s.audioSeq.Store(&m)
		}
	}

	s.mu.RLock()
	snapshot := make(map[domain.ConnID]*subscriber, len(s.subs))
	maps.Copy(snapshot, s.subs)
	s.mu.RUnlock()

	dirty := make([]domain.ConnID, 0)
	for id, sub := range snapshot {
		switch sub.State() {
		case SubscriberStateDelete:
			dirty = append(dirty, id)
			continue
		case SubscriberStateWaitKeyframe:
			if m.Type == message.TypeVideo && !seqHeader {
				if !message.IsKeyFrame(m.Payload) {
					continue
				}
				sub.MarkOk()
			}
		}
		err := sub.conn.TrySend(message.Forward(m, sub.streamID))
		switch {
		case err == nil:
			res.SentTo++
		case errors.Is(err, ErrBackpressure):
			res.Dropped = append(res.Dropped, sub.conn)
		default:
			s.logger.Debug().Err(err).Str("conn", string(id)).Msg("subscriber gone, marking as delete")
			sub.MarkDelete()
			dirty = append(dirty, id)
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		s.cleanupDeleted(dirty)
	}
	return res
}

func (s *streamImpl) cleanupDeleted(dirty []domain.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range dirty {
		if sub, ok := s.subs[id]; ok && sub.State() == SubscriberStateDelete {
			delete(s.subs, id)
		}
	}
}

func (s *streamImpl) CloseStream() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[domain.ConnID]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.MarkDelete()
		// Best effort: a full queue just means the player learns from the close.
		_ = sub.conn.TrySend(message.UserControlEvent(message.EventStreamEOF, sub.streamID))
		notify := message.OnStatus(message.LevelStatus, "NetStream.Play.UnpublishNotify", string(s.meta.Name)+" is now unpublished.")
		notify.StreamID = sub.streamID
		_ = sub.conn.TrySend(notify)
		sub.conn.Close()
	}
	s.logger.Info().Int("subscribers", len(subs)).Msg("stream closed")
	return true
}

func (s *streamImpl) Info() StreamInfo {
	info := StreamInfo{
		Name:        s.meta.Name,
		Subscribers: s.SubscriberCount(),
		StartedAt:   s.meta.StartedAt,
		HasMetadata: s.metadata.Load() != nil,
	}
	if s.publisher != nil {
		info.Publisher = s.publisher.RemoteAddr()
	}
	return info
}
