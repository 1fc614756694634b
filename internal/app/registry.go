package app

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/lem-onair/lemonair-streaming/internal/core"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrStreamExists is returned when a live stream already holds the name.
// The first publisher keeps it.
var ErrStreamExists = errors.New("stream already published")

// Registry owns the live streams, one per name.
type Registry struct {
	mu      sync.RWMutex
	streams map[domain.StreamName]core.Stream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[domain.StreamName]core.Stream)}
}

func (r *Registry) AddStream(s core.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[s.Name()]; ok {
		log.Warn().Str("module", "app.registry").Str("stream", string(s.Name())).Msg("stream name taken")
		return ErrStreamExists
	}
	r.streams[s.Name()] = s
	log.Info().Str("module", "app.registry").Str("stream", string(s.Name())).Int("streams", len(r.streams)).Msg("stream added")
	return nil
}

func (r *Registry) GetStream(name domain.StreamName) (core.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[name]
	return s, ok
}

// DeleteStream removes whatever stream holds name.
func (r *Registry) DeleteStream(name domain.StreamName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[name]; !ok {
		return false
	}
	delete(r.streams, name)
	log.Info().Str("module", "app.registry").Str("stream", string(name)).Int("streams", len(r.streams)).Msg("stream deleted")
	return true
}

// Release removes s only if it still holds its name, so a late teardown
// cannot remove the stream that replaced it.
func (r *Registry) Release(s core.Stream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.streams[s.Name()]
	if !ok || cur != s {
		return false
	}
	delete(r.streams, s.Name())
	log.Info().Str("module", "app.registry").Str("stream", string(s.Name())).Int("streams", len(r.streams)).Msg("stream released")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// List returns stream views ordered by name.
func (r *Registry) List() []core.StreamInfo {
	r.mu.RLock()
	streams := make([]core.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	out := make([]core.StreamInfo, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Info())
	}
	slices.SortFunc(out, func(a, b core.StreamInfo) int {
		return strings.Compare(string(a.Name), string(b.Name))
	})
	return out
}
