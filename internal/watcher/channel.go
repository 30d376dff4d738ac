package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
	"github.com/contextfs/contextfs/pkg/utils"
)

// ChannelSource is a ChangeSource fed by the caller. It suits embedders that
// already receive change notifications (an IPC server, an editor plugin) and
// tests.
type ChannelSource struct {
	mu      sync.Mutex
	events  chan types.ChangeEvent
	started bool
	stopped bool
}

// NewChannelSource creates a channel-fed change source with the given buffer.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSource{events: make(chan types.ChangeEvent, buffer)}
}

// Start implements ChangeSource.
func (s *ChannelSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "source already started").
			WithComponent("watcher")
	}
	s.started = true
	return nil
}

// Events implements ChangeSource.
func (s *ChannelSource) Events() <-chan types.ChangeEvent {
	return s.events
}

// Stop implements ChangeSource and closes the event channel.
func (s *ChannelSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	return nil
}

// Post delivers one event. Events posted after Stop are dropped.
func (s *ChannelSource) Post(kind types.ChangeKind, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.events <- types.ChangeEvent{
		Kind:      kind,
		Path:      utils.MustNormalize(path),
		Timestamp: time.Now(),
	}
	return true
}
