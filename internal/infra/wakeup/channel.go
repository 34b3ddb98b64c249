package wakeup

import (
	"context"

	"github.com/lumoqi/trainbase/internal/domain/training"
)

// Signal wakes the worker pool. Notifications coalesce: the pool drains all
// pending work per wake-up, so one buffered slot is enough.
type Signal interface {
	training.Notifier
	// C delivers wake-ups to the pool's dispatch loop.
	C() <-chan struct{}
	Close()
}

// ChannelSignal is the in-process signal used when no Valkey is configured.
type ChannelSignal struct {
	ch chan struct{}
}

// NewChannelSignal constructs the signal.
func NewChannelSignal() *ChannelSignal {
	return &ChannelSignal{ch: make(chan struct{}, 1)}
}

// Notify never blocks; a wake-up already in flight covers this one.
func (s *ChannelSignal) Notify(_ context.Context) error {
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

func (s *ChannelSignal) C() <-chan struct{} {
	return s.ch
}

func (s *ChannelSignal) Close() {}

var _ Signal = (*ChannelSignal)(nil)
