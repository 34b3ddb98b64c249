package wakeup

import (
	"context"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeySignal carries wake-ups through a Valkey list so that ingestion and
// the worker pool can live in different processes. Losing a notification is
// harmless: the pool polls on a timer as well.
type ValkeySignal struct {
	client      valkey.Client
	key         string
	ch          chan struct{}
	stop        chan struct{}
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewValkeySignal constructs the signal and starts its consumer loop.
func NewValkeySignal(client valkey.Client, key string, logger *slog.Logger) *ValkeySignal {
	if key == "" {
		key = "trainbase:wake"
	}
	s := &ValkeySignal{
		client:      client,
		key:         key,
		ch:          make(chan struct{}, 1),
		stop:        make(chan struct{}),
		pollTimeout: 5 * time.Second,
		logger:      logger.With("component", "wakeup.valkey"),
	}
	go s.consume()
	return s
}

// Notify pushes a wake-up token onto the list.
func (s *ValkeySignal) Notify(ctx context.Context) error {
	cmd := s.client.B().Lpush().Key(s.key).Element("1").Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *ValkeySignal) C() <-chan struct{} {
	return s.ch
}

// Close stops the consumer loop.
func (s *ValkeySignal) Close() {
	close(s.stop)
}

func (s *ValkeySignal) consume() {
	ctx := context.Background()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		resp := s.client.Do(ctx, s.client.B().Brpop().Key(s.key).Timeout(s.pollTimeout.Seconds()).Build())
		if err := resp.Error(); err != nil {
			if !valkey.IsValkeyNil(err) {
				s.logger.Warn("wake-up pop failed", "error", err)
			}
			continue
		}
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

var _ Signal = (*ValkeySignal)(nil)
