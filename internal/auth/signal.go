// Package auth exposes whether the Home Assistant token is currently
// accepted as a subscribe/unsubscribe boolean signal.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source produces signed-in values until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, emit func(signedIn bool))
}

// Signal fans a [Source] out to subscribers. The source runs only while at
// least one subscriber is attached: the first Subscribe starts it and the
// last unsubscribe stops it. Subscribers receive distinct values only.
type Signal struct {
	src Source
	log *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(bool)
	nextID  int
	cancel  context.CancelFunc
	stopped chan struct{}
	current bool
	known   bool
}

// NewSignal creates a Signal over src.
func NewSignal(src Source, logger *slog.Logger) *Signal {
	return &Signal{src: src, log: logger, subs: make(map[int]func(bool))}
}

// Subscribe registers fn and returns a func that removes it. If a value is
// already known, fn receives it immediately.
func (s *Signal) Subscribe(fn func(signedIn bool)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	if len(s.subs) == 1 {
		s.start()
	}
	current, known := s.current, s.known
	s.mu.Unlock()

	if known {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

// Current returns the last value and whether one has been observed.
func (s *Signal) Current() (signedIn, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.known
}

// Active reports whether the source is running.
func (s *Signal) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// start must be called with mu held.
func (s *Signal) start() {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	s.cancel, s.stopped = cancel, stopped
	s.log.Debug("auth signal active")
	go func() {
		defer close(stopped)
		s.src.Run(ctx, func(v bool) { s.publish(ctx, v) })
	}()
}

func (s *Signal) remove(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	if len(s.subs) > 0 || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.known = false
	s.mu.Unlock()

	cancel()
	<-stopped
	s.log.Debug("auth signal inactive")
}

func (s *Signal) publish(ctx context.Context, v bool) {
	s.mu.Lock()
	// Drop values from a source run that has since been stopped.
	if ctx.Err() != nil || (s.known && s.current == v) {
		s.mu.Unlock()
		return
	}
	s.current, s.known = v, true
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.log.Info("auth state changed", "signed_in", v)
	for _, fn := range subs {
		fn(v)
	}
}

// Pinger checks the token against Home Assistant. Implemented by
// [homeassistant.Adapter].
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeSource reports signed-in while Ping succeeds, probing immediately and
// then every interval.
type ProbeSource struct {
	pinger   Pinger
	interval time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
}

// NewProbeSource creates a ProbeSource.
func NewProbeSource(p Pinger, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *ProbeSource {
	return &ProbeSource{pinger: p, interval: interval, clock: clock, log: logger}
}

// Run implements [Source].
func (p *ProbeSource) Run(ctx context.Context, emit func(bool)) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx, emit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.probe(ctx, emit)
		}
	}
}

func (p *ProbeSource) probe(ctx context.Context, emit func(bool)) {
	err := p.pinger.Ping(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.log.Warn("Home Assistant token check failed", "error", err)
	}
	emit(err == nil)
}
