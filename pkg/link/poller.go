package link

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultScanInterval matches how often the device is polled for settings and
// distance.
const DefaultScanInterval = 5 * time.Second

// Poller periodically refreshes every link's settings and distance. Each link
// has at most one poll in flight; a slow device never delays the others.
type Poller struct {
	manager  *Manager
	interval time.Duration
	limiter  *rate.Limiter

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a poller. rateLimitRPS caps how many link polls start per
// second across all links.
func NewPoller(manager *Manager, interval time.Duration, rateLimitRPS float64) *Poller {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if rateLimitRPS <= 0 {
		rateLimitRPS = 10.0
	}

	return &Poller{
		manager:  manager,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(rateLimitRPS), int(max(rateLimitRPS, 1))),
		inflight: make(map[string]struct{}),
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("Poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Info().Msg("Poller stopping")
			return nil
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll dispatches one poll per link that is not already being polled.
func (p *Poller) PollAll(ctx context.Context) {
	for _, s := range p.manager.List() {
		id := s.Link().ID

		p.mu.Lock()
		if _, busy := p.inflight[id]; busy {
			p.mu.Unlock()
			log.Debug().Str("link_id", id).Msg("Previous poll still running, skipping")
			continue
		}
		p.inflight[id] = struct{}{}
		p.mu.Unlock()

		if err := p.limiter.Wait(ctx); err != nil {
			p.release(id)
			return
		}

		p.wg.Add(1)
		go func(s *Synchronizer) {
			defer p.wg.Done()
			defer p.release(id)
			p.pollOne(ctx, s)
		}(s)
	}
}

// Wait blocks until every dispatched poll has finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) pollOne(ctx context.Context, s *Synchronizer) {
	id := s.Link().ID
	if _, err := s.Refresh(ctx); err != nil {
		log.Debug().Err(err).Str("link_id", id).Msg("Poll refresh failed")
	}
	if _, err := s.PollDistance(ctx); err != nil {
		log.Debug().Err(err).Str("link_id", id).Msg("Poll distance failed")
	}
}

func (p *Poller) release(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}
