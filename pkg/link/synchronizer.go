package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

// DefaultOperationTimeout bounds a whole push or fetch, which may span several
// device requests.
const DefaultOperationTimeout = 30 * time.Second

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithHub publishes events to h instead of a private hub.
func WithHub(h *Hub) Option {
	return func(s *Synchronizer) {
		s.hub = h
	}
}

// WithOperationTimeout overrides DefaultOperationTimeout.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// seededFrom starts a synchronizer from the cached state of a previous one.
func seededFrom(v *view) Option {
	return func(s *Synchronizer) {
		s.snapshot = v.snapshot.Clone()
		s.state = v.state
		s.distance, s.hasDist = v.distance, v.hasDistance
		s.lastErr = v.lastError
	}
}

// view is the immutable copy of actor state readers see.
type view struct {
	snapshot    settings.Snapshot
	state       device.SyncState
	distance    int
	hasDistance bool
	lastError   string
	updatedAt   time.Time
}

type call struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Synchronizer owns the settings snapshot of one device link. All operations
// run on a single actor goroutine, so writes to one device never interleave
// while different links proceed independently.
type Synchronizer struct {
	link    device.Link
	client  Client
	hub     *Hub
	timeout time.Duration

	calls     chan call
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the actor goroutine.
	snapshot settings.Snapshot
	state    device.SyncState
	distance int
	hasDist  bool
	lastErr  string

	current atomic.Pointer[view]
}

// NewSynchronizer starts the actor for link. The snapshot starts empty and
// the state Disconnected until the first Refresh.
func NewSynchronizer(link device.Link, client Client, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		link:     link,
		client:   client,
		timeout:  DefaultOperationTimeout,
		calls:    make(chan call),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		snapshot: settings.Snapshot{},
		state:    device.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	s.publishView()

	go s.loop()
	return s
}

func (s *Synchronizer) loop() {
	defer close(s.done)
	for {
		select {
		case c := <-s.calls:
			c.fn(c.ctx)
			close(c.done)
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish.
func (s *Synchronizer) do(ctx context.Context, fn func(ctx context.Context)) error {
	c := call{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case s.calls <- c:
	case <-s.done:
		return device.ErrLinkClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for link: %v", device.ErrDeviceUnreachable, ctx.Err())
	}

	<-c.done
	return nil
}

// Link returns the link descriptor.
func (s *Synchronizer) Link() device.Link {
	return s.link
}

// Client returns the device transport.
func (s *Synchronizer) Client() Client {
	return s.client
}

// Snapshot returns a copy of the last confirmed settings.
func (s *Synchronizer) Snapshot() settings.Snapshot {
	return s.current.Load().snapshot.Clone()
}

// State returns the current sync state.
func (s *Synchronizer) State() device.SyncState {
	return s.current.Load().state
}

// Distance returns the last distance reading, if any.
func (s *Synchronizer) Distance() (int, bool) {
	v := s.current.Load()
	return v.distance, v.hasDistance
}

// Status returns the state, the last error message and when either changed.
func (s *Synchronizer) Status() (device.SyncState, string, time.Time) {
	v := s.current.Load()
	return v.state, v.lastError, v.updatedAt
}

// UpdateSettings validates raw and pushes it to the device. Validation is
// all-or-nothing: one bad field fails the whole call and nothing is pushed.
// On a push failure the snapshot is rolled back to its value before the call.
func (s *Synchronizer) UpdateSettings(ctx context.Context, raw map[string]any) (settings.Snapshot, error) {
	delta, err := settings.ValidateDelta(raw)
	if err != nil {
		return nil, err
	}
	if len(delta) == 0 {
		return s.Snapshot(), nil
	}

	var (
		result settings.Snapshot
		opErr  error
	)
	if err := s.do(ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		prev := s.snapshot
		s.snapshot = prev.Merge(delta)

		if err := s.client.Push(ctx, delta); err != nil {
			s.snapshot = prev
			opErr = classify(err)
			s.fail(opErr)
			log.Warn().Err(opErr).Str("link_id", s.link.ID).Strs("keys", delta.Keys()).Msg("Settings push failed, rolled back")
			return
		}

		s.succeed()
		result = s.snapshot.Clone()
		log.Info().Str("link_id", s.link.ID).Strs("keys", delta.Keys()).Msg("Settings updated")
		s.hub.Publish(Event{Type: EventSettingsChanged, LinkID: s.link.ID, State: s.state, Settings: result})
	}); err != nil {
		return nil, err
	}
	return result, opErr
}

// ApplySettings pushes the entire snapshot in a single Push. The snapshot is
// never modified. An empty snapshot has nothing to push and succeeds.
func (s *Synchronizer) ApplySettings(ctx context.Context) error {
	var opErr error
	if err := s.do(ctx, func(ctx context.Context) {
		if len(s.snapshot) == 0 {
			log.Debug().Str("link_id", s.link.ID).Msg("Nothing to apply, snapshot empty")
			return
		}

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		if err := s.client.Push(ctx, s.snapshot.Delta()); err != nil {
			opErr = classify(err)
			s.fail(opErr)
			log.Warn().Err(opErr).Str("link_id", s.link.ID).Msg("Apply settings failed")
			return
		}
		s.succeed()
		log.Info().Str("link_id", s.link.ID).Int("fields", len(s.snapshot)).Msg("Settings applied")
	}); err != nil {
		return err
	}
	return opErr
}

// Refresh replaces the snapshot with the device's settings. On failure the
// snapshot is kept and the error wraps device.ErrDeviceUnreachable.
func (s *Synchronizer) Refresh(ctx context.Context) (settings.Snapshot, error) {
	var (
		result settings.Snapshot
		opErr  error
	)
	if err := s.do(ctx, func(ctx context.Context) {
		if s.state == device.StateDisconnected {
			s.setState(device.StateSyncing)
		}

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		fetched, err := s.client.Fetch(ctx)
		if err != nil {
			opErr = unreachable(err)
			s.fail(opErr)
			log.Debug().Err(opErr).Str("link_id", s.link.ID).Msg("Settings refresh failed")
			return
		}

		changed := !fetched.Equal(s.snapshot)
		s.snapshot = fetched.Clone()
		s.succeed()
		result = s.snapshot.Clone()
		if changed {
			s.hub.Publish(Event{Type: EventSettingsChanged, LinkID: s.link.ID, State: s.state, Settings: result})
		}
	}); err != nil {
		return nil, err
	}
	return result, opErr
}

// PollDistance reads the live radar distance. Distance failures leave the
// settings state alone.
func (s *Synchronizer) PollDistance(ctx context.Context) (int, error) {
	var (
		result int
		opErr  error
	)
	if err := s.do(ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		d, err := s.client.Distance(ctx)
		if err != nil {
			opErr = unreachable(err)
			return
		}

		changed := !s.hasDist || d != s.distance
		s.distance, s.hasDist = d, true
		result = d
		s.publishView()
		if changed {
			s.hub.Publish(Event{Type: EventDistance, LinkID: s.link.ID, Distance: &d})
		}
	}); err != nil {
		return 0, err
	}
	return result, opErr
}

// Close stops the actor and discards the snapshot. Calls made afterwards fail
// with device.ErrLinkClosed.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		s.snapshot = settings.Snapshot{}
		s.state = device.StateDisconnected
		s.publishView()
	})
}

// fail records a failed operation. A link that has a snapshot becomes Stale;
// one that never synced stays Disconnected.
func (s *Synchronizer) fail(err error) {
	s.lastErr = err.Error()
	if len(s.snapshot) > 0 {
		s.setState(device.StateStale)
	} else {
		s.setState(device.StateDisconnected)
	}
}

func (s *Synchronizer) succeed() {
	s.lastErr = ""
	s.setState(device.StateSynced)
}

func (s *Synchronizer) setState(state device.SyncState) {
	prev := s.state
	s.state = state
	s.publishView()
	if prev != state {
		log.Debug().Str("link_id", s.link.ID).Str("from", string(prev)).Str("to", string(state)).Msg("Link state changed")
		s.hub.Publish(Event{Type: EventStateChanged, LinkID: s.link.ID, State: state, Error: s.lastErr})
	}
}

func (s *Synchronizer) publishView() {
	s.current.Store(&view{
		snapshot:    s.snapshot.Clone(),
		state:       s.state,
		distance:    s.distance,
		hasDistance: s.hasDist,
		lastError:   s.lastErr,
		updatedAt:   time.Now(),
	})
}

// classify keeps device.ErrDeviceRejected and device.ErrDeviceUnreachable as
// they are and reports anything else, timeouts included, as unreachable.
func classify(err error) error {
	if errors.Is(err, device.ErrDeviceRejected) {
		return err
	}
	return unreachable(err)
}

func unreachable(err error) error {
	if errors.Is(err, device.ErrDeviceUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %v", device.ErrDeviceUnreachable, err)
}
