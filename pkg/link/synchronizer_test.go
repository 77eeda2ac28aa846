package link

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

func newSynced(t *testing.T, dev *fakeDevice, opts ...Option) *Synchronizer {
	t.Helper()
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev, opts...)
	t.Cleanup(s.Close)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	return s
}

func TestUpdateSettings_RejectsOutOfRange(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)
	before := s.Snapshot()

	_, err := s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 300})
	require.ErrorIs(t, err, device.ErrValidation)

	assert.Equal(t, before, s.Snapshot())
	assert.Zero(t, dev.pushCount())
	assert.Equal(t, device.StateSynced, s.State())
}

func TestUpdateSettings_AllOrNothing(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)
	before := s.Snapshot()

	_, err := s.UpdateSettings(context.Background(), map[string]any{
		settings.Brightness:   100,
		settings.LightModeKey: "Disco",
	})
	require.ErrorIs(t, err, device.ErrValidation)

	assert.True(t, before.Equal(s.Snapshot()))
	assert.Zero(t, dev.pushCount())
}

func TestUpdateSettings_LightModeOnEmptySnapshot(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	t.Cleanup(s.Close)

	snap, err := s.UpdateSettings(context.Background(), map[string]any{settings.LightModeKey: "Rainbow"})
	require.NoError(t, err)

	assert.Equal(t, settings.Snapshot{settings.LightModeKey: settings.LightModeRainbow}, snap)
	assert.Equal(t, settings.LightModeRainbow, s.Snapshot()[settings.LightModeKey])
	assert.Equal(t, settings.Delta{settings.LightModeKey: settings.LightModeRainbow}, dev.lastPush())
	assert.Equal(t, device.StateSynced, s.State())
}

func TestUpdateSettings_PushTimeoutRollsBack(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev, WithOperationTimeout(50*time.Millisecond))
	before := s.Snapshot()
	dev.pushErr = blockUntilDone

	_, err := s.UpdateSettings(context.Background(), map[string]any{settings.NumLEDs: 120})
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 300, s.Snapshot()[settings.NumLEDs])
	assert.Equal(t, device.StateStale, s.State())
}

func TestUpdateSettings_RejectedRollsBack(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)
	before := s.Snapshot()
	dev.pushErr = func(context.Context, settings.Delta) error {
		return &device.RejectedError{Endpoint: "/set", Status: 400, Body: "bad value"}
	}

	_, err := s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 10})
	require.ErrorIs(t, err, device.ErrDeviceRejected)

	var rej *device.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "bad value", rej.Body)
	assert.Equal(t, before, s.Snapshot())
}

func TestUpdateSettings_CommitsAndEmits(t *testing.T) {
	hub := NewHub()
	events := hub.Subscribe()
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev, WithHub(hub))
	drain(events)

	snap, err := s.UpdateSettings(context.Background(), map[string]any{
		settings.Brightness: 128,
		settings.RGBColor:   []any{10, 20, 30},
	})
	require.NoError(t, err)

	assert.Equal(t, 128, snap[settings.Brightness])
	assert.Equal(t, settings.RGB{10, 20, 30}, snap[settings.RGBColor])
	assert.Equal(t, settings.Delta{settings.Brightness: 128, settings.RGBColor: settings.RGB{10, 20, 30}}, dev.lastPush())

	ev := <-events
	assert.Equal(t, EventSettingsChanged, ev.Type)
	assert.Equal(t, "l1", ev.LinkID)
	assert.Equal(t, 128, ev.Settings[settings.Brightness])
}

func TestUpdateSettings_StaleRecoversToSynced(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)

	dev.pushErr = func(context.Context, settings.Delta) error { return errors.New("connection reset") }
	_, err := s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 10})
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)
	require.Equal(t, device.StateStale, s.State())

	dev.pushErr = nil
	_, err = s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 10})
	require.NoError(t, err)
	assert.Equal(t, device.StateSynced, s.State())
}

func TestUpdateSettings_WriteThenReadConsistency(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)

	updated, err := s.UpdateSettings(context.Background(), map[string]any{
		settings.MinDistance:   45,
		settings.PositionIGain: 0.0126,
		settings.LightModeKey:  "color wave",
	})
	require.NoError(t, err)

	refreshed, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, updated.Equal(refreshed), "updated %v, refreshed %v", updated, refreshed)
}

func TestApplySettings_SinglePushWithAllFields(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)

	require.NoError(t, s.ApplySettings(context.Background()))

	require.Equal(t, 1, dev.pushCount())
	push := dev.lastPush()
	assert.Len(t, push, len(settings.Parameters()))
	assert.Equal(t, s.Snapshot().Delta(), push)
}

func TestApplySettings_Idempotent(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)
	_, err := s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 42})
	require.NoError(t, err)

	// Simulate a device reset wiping the pushed value.
	dev.mu.Lock()
	dev.state = fullSnapshot()
	dev.mu.Unlock()

	require.NoError(t, s.ApplySettings(context.Background()))
	once := dev.deviceState()
	require.NoError(t, s.ApplySettings(context.Background()))
	twice := dev.deviceState()

	assert.Equal(t, once, twice)
	assert.Equal(t, 42, twice[settings.Brightness])
}

func TestApplySettings_EmptySnapshotIsNoop(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	t.Cleanup(s.Close)

	require.NoError(t, s.ApplySettings(context.Background()))
	assert.Zero(t, dev.pushCount())
	assert.Equal(t, device.StateDisconnected, s.State())
}

func TestApplySettings_FailureKeepsCache(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev, WithOperationTimeout(50*time.Millisecond))
	before := s.Snapshot()
	dev.pushErr = blockUntilDone

	err := s.ApplySettings(context.Background())
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, device.StateStale, s.State())
}

func TestRefresh_StateMachine(t *testing.T) {
	hub := NewHub()
	events := hub.Subscribe()
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev, WithHub(hub))
	t.Cleanup(s.Close)

	assert.Equal(t, device.StateDisconnected, s.State())
	assert.Empty(t, s.Snapshot())

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.StateSynced, s.State())

	var states []device.SyncState
	for _, ev := range drain(events) {
		if ev.Type == EventStateChanged {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []device.SyncState{device.StateSyncing, device.StateSynced}, states)
}

func TestRefresh_FailureKeepsCache(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := newSynced(t, dev)
	before := s.Snapshot()

	dev.fetchErr = func(context.Context) error { return errors.New("no route to host") }
	_, err := s.Refresh(context.Background())
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, device.StateStale, s.State())

	dev.fetchErr = nil
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.StateSynced, s.State())
}

func TestRefresh_FirstFailureStaysDisconnected(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.fetchErr = func(context.Context) error { return errors.New("timeout") }
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	t.Cleanup(s.Close)

	_, err := s.Refresh(context.Background())
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)
	assert.Equal(t, device.StateDisconnected, s.State())

	state, lastErr, _ := s.Status()
	assert.Equal(t, device.StateDisconnected, state)
	assert.Contains(t, lastErr, "timeout")
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	t.Cleanup(s.Close)

	_, err := s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 5})
	require.NoError(t, err)

	dev.mu.Lock()
	dev.state = settings.Snapshot{settings.NumLEDs: 60}
	dev.mu.Unlock()

	snap, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings.Snapshot{settings.NumLEDs: 60}, snap)
}

func TestPollDistance(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	t.Cleanup(s.Close)

	_, ok := s.Distance()
	assert.False(t, ok)

	d, err := s.PollDistance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, d)

	got, ok := s.Distance()
	assert.True(t, ok)
	assert.Equal(t, 100, got)
}

func TestPollDistance_ZeroReadingIsEmitted(t *testing.T) {
	hub := NewHub()
	events := hub.Subscribe()
	dev := newFakeDevice("10.0.0.2")
	dev.distance = 0
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev, WithHub(hub))
	t.Cleanup(s.Close)

	d, err := s.PollDistance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, d)

	var ev Event
	require.Eventually(t, func() bool {
		select {
		case ev = <-events:
			return ev.Type == EventDistance
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	require.NotNil(t, ev.Distance)
	assert.Equal(t, 0, *ev.Distance)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"distance":0`)
}

func TestSynchronizer_SerializesOperations(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	dev.pushErr = func(context.Context, settings.Delta) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}
	s := newSynced(t, dev)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: i})
			} else {
				_ = s.ApplySettings(context.Background())
			}
		}(i)
	}
	wg.Wait()

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, 1, dev.maxActive)
}

func TestSynchronizer_LinksDoNotBlockEachOther(t *testing.T) {
	slow := newFakeDevice("10.0.0.2")
	slow.pushErr = blockUntilDone
	fast := newFakeDevice("10.0.0.3")

	a := NewSynchronizer(testLink("a", "Slow", slow.host), slow)
	b := NewSynchronizer(testLink("b", "Fast", fast.host), fast)
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = a.UpdateSettings(ctx, map[string]any{settings.Brightness: 1})
	}()
	<-started

	done := make(chan error, 1)
	go func() {
		_, err := b.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 2})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("update on one link blocked behind another link")
	}
}

func TestSynchronizer_ClosedLink(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	dev.state = fullSnapshot()
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	s.Close()
	s.Close()

	assert.Empty(t, s.Snapshot())
	assert.Equal(t, device.StateDisconnected, s.State())

	_, err = s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 1})
	assert.ErrorIs(t, err, device.ErrLinkClosed)
	assert.ErrorIs(t, s.ApplySettings(context.Background()), device.ErrLinkClosed)
}

func TestSynchronizer_EmptyUpdateIsNoop(t *testing.T) {
	dev := newFakeDevice("10.0.0.2")
	s := NewSynchronizer(testLink("l1", "Kitchen", dev.host), dev)
	t.Cleanup(s.Close)

	snap, err := s.UpdateSettings(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.Zero(t, dev.pushCount())
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
