package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

// fakeFleet hands out one fakeDevice per host.
type fakeFleet struct {
	mu      sync.Mutex
	devices map[string]*fakeDevice
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{devices: make(map[string]*fakeDevice)}
}

func (f *fakeFleet) factory(l device.Link) Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[l.Host]
	if !ok {
		dev = newFakeDevice(l.Host)
		dev.state = fullSnapshot()
		f.devices[l.Host] = dev
	}
	return dev
}

func (f *fakeFleet) device(host string) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[host]
}

func TestManager_AddGetRemove(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)

	s, err := m.Add(testLink("l1", "Kitchen", "10.0.0.2"))
	require.NoError(t, err)

	got, err := m.Get("l1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Remove("l1"))
	_, err = m.Get("l1")
	assert.ErrorIs(t, err, device.ErrNotFound)
	assert.ErrorIs(t, m.Remove("l1"), device.ErrNotFound)

	_, err = s.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 1})
	assert.ErrorIs(t, err, device.ErrLinkClosed)
}

func TestManager_RenameKeepsSnapshot(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)

	old, err := m.Add(testLink("l1", "Kitchen", "10.0.0.2"))
	require.NoError(t, err)
	_, err = old.Refresh(context.Background())
	require.NoError(t, err)
	_, err = old.PollDistance(context.Background())
	require.NoError(t, err)

	events := m.Subscribe()
	defer m.Unsubscribe(events)

	s, err := m.Rename("l1", "Hallway")
	require.NoError(t, err)
	assert.NotSame(t, old, s)
	assert.Equal(t, "Hallway", s.Link().Name)
	assert.Equal(t, "10.0.0.2", s.Link().Host)
	assert.Equal(t, device.StateSynced, s.State())
	assert.Equal(t, old.client, s.Client())
	assert.Equal(t, fullSnapshot(), s.Snapshot())
	d, ok := s.Distance()
	assert.True(t, ok)
	assert.Equal(t, 100, d)

	got, err := m.ResolveEntity("light.hallway_light")
	require.NoError(t, err)
	assert.Same(t, s, got)
	_, err = m.ResolveEntity("light.kitchen_light")
	assert.ErrorIs(t, err, device.ErrNotFound)

	var types []EventType
	for _, ev := range drain(events) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventLinkRemoved, EventLinkAdded}, types)

	_, err = old.Refresh(context.Background())
	assert.ErrorIs(t, err, device.ErrLinkClosed)

	_, err = m.Rename("nope", "X")
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestManager_RejectsDuplicates(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)

	_, err := m.Add(testLink("l1", "Kitchen", "10.0.0.2"))
	require.NoError(t, err)

	_, err = m.Add(testLink("l1", "Other", "10.0.0.3"))
	assert.ErrorIs(t, err, device.ErrDuplicate)

	_, err = m.Add(testLink("l2", "Other", "10.0.0.2"))
	assert.ErrorIs(t, err, device.ErrDuplicate)
}

func TestManager_ListSortedByName(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)

	for _, l := range []device.Link{
		testLink("3", "Office", "10.0.0.4"),
		testLink("1", "Bedroom", "10.0.0.2"),
		testLink("2", "Kitchen", "10.0.0.3"),
	} {
		_, err := m.Add(l)
		require.NoError(t, err)
	}

	var names []string
	for _, s := range m.List() {
		names = append(names, s.Link().Name)
	}
	assert.Equal(t, []string{"Bedroom", "Kitchen", "Office"}, names)
}

func TestManager_ResolveEntity(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)

	s, err := m.Add(testLink("l1", "AmbiSense Living Room", "10.0.0.2"))
	require.NoError(t, err)

	got, err := m.ResolveEntity("light.ambisense_living_room_light")
	require.NoError(t, err)
	assert.Same(t, s, got)

	got, err = m.ResolveEntity("l1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.ResolveEntity("sensor.ambisense_living_room_distance")
	assert.ErrorIs(t, err, device.ErrNotFound)

	_, err = m.ResolveEntity("light.unknown_light")
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestManager_FansInEvents(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)
	events := m.Subscribe()
	defer m.Unsubscribe(events)

	a, err := m.Add(testLink("a", "A", "10.0.0.2"))
	require.NoError(t, err)
	b, err := m.Add(testLink("b", "B", "10.0.0.3"))
	require.NoError(t, err)

	_, err = a.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 1})
	require.NoError(t, err)
	_, err = b.UpdateSettings(context.Background(), map[string]any{settings.Brightness: 2})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, ev := range drain(events) {
		if ev.Type == EventSettingsChanged {
			seen[ev.LinkID] = true
		}
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}

func TestPoller_RefreshesEveryLink(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory)
	t.Cleanup(m.Close)

	for _, l := range []device.Link{
		testLink("1", "Bedroom", "10.0.0.2"),
		testLink("2", "Kitchen", "10.0.0.3"),
	} {
		_, err := m.Add(l)
		require.NoError(t, err)
	}

	p := NewPoller(m, time.Hour, 100)
	p.PollAll(context.Background())
	p.Wait()

	for _, s := range m.List() {
		assert.Equal(t, device.StateSynced, s.State(), s.Link().Name)
		assert.Equal(t, fullSnapshot(), s.Snapshot())
		d, ok := s.Distance()
		assert.True(t, ok)
		assert.Equal(t, 100, d)
	}
}

func TestPoller_SkipsLinkStillPolling(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory)
	t.Cleanup(m.Close)

	_, err := m.Add(testLink("1", "Bedroom", "10.0.0.2"))
	require.NoError(t, err)

	release := make(chan struct{})
	dev := fleet.device("10.0.0.2")
	dev.fetchErr = func(ctx context.Context) error {
		<-release
		return nil
	}

	p := NewPoller(m, time.Hour, 100)
	p.PollAll(context.Background())
	p.PollAll(context.Background())
	close(release)
	p.Wait()

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, 1, dev.fetches)
}

func TestPoller_RunStopsWithContext(t *testing.T) {
	m := NewManager(newFakeFleet().factory)
	t.Cleanup(m.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewPoller(m, 10*time.Millisecond, 10).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
