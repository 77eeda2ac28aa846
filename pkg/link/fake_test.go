package link

import (
	"context"
	"sync"

	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

// fakeDevice is an in-memory device that stores whatever is pushed to it.
type fakeDevice struct {
	mu       sync.Mutex
	host     string
	state    settings.Snapshot
	distance int
	pushes   []settings.Delta
	fetches  int

	// Optional overrides. Returning a non-nil error fails the call before
	// the device state changes.
	pushErr  func(ctx context.Context, delta settings.Delta) error
	fetchErr func(ctx context.Context) error

	active    int
	maxActive int
}

func newFakeDevice(host string) *fakeDevice {
	return &fakeDevice{host: host, state: settings.Snapshot{}, distance: 100}
}

func (f *fakeDevice) enter() {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
}

func (f *fakeDevice) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeDevice) Fetch(ctx context.Context) (settings.Snapshot, error) {
	f.enter()
	defer f.leave()

	if f.fetchErr != nil {
		if err := f.fetchErr(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.state.Clone(), nil
}

func (f *fakeDevice) Push(ctx context.Context, delta settings.Delta) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.pushes = append(f.pushes, delta)
	hook := f.pushErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, delta); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = f.state.Merge(delta)
	return nil
}

func (f *fakeDevice) Distance(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.distance, nil
}

func (f *fakeDevice) Host() string {
	return f.host
}

func (f *fakeDevice) deviceState() settings.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeDevice) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeDevice) lastPush() settings.Delta {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		return nil
	}
	return f.pushes[len(f.pushes)-1]
}

// blockUntilDone makes every push hang until its context expires, like a
// device that stopped answering.
func blockUntilDone(ctx context.Context, _ settings.Delta) error {
	<-ctx.Done()
	return ctx.Err()
}

func testLink(id, name, host string) device.Link {
	return device.Link{ID: id, Name: name, Host: host, Protocol: device.ProtocolWiFi}
}

// fullSnapshot is a device state covering every parameter.
func fullSnapshot() settings.Snapshot {
	return settings.Snapshot{
		settings.MinDistance:             30,
		settings.MaxDistance:             300,
		settings.Brightness:              255,
		settings.LightSpan:               40,
		settings.NumLEDs:                 300,
		settings.RGBColor:                settings.RGB{255, 255, 255},
		settings.CenterShift:             0,
		settings.TrailLength:             5,
		settings.EffectSpeed:             50,
		settings.EffectIntensity:         100,
		settings.BackgroundMode:          false,
		settings.DirectionalLight:        false,
		settings.LightModeKey:            settings.LightModeStandard,
		settings.MotionSmoothing:         false,
		settings.PositionSmoothingFactor: 0.2,
		settings.VelocitySmoothingFactor: 0.1,
		settings.PredictionFactor:        0.5,
		settings.PositionPGain:           0.1,
		settings.PositionIGain:           0.01,
	}
}
