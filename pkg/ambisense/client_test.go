package ambisense

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

// firmware records every request the client makes.
type firmware struct {
	mu       sync.Mutex
	requests []*http.Request
	settings string
	handler  func(w http.ResponseWriter, r *http.Request) bool
}

func (f *firmware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	if f.handler != nil && f.handler(w, r) {
		return
	}
	switch r.URL.Path {
	case "/settings":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, f.settings)
	case "/distance":
		fmt.Fprint(w, "142\n")
	case "/setMotionSmoothingParam":
		fmt.Fprint(w, `{"status":"success"}`)
	default:
		fmt.Fprint(w, "OK")
	}
}

func (f *firmware) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.URL.Path
	}
	return out
}

func (f *firmware) request(i int) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func newFirmware(t *testing.T) (*firmware, *Client) {
	t.Helper()
	fw := &firmware{settings: `{}`}
	srv := httptest.NewServer(fw)
	t.Cleanup(srv.Close)
	return fw, NewClient(srv.URL, WithTimeout(time.Second))
}

func TestFetch_DecodesFirmwareKeys(t *testing.T) {
	fw, c := newFirmware(t)
	fw.settings = `{
		"minDistance": 20, "maxDistance": 250, "brightness": 128, "movingLightSpan": 30,
		"numLeds": 120, "redValue": 10, "greenValue": 20, "blueValue": 30,
		"backgroundMode": true, "directionLightEnabled": true, "centerShift": -5,
		"trailLength": 8, "effectSpeed": 70, "effectIntensity": 90, "lightMode": 1,
		"motionSmoothingEnabled": true, "positionSmoothingFactor": 0.35,
		"velocitySmoothingFactor": 0.15, "predictionFactor": 0.4,
		"positionPGain": 0.12, "positionIGain": 0.015
	}`

	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap, len(settings.Parameters()))
	assert.Equal(t, 20, snap[settings.MinDistance])
	assert.Equal(t, 250, snap[settings.MaxDistance])
	assert.Equal(t, 128, snap[settings.Brightness])
	assert.Equal(t, 30, snap[settings.LightSpan])
	assert.Equal(t, 120, snap[settings.NumLEDs])
	assert.Equal(t, settings.RGB{10, 20, 30}, snap[settings.RGBColor])
	assert.Equal(t, true, snap[settings.BackgroundMode])
	assert.Equal(t, true, snap[settings.DirectionalLight])
	assert.Equal(t, -5, snap[settings.CenterShift])
	assert.Equal(t, settings.LightModeRainbow, snap[settings.LightModeKey])
	assert.Equal(t, 0.35, snap[settings.PositionSmoothingFactor])
	assert.Equal(t, 0.015, snap[settings.PositionIGain])
}

func TestFetch_MissingKeysUseFirmwareDefaults(t *testing.T) {
	_, c := newFirmware(t)

	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, snap[settings.MinDistance])
	assert.Equal(t, 300, snap[settings.MaxDistance])
	assert.Equal(t, 255, snap[settings.Brightness])
	assert.Equal(t, 300, snap[settings.NumLEDs])
	assert.Equal(t, settings.RGB{255, 255, 255}, snap[settings.RGBColor])
	assert.Equal(t, settings.LightModeStandard, snap[settings.LightModeKey])
	assert.Equal(t, 0.5, snap[settings.PredictionFactor])
}

func TestFetch_ClampsDeviceValuesIntoRange(t *testing.T) {
	fw, c := newFirmware(t)
	fw.settings = `{"brightness": 400, "centerShift": -150, "positionIGain": 0.5, "lightMode": 42, "redValue": 300}`

	snap, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 255, snap[settings.Brightness])
	assert.Equal(t, -100, snap[settings.CenterShift])
	assert.Equal(t, 0.1, snap[settings.PositionIGain])
	assert.Equal(t, settings.LightModeStandard, snap[settings.LightModeKey])
	assert.Equal(t, settings.RGB{255, 255, 255}, snap[settings.RGBColor])
}

func TestFetch_InvalidJSONIsUnreachable(t *testing.T) {
	fw, c := newFirmware(t)
	fw.settings = `<html>captive portal</html>`

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnreachable)
}

func TestFetch_ServerErrorIsUnreachable(t *testing.T) {
	fw, c := newFirmware(t)
	fw.handler = func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusInternalServerError)
		return true
	}

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnreachable)
	assert.False(t, errors.Is(err, device.ErrDeviceRejected))
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, WithTimeout(time.Second))
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnreachable)
}

func TestDistance(t *testing.T) {
	_, c := newFirmware(t)

	d, err := c.Distance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 142, d)
}

func TestPush_RoutesFieldsToEndpoints(t *testing.T) {
	fw, c := newFirmware(t)

	err := c.Push(context.Background(), settings.Delta{
		settings.Brightness:       100,
		settings.RGBColor:         settings.RGB{1, 2, 3},
		settings.BackgroundMode:   true,
		settings.DirectionalLight: false,
		settings.EffectSpeed:      60,
		settings.LightModeKey:     settings.LightModeFire,
		settings.MotionSmoothing:  true,
		settings.PositionIGain:    0.012,
		settings.PredictionFactor: 0.3,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/set",
		"/setEffectSpeed",
		"/setLightMode",
		"/setMotionSmoothing",
		"/setMotionSmoothingParam",
		"/setMotionSmoothingParam",
	}, fw.paths())

	set := fw.request(0).URL.Query()
	assert.Equal(t, "100", set.Get("brightness"))
	assert.Equal(t, "1", set.Get("redValue"))
	assert.Equal(t, "2", set.Get("greenValue"))
	assert.Equal(t, "3", set.Get("blueValue"))
	assert.Equal(t, "true", set.Get("backgroundMode"))
	assert.Equal(t, "false", set.Get("directionLight"))

	assert.Equal(t, "60", fw.request(1).URL.Query().Get("value"))
	assert.Equal(t, "7", fw.request(2).URL.Query().Get("mode"))
	assert.Equal(t, "true", fw.request(3).URL.Query().Get("enabled"))

	pred := fw.request(4).URL.Query()
	assert.Equal(t, "predictionFactor", pred.Get("param"))
	assert.Equal(t, "0.30", pred.Get("value"))

	gain := fw.request(5).URL.Query()
	assert.Equal(t, "positionIGain", gain.Get("param"))
	assert.Equal(t, "0.012", gain.Get("value"))
}

func TestPush_EmptyDeltaSendsNothing(t *testing.T) {
	fw, c := newFirmware(t)

	require.NoError(t, c.Push(context.Background(), settings.Delta{}))
	assert.Empty(t, fw.paths())
}

func TestPush_StopsAtFirstFailure(t *testing.T) {
	fw, c := newFirmware(t)
	fw.handler = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/set" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "numLeds out of range")
			return true
		}
		return false
	}

	err := c.Push(context.Background(), settings.Delta{
		settings.NumLEDs:     120,
		settings.EffectSpeed: 10,
	})
	require.ErrorIs(t, err, device.ErrDeviceRejected)

	var rej *device.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusBadRequest, rej.Status)
	assert.Equal(t, "numLeds out of range", rej.Body)
	assert.Equal(t, []string{"/set"}, fw.paths())
}

func TestPush_MotionParamStatusReply(t *testing.T) {
	fw, c := newFirmware(t)
	fw.handler = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/setMotionSmoothingParam" {
			fmt.Fprint(w, `{"status":"error","message":"Invalid parameter"}`)
			return true
		}
		return false
	}

	err := c.Push(context.Background(), settings.Delta{settings.PositionPGain: 0.2})
	assert.ErrorIs(t, err, device.ErrDeviceRejected)
}

func TestPush_NonJSONMotionReplyIsSuccess(t *testing.T) {
	fw, c := newFirmware(t)
	fw.handler = func(w http.ResponseWriter, r *http.Request) bool {
		fmt.Fprint(w, "OK")
		return true
	}

	assert.NoError(t, c.Push(context.Background(), settings.Delta{settings.PositionPGain: 0.2}))
}

func TestPush_TimeoutIsUnreachable(t *testing.T) {
	fw, _ := newFirmware(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	fw.handler = func(w http.ResponseWriter, r *http.Request) bool {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		return true
	}

	srv := httptest.NewServer(fw)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))

	err := c.Push(context.Background(), settings.Delta{settings.NumLEDs: 120})
	assert.ErrorIs(t, err, device.ErrDeviceUnreachable)
}

func TestProbe_FallsBackToDistance(t *testing.T) {
	fw, c := newFirmware(t)
	fw.handler = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/settings" {
			http.NotFound(w, r)
			return true
		}
		return false
	}

	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, []string{"/settings", "/distance"}, fw.paths())
}

func TestNewClient_AddsScheme(t *testing.T) {
	c := NewClient("ambisense-kitchen.local")
	assert.Equal(t, "http://ambisense-kitchen.local", c.baseURL)
	assert.Equal(t, "ambisense-kitchen.local", c.Host())
}
