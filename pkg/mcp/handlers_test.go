package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/device/schema"
	"github.com/urmzd/ambisense/pkg/discovery"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/settings"
)

type fakeDevice struct {
	mu      sync.Mutex
	state   settings.Snapshot
	pushErr error
}

func (d *fakeDevice) Fetch(context.Context) (settings.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone(), nil
}

func (d *fakeDevice) Push(_ context.Context, delta settings.Delta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushErr != nil {
		return d.pushErr
	}
	d.state = d.state.Merge(delta)
	return nil
}

func (d *fakeDevice) Distance(context.Context) (int, error) { return 87, nil }
func (d *fakeDevice) Host() string                          { return "10.0.0.7" }

type fakeScanner struct{}

func (fakeScanner) Scan(_ context.Context, verify bool) ([]discovery.Device, error) {
	return []discovery.Device{{Name: "AmbiSense Office", Host: "10.0.0.8", Verified: verify}}, nil
}

func newTestServer(t *testing.T) (*Server, *link.Synchronizer, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{state: settings.Snapshot{
		settings.Brightness:   120,
		settings.LightModeKey: settings.LightModeStandard,
	}}
	manager := link.NewManager(func(device.Link) link.Client { return dev })
	t.Cleanup(manager.Close)

	s, err := manager.Add(device.Link{ID: "link-1", Name: "AmbiSense Kitchen", Host: "10.0.0.7"})
	require.NoError(t, err)
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)

	srv := NewServer(manager, entity.NewServices(manager), fakeScanner{}, schema.NewValidator())
	return srv, s, dev
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return res, text.Text
}

func decodeOutput[T any](t *testing.T, text string) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func TestGetHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, text := call(t, srv.handleGetHealth, nil)
	require.False(t, res.IsError)
	out := decodeOutput[GetHealthOutput](t, text)
	assert.Equal(t, "healthy", out.Status)
	assert.Equal(t, 1, out.Links)
	assert.Equal(t, 1, out.States[string(device.StateSynced)])
}

func TestListLinks(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, text := call(t, srv.handleListLinks, nil)
	out := decodeOutput[ListLinksOutput](t, text)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "link-1", out.Links[0].ID)
	assert.Equal(t, string(device.StateSynced), out.Links[0].State)
	assert.EqualValues(t, 120, out.Links[0].Settings[settings.Brightness])
}

func TestGetSettings_ResolvesByName(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, ref := range []string{"link-1", "AmbiSense Kitchen", "ambisense_kitchen"} {
		res, text := call(t, srv.handleGetSettings, map[string]any{"link": ref})
		require.False(t, res.IsError, ref)
		out := decodeOutput[SettingsOutput](t, text)
		assert.Equal(t, "link-1", out.LinkID)
	}

	res, _ := call(t, srv.handleGetSettings, map[string]any{"link": "garage"})
	assert.True(t, res.IsError)
	res, _ = call(t, srv.handleGetSettings, map[string]any{})
	assert.True(t, res.IsError)
}

func TestUpdateSettings(t *testing.T) {
	srv, s, dev := newTestServer(t)

	res, text := call(t, srv.handleUpdateSettings, map[string]any{
		"link":     "link-1",
		"settings": map[string]any{"brightness": float64(200), "light_mode": "Rainbow"},
	})
	require.False(t, res.IsError, text)
	out := decodeOutput[SettingsOutput](t, text)
	assert.EqualValues(t, 200, out.Settings[settings.Brightness])
	assert.Equal(t, "Rainbow", out.Settings[settings.LightModeKey])

	b, _ := s.Snapshot().Int(settings.Brightness)
	assert.Equal(t, 200, b)
	dev.mu.Lock()
	b, _ = dev.state.Int(settings.Brightness)
	dev.mu.Unlock()
	assert.Equal(t, 200, b)
}

func TestUpdateSettings_RejectsOutOfRange(t *testing.T) {
	srv, s, _ := newTestServer(t)

	res, text := call(t, srv.handleUpdateSettings, map[string]any{
		"link":     "link-1",
		"settings": map[string]any{"brightness": float64(300)},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "validation error")

	b, _ := s.Snapshot().Int(settings.Brightness)
	assert.Equal(t, 120, b)
}

func TestUpdateSettings_DeviceRejection(t *testing.T) {
	srv, s, dev := newTestServer(t)
	dev.mu.Lock()
	dev.pushErr = &device.RejectedError{Endpoint: "/set", Status: 400, Body: "Invalid value"}
	dev.mu.Unlock()

	res, text := call(t, srv.handleUpdateSettings, map[string]any{
		"link":     "link-1",
		"settings": map[string]any{"brightness": float64(10)},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "Invalid value")

	b, _ := s.Snapshot().Int(settings.Brightness)
	assert.Equal(t, 120, b)
	assert.Equal(t, device.StateStale, s.State())
}

func TestApplyAndRefresh(t *testing.T) {
	srv, _, dev := newTestServer(t)

	res, _ := call(t, srv.handleApplySettings, map[string]any{"link": "link-1"})
	assert.False(t, res.IsError)

	dev.mu.Lock()
	dev.state[settings.Brightness] = 42
	dev.mu.Unlock()

	res, text := call(t, srv.handleRefreshSettings, map[string]any{"link": "link-1"})
	require.False(t, res.IsError)
	out := decodeOutput[SettingsOutput](t, text)
	assert.EqualValues(t, 42, out.Settings[settings.Brightness])

	dev.mu.Lock()
	dev.pushErr = errors.New("connection refused")
	dev.mu.Unlock()
	res, _ = call(t, srv.handleApplySettings, map[string]any{"link": "link-1"})
	assert.True(t, res.IsError)
}

func TestGetDistance(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, text := call(t, srv.handleGetDistance, map[string]any{"link": "link-1"})
	out := decodeOutput[GetDistanceOutput](t, text)
	assert.Equal(t, 87, out.Distance)
	assert.Equal(t, "cm", out.Unit)
}

func TestDescribeSchema(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, text := call(t, srv.handleDescribeSchema, nil)
	out := decodeOutput[DescribeSchemaOutput](t, text)
	assert.Len(t, out.LightModes, 11)
	assert.Contains(t, string(out.Schema), `"num_leds"`)
}

func TestDiscoverDevices(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, text := call(t, srv.handleDiscoverDevices, map[string]any{"verify": true})
	out := decodeOutput[DiscoverDevicesOutput](t, text)
	require.Equal(t, 1, out.Count)
	assert.True(t, out.Devices[0].Verified)
}

func TestTurnOnAndOff(t *testing.T) {
	srv, s, _ := newTestServer(t)

	res, text := call(t, srv.handleTurnOff, map[string]any{"link": "link-1"})
	require.False(t, res.IsError, text)
	out := decodeOutput[LightOutput](t, text)
	assert.Equal(t, "light.ambisense_kitchen_light", out.EntityID)
	b, _ := s.Snapshot().Int(settings.Brightness)
	assert.Equal(t, 0, b)

	res, text = call(t, srv.handleTurnOn, map[string]any{
		"link":      "link-1",
		"rgb_color": []any{float64(255), float64(0), float64(0)},
	})
	require.False(t, res.IsError, text)
	b, _ = s.Snapshot().Int(settings.Brightness)
	assert.Equal(t, 255, b)
	c, _ := s.Snapshot().Color()
	assert.Equal(t, settings.RGB{255, 0, 0}, c)

	res, _ = call(t, srv.handleTurnOn, map[string]any{"link": "link-1", "brightness": 12.5})
	assert.True(t, res.IsError)
}

func TestListEntities(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, text := call(t, srv.handleListEntities, map[string]any{"link": "link-1"})
	out := decodeOutput[ListEntitiesOutput](t, text)
	assert.Len(t, out.Entities, len(entity.Describe(device.Link{ID: "link-1", Name: "AmbiSense Kitchen"})))
}
