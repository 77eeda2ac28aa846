package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/discovery"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
	"github.com/urmzd/ambisense/pkg/settings"
)

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.links.List()
	states := map[string]int{
		string(device.StateDisconnected): 0,
		string(device.StateSyncing):      0,
		string(device.StateSynced):       0,
		string(device.StateStale):        0,
	}
	for _, l := range all {
		states[string(l.State())]++
	}

	status := "healthy"
	switch {
	case len(all) > 0 && states[string(device.StateDisconnected)] == len(all):
		status = "unavailable"
	case states[string(device.StateSynced)] < len(all):
		status = "degraded"
	}

	out := GetHealthOutput{
		Status:    status,
		Links:     len(all),
		States:    states,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListLinks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.links.List()
	infos := make([]LinkInfo, 0, len(all))
	for _, l := range all {
		infos = append(infos, LinkToInfo(l))
	}

	out := ListLinksOutput{
		Links: infos,
		Count: len(infos),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetSettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap := l.Snapshot()
	if optionalBool(request, "refresh") {
		snap, err = l.Refresh(ctx)
		if err != nil {
			return toolError("failed to refresh settings", err), nil
		}
	}
	return mcp.NewToolResultText(formatJSON(settingsOutput(l, snap))), nil
}

func (s *Server) handleDescribeSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := DescribeSchemaOutput{
		Schema:     settings.Document(),
		LightModes: settings.LightModeNames(),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleUpdateSettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fields, ok := request.GetArguments()["settings"].(map[string]any)
	if !ok || len(fields) == 0 {
		return mcp.NewToolResultError(`parameter "settings" must be a non-empty object`), nil
	}

	if s.validator != nil {
		if err := s.validator.Validate(settings.Document(), fields); err != nil {
			return toolError("validation error", err), nil
		}
	}

	snap, err := l.UpdateSettings(ctx, fields)
	if err != nil {
		return toolError("failed to update settings", err), nil
	}
	return mcp.NewToolResultText(formatJSON(settingsOutput(l, snap))), nil
}

func (s *Server) handleApplySettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := l.ApplySettings(ctx); err != nil {
		return toolError("failed to apply settings", err), nil
	}
	return mcp.NewToolResultText(formatJSON(settingsOutput(l, l.Snapshot()))), nil
}

func (s *Server) handleRefreshSettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, err := l.Refresh(ctx)
	if err != nil {
		return toolError("failed to refresh settings", err), nil
	}
	return mcp.NewToolResultText(formatJSON(settingsOutput(l, snap))), nil
}

func (s *Server) handleGetDistance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := l.PollDistance(ctx)
	if err != nil {
		return toolError("failed to read distance", err), nil
	}

	out := GetDistanceOutput{
		LinkID:    l.Link().ID,
		Distance:  d,
		Unit:      "cm",
		Timestamp: time.Now().UTC(),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := ListEntitiesOutput{
		LinkID:   l.Link().ID,
		Entities: entity.Reflect(l),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleDiscoverDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scanner == nil {
		return mcp.NewToolResultError("discovery is not available"), nil
	}

	devices, err := s.scanner.Scan(ctx, optionalBool(request, "verify"))
	if err != nil {
		return toolError("discovery failed", err), nil
	}
	if devices == nil {
		devices = []discovery.Device{}
	}

	out := DiscoverDevicesOutput{
		Devices: devices,
		Count:   len(devices),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleTurnOn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	var req entity.TurnOnRequest
	if b, ok := args["brightness"].(float64); ok {
		v := int(b)
		if float64(v) != b {
			return mcp.NewToolResultError(`parameter "brightness" must be an integer`), nil
		}
		req.Brightness = &v
	}
	if raw, ok := args["rgb_color"].([]any); ok {
		for _, c := range raw {
			f, ok := c.(float64)
			if !ok {
				return mcp.NewToolResultError(`parameter "rgb_color" must be a list of numbers`), nil
			}
			req.RGBColor = append(req.RGBColor, int(f))
		}
	}
	if effect, ok := args["effect"].(string); ok {
		req.Effect = effect
	}

	entityID := lightEntityID(l)
	if err := s.lights.TurnOn(ctx, entityID, req); err != nil {
		return toolError("failed to turn on light", err), nil
	}

	out := LightOutput{
		EntityID: entityID,
		Settings: l.Snapshot(),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleTurnOff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.requiredLink(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entityID := lightEntityID(l)
	if err := s.lights.TurnOff(ctx, entityID); err != nil {
		return toolError("failed to turn off light", err), nil
	}

	out := LightOutput{
		EntityID: entityID,
		Settings: l.Snapshot(),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

// --- helpers ---

// requiredLink resolves the "link" parameter by ID, then by name or slug.
func (s *Server) requiredLink(request mcp.CallToolRequest) (*link.Synchronizer, error) {
	ref, err := requiredString(request, "link")
	if err != nil {
		return nil, err
	}

	if l, err := s.links.Get(ref); err == nil {
		return l, nil
	}
	for _, l := range s.links.List() {
		info := l.Link()
		if strings.EqualFold(info.Name, ref) || info.Slug() == device.Slugify(ref) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", ref)
}

func lightEntityID(l *link.Synchronizer) string {
	info := l.Link()
	return info.EntityID(string(entity.DomainLight), entity.ObjectLight)
}

func settingsOutput(l *link.Synchronizer, snap settings.Snapshot) SettingsOutput {
	if snap == nil {
		snap = settings.Snapshot{}
	}
	return SettingsOutput{
		LinkID:   l.Link().ID,
		State:    string(l.State()),
		Settings: snap,
	}
}

// toolError reports err to the model. Device refusals are passed on verbatim.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var rejected *device.RejectedError
	if errors.As(err, &rejected) && rejected.Body != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: device said: %s", prefix, rejected.Body))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, err))
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalBool(request mcp.CallToolRequest, key string) bool {
	b, _ := request.GetArguments()[key].(bool)
	return b
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
