package ambisense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/device"
	"github.com/urmzd/ambisense/pkg/settings"
)

// readField maps a settings key to the name the firmware reports in /settings
// and the value the firmware assumes when the key is missing.
type readField struct {
	key      string
	names    []string
	fallback any
}

var readFields = []readField{
	{settings.MinDistance, []string{"minDistance"}, 30},
	{settings.MaxDistance, []string{"maxDistance"}, 300},
	{settings.Brightness, []string{"brightness"}, 255},
	{settings.LightSpan, []string{"movingLightSpan", "lightSpan"}, 40},
	{settings.NumLEDs, []string{"numLeds"}, 300},
	{settings.CenterShift, []string{"centerShift"}, 0},
	{settings.TrailLength, []string{"trailLength"}, 5},
	{settings.EffectSpeed, []string{"effectSpeed"}, 50},
	{settings.EffectIntensity, []string{"effectIntensity"}, 100},
	{settings.BackgroundMode, []string{"backgroundMode"}, false},
	{settings.DirectionalLight, []string{"directionLightEnabled", "directionalLight"}, false},
	{settings.MotionSmoothing, []string{"motionSmoothingEnabled"}, false},
	{settings.PositionSmoothingFactor, []string{"positionSmoothingFactor"}, 0.2},
	{settings.VelocitySmoothingFactor, []string{"velocitySmoothingFactor"}, 0.1},
	{settings.PredictionFactor, []string{"predictionFactor"}, 0.5},
	{settings.PositionPGain, []string{"positionPGain"}, 0.1},
	{settings.PositionIGain, []string{"positionIGain"}, 0.01},
}

// setParams maps keys accepted by the generic /set endpoint to firmware names.
var setParams = map[string]string{
	settings.MinDistance:      "minDist",
	settings.MaxDistance:      "maxDist",
	settings.Brightness:       "brightness",
	settings.LightSpan:        "lightSpan",
	settings.NumLEDs:          "numLeds",
	settings.CenterShift:      "centerShift",
	settings.TrailLength:      "trailLength",
	settings.BackgroundMode:   "backgroundMode",
	settings.DirectionalLight: "directionLight",
}

// motionParams lists the smoothing parameters in the order they are pushed.
var motionParams = []struct {
	key      string
	name     string
	decimals int
}{
	{settings.PositionSmoothingFactor, "positionSmoothingFactor", 2},
	{settings.VelocitySmoothingFactor, "velocitySmoothingFactor", 2},
	{settings.PredictionFactor, "predictionFactor", 2},
	{settings.PositionPGain, "positionPGain", 2},
	{settings.PositionIGain, "positionIGain", 3},
}

// Fetch reads the device's current settings. The device is authoritative:
// missing keys take the firmware defaults and out-of-range numbers are clamped
// so the returned snapshot always satisfies the schema.
func (c *Client) Fetch(ctx context.Context) (settings.Snapshot, error) {
	body, err := c.get(ctx, "/settings", nil)
	if err != nil {
		return nil, unreachableOnRead(err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid settings JSON: %v", device.ErrDeviceUnreachable, err)
	}

	snap := make(settings.Snapshot, len(settings.Parameters()))
	for _, f := range readFields {
		snap[f.key] = c.readValue(f.key, lookup(raw, f.names...), f.fallback)
	}

	snap[settings.RGBColor] = settings.RGB{
		channel(lookup(raw, "redValue"), 255),
		channel(lookup(raw, "greenValue"), 255),
		channel(lookup(raw, "blueValue"), 255),
	}

	mode := settings.LightModeStandard
	switch v := lookup(raw, "lightMode").(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			if m, err := settings.LightModeFromIndex(int(i)); err == nil {
				mode = m
			}
		}
	case string:
		if m, err := settings.ParseLightMode(v); err == nil {
			mode = m
		}
	}
	snap[settings.LightModeKey] = mode

	return snap, nil
}

// readValue canonicalizes one reported value, falling back to the firmware
// default when the value is missing or has the wrong type.
func (c *Client) readValue(key string, v any, fallback any) any {
	p, _ := settings.Lookup(key)
	if v == nil {
		v = fallback
	}
	if p.Numeric() {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				v = math.Max(p.Min, math.Min(p.Max, f))
			}
		}
	}
	out, err := p.Validate(v)
	if err != nil {
		log.Debug().Str("host", c.host).Str("key", key).Interface("value", v).Msg("Unusable device value, using default")
		out, _ = p.Validate(fallback)
	}
	return out
}

// channel reads one color component, clamping into [0, 255].
func channel(v any, fallback uint8) uint8 {
	n, ok := v.(json.Number)
	if !ok {
		return fallback
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) {
		return fallback
	}
	return uint8(math.Max(0, math.Min(255, math.Round(f))))
}

func lookup(raw map[string]any, names ...string) any {
	for _, name := range names {
		if v, ok := raw[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Push writes delta to the device. Fields are grouped by firmware endpoint and
// sent in a fixed order; the first failure aborts the push. Every request is an
// idempotent GET, so a failed push can simply be repeated.
func (c *Client) Push(ctx context.Context, delta settings.Delta) error {
	set := url.Values{}
	for key, name := range setParams {
		if v, ok := delta[key]; ok {
			set.Set(name, formatValue(v, 0))
		}
	}
	if v, ok := delta[settings.RGBColor]; ok {
		if rgb, ok := v.(settings.RGB); ok {
			set.Set("redValue", strconv.Itoa(int(rgb[0])))
			set.Set("greenValue", strconv.Itoa(int(rgb[1])))
			set.Set("blueValue", strconv.Itoa(int(rgb[2])))
		}
	}
	if len(set) > 0 {
		if _, err := c.get(ctx, "/set", set); err != nil {
			return err
		}
	}

	if v, ok := delta[settings.EffectSpeed]; ok {
		if _, err := c.get(ctx, "/setEffectSpeed", url.Values{"value": {formatValue(v, 0)}}); err != nil {
			return err
		}
	}
	if v, ok := delta[settings.EffectIntensity]; ok {
		if _, err := c.get(ctx, "/setEffectIntensity", url.Values{"value": {formatValue(v, 0)}}); err != nil {
			return err
		}
	}
	if v, ok := delta[settings.LightModeKey]; ok {
		if _, err := c.get(ctx, "/setLightMode", url.Values{"mode": {formatValue(v, 0)}}); err != nil {
			return err
		}
	}
	if v, ok := delta[settings.MotionSmoothing]; ok {
		if _, err := c.get(ctx, "/setMotionSmoothing", url.Values{"enabled": {formatValue(v, 0)}}); err != nil {
			return err
		}
	}

	for _, mp := range motionParams {
		v, ok := delta[mp.key]
		if !ok {
			continue
		}
		q := url.Values{"param": {mp.name}, "value": {formatValue(v, mp.decimals)}}
		body, err := c.get(ctx, "/setMotionSmoothingParam", q)
		if err != nil {
			return err
		}
		if err := checkStatusReply("/setMotionSmoothingParam", body); err != nil {
			return err
		}
	}

	return nil
}

// checkStatusReply inspects an optional {"status": "..."} reply. Non-JSON
// bodies count as success.
func checkStatusReply(endpoint string, body []byte) error {
	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &reply); err != nil || reply.Status == "" {
		return nil
	}
	if reply.Status != "success" {
		return &device.RejectedError{Endpoint: endpoint, Status: 200, Body: string(bytes.TrimSpace(body))}
	}
	return nil
}

func formatValue(v any, decimals int) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		if decimals == 0 {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return strconv.FormatFloat(x, 'f', decimals, 64)
	case settings.LightMode:
		return strconv.Itoa(x.Index())
	default:
		return fmt.Sprint(v)
	}
}
