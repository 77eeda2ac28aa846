package settings

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/urmzd/ambisense/pkg/device"
)

// Parameter keys accepted by update_settings.
const (
	MinDistance             = "min_distance"
	MaxDistance             = "max_distance"
	Brightness              = "brightness"
	LightSpan               = "light_span"
	NumLEDs                 = "num_leds"
	RGBColor                = "rgb_color"
	CenterShift             = "center_shift"
	TrailLength             = "trail_length"
	EffectSpeed             = "effect_speed"
	EffectIntensity         = "effect_intensity"
	BackgroundMode          = "background_mode"
	DirectionalLight        = "directional_light"
	LightModeKey            = "light_mode"
	MotionSmoothing         = "motion_smoothing"
	PositionSmoothingFactor = "position_smoothing_factor"
	VelocitySmoothingFactor = "velocity_smoothing_factor"
	PredictionFactor        = "prediction_factor"
	PositionPGain           = "position_p_gain"
	PositionIGain           = "position_i_gain"
)

var parameters = []Parameter{
	{Key: MinDistance, Label: "Minimum Distance", Kind: KindInteger, Min: 0, Max: 200, Step: 1, Unit: "cm", Icon: "mdi:arrow-collapse-horizontal"},
	{Key: MaxDistance, Label: "Maximum Distance", Kind: KindInteger, Min: 50, Max: 500, Step: 1, Unit: "cm", Icon: "mdi:arrow-expand-horizontal"},
	{Key: Brightness, Label: "Brightness", Kind: KindInteger, Min: 0, Max: 255, Step: 1, Icon: "mdi:brightness-6"},
	{Key: LightSpan, Label: "Light Span", Kind: KindInteger, Min: 1, Max: 100, Step: 1, Icon: "mdi:led-strip"},
	{Key: NumLEDs, Label: "Number of LEDs", Kind: KindInteger, Min: 1, Max: 2000, Step: 1, Icon: "mdi:led-strip-variant"},
	{Key: RGBColor, Label: "Color", Kind: KindRGB, Icon: "mdi:palette"},
	{Key: CenterShift, Label: "Center Shift", Kind: KindInteger, Min: -100, Max: 100, Step: 1, Icon: "mdi:arrow-expand-horizontal"},
	{Key: TrailLength, Label: "Trail Length", Kind: KindInteger, Min: 0, Max: 100, Step: 1, Icon: "mdi:blur-linear"},
	{Key: EffectSpeed, Label: "Effect Speed", Kind: KindInteger, Min: 1, Max: 100, Step: 1, Unit: "%", Icon: "mdi:speedometer"},
	{Key: EffectIntensity, Label: "Effect Intensity", Kind: KindInteger, Min: 1, Max: 100, Step: 1, Unit: "%", Icon: "mdi:brightness-6"},
	{Key: BackgroundMode, Label: "Background Mode", Kind: KindBoolean, Icon: "mdi:lightbulb-group"},
	{Key: DirectionalLight, Label: "Directional Light", Kind: KindBoolean, Icon: "mdi:arrow-right-thick"},
	{Key: LightModeKey, Label: "Light Mode", Kind: KindEnum, Choices: LightModeNames(), Icon: "mdi:lightbulb-variant"},
	{Key: MotionSmoothing, Label: "Motion Smoothing", Kind: KindBoolean, Icon: "mdi:motion-sensor"},
	{Key: PositionSmoothingFactor, Label: "Position Smoothing Factor", Kind: KindFloat, Min: 0, Max: 1, Step: 0.01, Icon: "mdi:tune"},
	{Key: VelocitySmoothingFactor, Label: "Velocity Smoothing Factor", Kind: KindFloat, Min: 0, Max: 1, Step: 0.01, Icon: "mdi:tune"},
	{Key: PredictionFactor, Label: "Prediction Factor", Kind: KindFloat, Min: 0, Max: 1, Step: 0.01, Icon: "mdi:crystal-ball"},
	{Key: PositionPGain, Label: "Position P Gain", Kind: KindFloat, Min: 0, Max: 1, Step: 0.01, Icon: "mdi:tune-vertical"},
	{Key: PositionIGain, Label: "Position I Gain", Kind: KindFloat, Min: 0, Max: 0.1, Step: 0.001, Icon: "mdi:tune-vertical"},
}

var (
	byKey    = make(map[string]Parameter, len(parameters))
	document json.RawMessage
)

func init() {
	for _, p := range parameters {
		byKey[p.Key] = p
	}
	doc, err := json.Marshal(buildDocument())
	if err != nil {
		panic(fmt.Sprintf("settings: marshal schema document: %v", err))
	}
	document = doc
}

// Parameters returns the full parameter table in declaration order.
func Parameters() []Parameter {
	return append([]Parameter(nil), parameters...)
}

// Lookup returns the parameter for key.
func Lookup(key string) (Parameter, bool) {
	p, ok := byKey[key]
	return p, ok
}

// Validate checks a single value and returns its canonical form.
func Validate(key string, value any) (any, error) {
	p, ok := byKey[key]
	if !ok {
		return nil, &device.ValidationError{Key: key, Reason: "unknown setting"}
	}
	return p.Validate(value)
}

// ValidateDelta validates every field of raw. If any field fails, no Delta is
// returned; the error names the first failing key in sorted order.
func ValidateDelta(raw map[string]any) (Delta, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	delta := make(Delta, len(raw))
	for _, k := range keys {
		v, err := Validate(k, raw[k])
		if err != nil {
			return nil, err
		}
		delta[k] = v
	}
	return delta, nil
}

// Document returns the JSON Schema describing a settings payload.
func Document() json.RawMessage {
	return document
}

func buildDocument() map[string]any {
	props := make(map[string]any, len(parameters))
	for _, p := range parameters {
		prop := map[string]any{
			"title":      p.Label,
			"x-selector": p.Selector(),
		}
		switch p.Kind {
		case KindInteger:
			prop["type"] = "integer"
			prop["minimum"] = p.Min
			prop["maximum"] = p.Max
		case KindFloat:
			prop["type"] = "number"
			prop["minimum"] = p.Min
			prop["maximum"] = p.Max
		case KindBoolean:
			prop["type"] = "boolean"
		case KindRGB:
			prop["type"] = "array"
			prop["minItems"] = 3
			prop["maxItems"] = 3
			prop["items"] = map[string]any{"type": "integer", "minimum": 0, "maximum": 255}
		case KindEnum:
			prop["type"] = "string"
			prop["enum"] = p.Choices
		}
		if p.Unit != "" {
			prop["description"] = "Unit: " + p.Unit
		}
		props[p.Key] = prop
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                "AmbiSense settings",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}
