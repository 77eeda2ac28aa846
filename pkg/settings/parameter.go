package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/urmzd/ambisense/pkg/device"
)

// Kind is the value type of a Parameter.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindBoolean
	KindRGB
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindRGB:
		return "rgb"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RGB is a color triplet.
type RGB [3]uint8

// Parameter describes one configurable device setting.
type Parameter struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Kind    Kind     `json:"-"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Step    float64  `json:"step,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Icon    string   `json:"icon,omitempty"`
}

// MarshalJSON includes the kind name.
func (p Parameter) MarshalJSON() ([]byte, error) {
	type alias Parameter
	return json.Marshal(struct {
		alias
		Kind string `json:"kind"`
	}{alias(p), p.Kind.String()})
}

// Numeric reports whether the parameter has [Min, Max] bounds.
func (p Parameter) Numeric() bool {
	return p.Kind == KindInteger || p.Kind == KindFloat
}

// Validate checks value against the parameter and returns its canonical form:
// int for integers, float64 for floats, bool, RGB or LightMode.
func (p Parameter) Validate(value any) (any, error) {
	switch p.Kind {
	case KindInteger, KindFloat:
		f, err := toFloat(value)
		if err != nil {
			return nil, p.invalid(err.Error())
		}
		if f < p.Min || f > p.Max {
			return nil, p.invalid(fmt.Sprintf("%s outside [%s, %s]", formatNumber(f), formatNumber(p.Min), formatNumber(p.Max)))
		}
		f = p.snap(f)
		if p.Kind == KindInteger {
			return int(math.Round(f)), nil
		}
		return f, nil

	case KindBoolean:
		b, err := toBool(value)
		if err != nil {
			return nil, p.invalid(err.Error())
		}
		return b, nil

	case KindRGB:
		c, err := toRGB(value)
		if err != nil {
			return nil, p.invalid(err.Error())
		}
		return c, nil

	case KindEnum:
		switch v := value.(type) {
		case LightMode:
			if v >= lightModeCount {
				return nil, p.invalid(fmt.Sprintf("unknown light mode %d", uint8(v)))
			}
			return v, nil
		case string:
			m, err := ParseLightMode(v)
			if err != nil {
				return nil, p.invalid(err.Error())
			}
			return m, nil
		default:
			return nil, p.invalid(fmt.Sprintf("expected one of %s, got %T", strings.Join(p.Choices, ", "), value))
		}
	}
	return nil, p.invalid("unsupported parameter kind")
}

func (p Parameter) invalid(reason string) error {
	return &device.ValidationError{Key: p.Key, Reason: reason}
}

// snap rounds f to the nearest Step counted from Min. Rounding never leaves [Min, Max].
func (p Parameter) snap(f float64) float64 {
	if p.Step <= 0 {
		return f
	}
	n := math.Round((f - p.Min) / p.Step)
	snapped := p.Min + n*p.Step
	scale := math.Pow(10, float64(decimals(p.Step)))
	snapped = math.Round(snapped*scale) / scale
	return math.Max(p.Min, math.Min(p.Max, snapped))
}

// Selector returns the automation-host UI selector for the parameter.
func (p Parameter) Selector() map[string]any {
	switch p.Kind {
	case KindInteger, KindFloat:
		number := map[string]any{
			"min":  p.Min,
			"max":  p.Max,
			"step": p.Step,
			"mode": "slider",
		}
		if p.Unit != "" {
			number["unit_of_measurement"] = p.Unit
		}
		return map[string]any{"number": number}
	case KindBoolean:
		return map[string]any{"boolean": map[string]any{}}
	case KindRGB:
		return map[string]any{"color_rgb": map[string]any{}}
	case KindEnum:
		return map[string]any{"select": map[string]any{"options": p.Choices}}
	}
	return nil
}

func decimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toFloat(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on", "true", "1", "yes", "enable":
			return true, nil
		case "off", "false", "0", "no", "disable":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	f, err := toFloat(value)
	if err != nil {
		return false, fmt.Errorf("expected a boolean, got %T", value)
	}
	switch f {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %s", formatNumber(f))
}

func toRGB(value any) (RGB, error) {
	var parts []any
	switch v := value.(type) {
	case RGB:
		return v, nil
	case []any:
		parts = v
	case []int:
		for _, n := range v {
			parts = append(parts, n)
		}
	case []float64:
		for _, n := range v {
			parts = append(parts, n)
		}
	case [3]int:
		parts = []any{v[0], v[1], v[2]}
	default:
		return RGB{}, fmt.Errorf("expected three integers, got %T", value)
	}

	if len(parts) != 3 {
		return RGB{}, fmt.Errorf("expected exactly three components, got %d", len(parts))
	}

	var c RGB
	for i, part := range parts {
		f, err := toFloat(part)
		if err != nil {
			return RGB{}, fmt.Errorf("component %d: %v", i, err)
		}
		if f != math.Trunc(f) {
			return RGB{}, fmt.Errorf("component %d: %s is not an integer", i, formatNumber(f))
		}
		if f < 0 || f > 255 {
			return RGB{}, fmt.Errorf("component %d: %s outside [0, 255]", i, formatNumber(f))
		}
		c[i] = uint8(f)
	}
	return c, nil
}
