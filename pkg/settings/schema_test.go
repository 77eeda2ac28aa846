package settings

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/urmzd/ambisense/pkg/device"
)

func TestValidate_AcceptsBoundsForEveryNumericParameter(t *testing.T) {
	for _, p := range Parameters() {
		if !p.Numeric() {
			continue
		}
		for _, v := range []float64{p.Min, p.Max} {
			if _, err := Validate(p.Key, v); err != nil {
				t.Errorf("%s: boundary %v rejected: %v", p.Key, v, err)
			}
		}
	}
}

func TestValidate_RejectsOutsideBoundsForEveryNumericParameter(t *testing.T) {
	for _, p := range Parameters() {
		if !p.Numeric() {
			continue
		}
		eps := p.Step / 10
		for _, v := range []float64{p.Min - eps, p.Max + eps, p.Min - 1000, p.Max + 1000} {
			_, err := Validate(p.Key, v)
			if !errors.Is(err, device.ErrValidation) {
				t.Errorf("%s: %v should be rejected, got %v", p.Key, v, err)
			}
		}
	}
}

func TestValidate_BrightnessTooHigh(t *testing.T) {
	_, err := Validate(Brightness, float64(300))
	if !errors.Is(err, device.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var verr *device.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *device.ValidationError, got %T", err)
	}
	if verr.Key != Brightness {
		t.Errorf("key = %q, want %q", verr.Key, Brightness)
	}
}

func TestValidate_IntegerRoundsToStep(t *testing.T) {
	v, err := Validate(NumLEDs, 119.6)
	if err != nil {
		t.Fatal(err)
	}
	if v != 120 {
		t.Errorf("got %v (%T), want 120", v, v)
	}
}

func TestValidate_FloatRoundsToStep(t *testing.T) {
	v, err := Validate(PositionIGain, 0.0126)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.013 {
		t.Errorf("got %v, want 0.013", v)
	}

	v, err = Validate(PredictionFactor, 0.304)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.3 {
		t.Errorf("got %v, want 0.3", v)
	}
}

func TestValidate_NegativeRangeRoundsFromMin(t *testing.T) {
	v, err := Validate(CenterShift, -99.4)
	if err != nil {
		t.Fatal(err)
	}
	if v != -99 {
		t.Errorf("got %v, want -99", v)
	}
}

func TestValidate_NumericStringsAreCoerced(t *testing.T) {
	v, err := Validate(MaxDistance, "250")
	if err != nil {
		t.Fatal(err)
	}
	if v != 250 {
		t.Errorf("got %v, want 250", v)
	}
}

func TestValidate_WrongType(t *testing.T) {
	if _, err := Validate(Brightness, true); !errors.Is(err, device.ErrValidation) {
		t.Errorf("bool brightness should be rejected, got %v", err)
	}
	if _, err := Validate(Brightness, "bright"); !errors.Is(err, device.ErrValidation) {
		t.Errorf("non-numeric string should be rejected, got %v", err)
	}
}

func TestValidate_UnknownKey(t *testing.T) {
	_, err := Validate("warp_speed", 9)
	if !errors.Is(err, device.ErrValidation) {
		t.Errorf("unknown key should be rejected, got %v", err)
	}
}

func TestValidate_LightMode(t *testing.T) {
	v, err := Validate(LightModeKey, "Rainbow")
	if err != nil {
		t.Fatal(err)
	}
	if v != LightModeRainbow {
		t.Errorf("got %v, want Rainbow", v)
	}

	v, err = Validate(LightModeKey, "theater_chase")
	if err != nil {
		t.Fatal(err)
	}
	if v != LightModeTheaterChase {
		t.Errorf("got %v, want Theater Chase", v)
	}
}

func TestValidate_LightModeRejectsUnknownName(t *testing.T) {
	if _, err := Validate(LightModeKey, "Disco"); !errors.Is(err, device.ErrValidation) {
		t.Errorf("unknown mode should be rejected, got %v", err)
	}
	if _, err := Validate(LightModeKey, 3); !errors.Is(err, device.ErrValidation) {
		t.Errorf("numeric mode should be rejected, got %v", err)
	}
}

func TestValidate_RGB(t *testing.T) {
	v, err := Validate(RGBColor, []any{float64(255), float64(0), float64(128)})
	if err != nil {
		t.Fatal(err)
	}
	if v != (RGB{255, 0, 128}) {
		t.Errorf("got %v", v)
	}
}

func TestValidate_RGBRejectsBadTriplets(t *testing.T) {
	bad := []any{
		[]any{float64(1), float64(2)},
		[]any{float64(1), float64(2), float64(3), float64(4)},
		[]any{float64(256), float64(0), float64(0)},
		[]any{float64(-1), float64(0), float64(0)},
		[]any{1.5, float64(0), float64(0)},
		"red",
	}
	for _, v := range bad {
		if _, err := Validate(RGBColor, v); !errors.Is(err, device.ErrValidation) {
			t.Errorf("%v should be rejected, got %v", v, err)
		}
	}
}

func TestValidate_Boolean(t *testing.T) {
	for in, want := range map[any]bool{true: true, false: false, "on": true, "OFF": false, "true": true} {
		v, err := Validate(BackgroundMode, in)
		if err != nil {
			t.Errorf("%v: %v", in, err)
			continue
		}
		if v != want {
			t.Errorf("%v: got %v, want %v", in, v, want)
		}
	}
	if _, err := Validate(BackgroundMode, "maybe"); !errors.Is(err, device.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestValidateDelta_AllOrNothing(t *testing.T) {
	delta, err := ValidateDelta(map[string]any{
		Brightness: float64(100),
		NumLEDs:    float64(5000),
	})
	if !errors.Is(err, device.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if delta != nil {
		t.Errorf("failed delta must be nil, got %v", delta)
	}
}

func TestValidateDelta_Canonicalizes(t *testing.T) {
	delta, err := ValidateDelta(map[string]any{
		Brightness:   float64(100),
		LightModeKey: "comet",
	})
	if err != nil {
		t.Fatal(err)
	}
	if delta[Brightness] != 100 || delta[LightModeKey] != LightModeComet {
		t.Errorf("unexpected delta %v", delta)
	}
}

func TestDocument_ListsEveryParameter(t *testing.T) {
	var doc struct {
		Properties           map[string]json.RawMessage `json:"properties"`
		AdditionalProperties bool                       `json:"additionalProperties"`
	}
	if err := json.Unmarshal(Document(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.AdditionalProperties {
		t.Error("document must forbid additional properties")
	}
	if len(doc.Properties) != len(Parameters()) {
		t.Errorf("got %d properties, want %d", len(doc.Properties), len(Parameters()))
	}
	if len(Parameters()) != 19 {
		t.Errorf("got %d parameters, want 19", len(Parameters()))
	}
}

func TestLightModes_Closed(t *testing.T) {
	if len(LightModes()) != 11 {
		t.Fatalf("got %d modes, want 11", len(LightModes()))
	}
	for _, m := range LightModes() {
		parsed, err := ParseLightMode(m.String())
		if err != nil || parsed != m {
			t.Errorf("%v did not parse back: %v", m, err)
		}
	}
	if _, err := LightModeFromIndex(11); err == nil {
		t.Error("index 11 should be out of range")
	}
}

func TestSnapshot_MergeDoesNotMutate(t *testing.T) {
	s := Snapshot{Brightness: 10}
	merged := s.Merge(Delta{Brightness: 20, NumLEDs: 60})
	if s[Brightness] != 10 || len(s) != 1 {
		t.Errorf("original mutated: %v", s)
	}
	if merged[Brightness] != 20 || merged[NumLEDs] != 60 {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if merged.Equal(s) {
		t.Error("merged snapshot should differ")
	}
	if !merged.Equal(merged.Clone()) {
		t.Error("clone should be equal")
	}
}
