package settings

import "sort"

// Snapshot maps parameter keys to their last confirmed (or assumed) values.
// Values are always in canonical form, so they compare with ==.
type Snapshot map[string]any

// Delta is a caller-requested partial change.
type Delta map[string]any

// Clone returns an independent copy. A nil snapshot clones to an empty one.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a copy of s with d applied.
func (s Snapshot) Merge(d Delta) Snapshot {
	out := s.Clone()
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Equal reports whether both snapshots hold the same keys and values.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delta converts the whole snapshot into a delta, as used by apply_settings.
func (s Snapshot) Delta() Delta {
	d := make(Delta, len(s))
	for k, v := range s {
		d[k] = v
	}
	return d
}

// Keys returns the keys in sorted order.
func (d Delta) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int returns an integer setting.
func (s Snapshot) Int(key string) (int, bool) {
	v, ok := s[key].(int)
	return v, ok
}

// Float returns a float setting.
func (s Snapshot) Float(key string) (float64, bool) {
	v, ok := s[key].(float64)
	return v, ok
}

// Bool returns a boolean setting.
func (s Snapshot) Bool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

// Color returns the rgb_color setting.
func (s Snapshot) Color() (RGB, bool) {
	v, ok := s[RGBColor].(RGB)
	return v, ok
}

// Mode returns the light_mode setting.
func (s Snapshot) Mode() (LightMode, bool) {
	v, ok := s[LightModeKey].(LightMode)
	return v, ok
}
