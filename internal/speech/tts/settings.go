package tts

import (
	"slices"

	"readaloud/internal/apperr"

	"github.com/spf13/cast"
)

// bounds is an inclusive numeric range; openLo excludes the lower edge.
type bounds struct {
	lo, hi float64
	openLo bool
}

func (b bounds) contains(v float64) bool {
	if b.openLo {
		return v > b.lo && v <= b.hi
	}
	return v >= b.lo && v <= b.hi
}

func (b bounds) String() string {
	open := "["
	if b.openLo {
		open = "("
	}
	return open + cast.ToString(b.lo) + ", " + cast.ToString(b.hi) + "]"
}

// settingsDraft is a working copy of an engine's settings. Engines write every
// candidate value into the draft and swap it in only when err is nil.
type settingsDraft struct {
	engine string
	values map[string]interface{}
	err    error
}

func newDraft(engine string, current map[string]interface{}) *settingsDraft {
	return &settingsDraft{engine: engine, values: copySettings(current)}
}

func (d *settingsDraft) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = apperr.Engine(nil, format, args...).WithContext("engine", d.engine)
	}
}

func (d *settingsDraft) number(in map[string]interface{}, key string, b bounds) {
	raw, ok := in[key]
	if !ok {
		return
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		d.fail("%s: %s must be a number, got %v", d.engine, key, raw)
		return
	}
	if !b.contains(v) {
		d.fail("%s: %s must be in %s, got %v", d.engine, key, b, v)
		return
	}
	d.values[key] = v
}

func (d *settingsDraft) flag(in map[string]interface{}, key string) {
	raw, ok := in[key]
	if !ok {
		return
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		d.fail("%s: %s must be a boolean, got %v", d.engine, key, raw)
		return
	}
	d.values[key] = v
}

// text accepts any non-empty string; when allowed is non-empty the value must
// be one of them.
func (d *settingsDraft) text(in map[string]interface{}, key string, allowed ...string) {
	raw, ok := in[key]
	if !ok {
		return
	}
	v, err := cast.ToStringE(raw)
	if err != nil || v == "" {
		d.fail("%s: %s must be a non-empty string, got %v", d.engine, key, raw)
		return
	}
	if len(allowed) > 0 && !slices.Contains(allowed, v) {
		d.fail("%s: unsupported %s %q", d.engine, key, v)
		return
	}
	d.values[key] = v
}

func copySettings(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func getFloat(s map[string]interface{}, key string) float64 {
	return cast.ToFloat64(s[key])
}

func getString(s map[string]interface{}, key string) string {
	return cast.ToString(s[key])
}

func getBool(s map[string]interface{}, key string) bool {
	return cast.ToBool(s[key])
}
