package sensor

import (
	"strconv"
	"strings"
	"time"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

// Keys with derived values
const (
	KeyTotalSolarPower = "total_solar_power"
	KeyUTCDateTime     = "utcDateTime"
)

// DefaultUTCCorrection is added to utcDateTime. SolaX Cloud reports that
// field 7 hours behind real UTC.
const DefaultUTCCorrection = 7 * time.Hour

// mpptPowerKeys are summed into total_solar_power
var mpptPowerKeys = []string{"powerdc1", "powerdc2", "powerdc3", "powerdc4"}

// naive ISO-8601 layouts accepted for utcDateTime, tried in order
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15",
	"2006-01-02",
	"20060102T150405.999999999",
	"20060102T1504",
	"20060102T15",
	"20060102",
}

// same layouts with an explicit offset; the offset is dropped and the
// wall clock kept
var offsetLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07",
	"20060102T150405.999999999Z0700",
	"20060102T150405.999999999Z07",
}

// Resolver maps a field key and a snapshot to the externally visible value.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	utcCorrection time.Duration
}

// ResolverOption customises a Resolver
type ResolverOption func(*Resolver)

// WithUTCCorrection overrides the offset added to utcDateTime
func WithUTCCorrection(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.utcCorrection = d
	}
}

// NewResolver creates a Resolver using DefaultUTCCorrection unless overridden
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{utcCorrection: DefaultUTCCorrection}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UTCCorrection returns the offset applied to utcDateTime
func (r *Resolver) UTCCorrection() time.Duration {
	return r.utcCorrection
}

// Resolve returns the value for key. It never fails: absent or unusable
// values resolve to nil, except total_solar_power which is always a float64.
func (r *Resolver) Resolve(key string, snap solax.Snapshot) any {
	switch key {
	case KeyTotalSolarPower:
		return totalSolarPower(snap)
	case KeyUTCDateTime:
		if t, ok := r.correctedUTC(snap); ok {
			return t
		}
		return nil
	default:
		v, _ := snap.Get(key)
		return v
	}
}

func totalSolarPower(snap solax.Snapshot) float64 {
	total := 0.0
	for _, key := range mpptPowerKeys {
		v, ok := snap.Get(key)
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			total += f
		}
	}
	return total
}

func (r *Resolver) correctedUTC(snap solax.Snapshot) (time.Time, bool) {
	v, ok := snap.Get(KeyUTCDateTime)
	if !ok || v == nil {
		return time.Time{}, false
	}

	switch raw := v.(type) {
	case time.Time:
		return raw, true
	case string:
		t, ok := parseNaive(strings.TrimSuffix(raw, "Z"))
		if !ok {
			return time.Time{}, false
		}
		return t.Add(r.utcCorrection), true
	default:
		return time.Time{}, false
	}
}

// parseNaive parses s as a wall-clock timestamp labelled UTC
func parseNaive(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), true
		}
	}
	return time.Time{}, false
}

// toFloat converts the numeric shapes found in a snapshot
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Numeric returns the float64 form of a resolved value. Timestamps become
// Unix seconds; booleans, nil and non-numeric strings are not numeric.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case nil, bool:
		return 0, false
	case time.Time:
		return float64(n.Unix()), true
	default:
		return toFloat(n)
	}
}
