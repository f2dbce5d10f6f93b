package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

func TestResolve_TotalSolarPower(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   float64
	}{
		{
			name:   "all channels absent",
			fields: map[string]any{"soc": 80.0},
			want:   0.0,
		},
		{
			name:   "empty snapshot",
			fields: nil,
			want:   0.0,
		},
		{
			name:   "numeric channels",
			fields: map[string]any{"powerdc1": 100.0, "powerdc2": 200.5, "powerdc3": 0.0, "powerdc4": 50.0},
			want:   350.5,
		},
		{
			name:   "string, null and garbage",
			fields: map[string]any{"powerdc1": "120.5", "powerdc2": nil, "powerdc3": "bad"},
			want:   120.5,
		},
		{
			name:   "padded numeric string",
			fields: map[string]any{"powerdc1": " 10 ", "powerdc4": 5},
			want:   15.0,
		},
		{
			name:   "unsupported type skipped",
			fields: map[string]any{"powerdc1": map[string]any{"w": 1.0}, "powerdc2": 7.0},
			want:   7.0,
		},
		{
			name:   "other fields ignored",
			fields: map[string]any{"powerdc1": 1.0, "powerdc5": 1000.0, "acpower": 99.0},
			want:   1.0,
		},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(KeyTotalSolarPower, solax.NewSnapshot(tt.fields))
			require.IsType(t, float64(0), got)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestResolve_TotalSolarPower_ZeroSnapshot(t *testing.T) {
	assert.Equal(t, 0.0, NewResolver().Resolve(KeyTotalSolarPower, solax.Snapshot{}))
}

func TestResolve_UTCDateTime(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  any
	}{
		{
			name:  "zulu string corrected by seven hours",
			value: "2025-12-28T09:43:55Z",
			want:  time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC),
		},
		{
			name:  "naive string",
			value: "2025-12-28T09:43:55",
			want:  time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC),
		},
		{
			name:  "space separator with fraction crosses midnight",
			value: "2025-12-31 20:00:00.250",
			want:  time.Date(2026, 1, 1, 3, 0, 0, 250_000_000, time.UTC),
		},
		{
			name:  "explicit offset keeps wall clock",
			value: "2025-12-28T09:43:55+02:00",
			want:  time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC),
		},
		{
			name:  "hour-only offset keeps wall clock",
			value: "2025-12-28T09:43:55+02",
			want:  time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC),
		},
		{
			name:  "basic format",
			value: "20251228T094355",
			want:  time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC),
		},
		{
			name:  "basic format with offset",
			value: "20251228T094355-0500",
			want:  time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC),
		},
		{
			name:  "basic date only",
			value: "20251228",
			want:  time.Date(2025, 12, 28, 7, 0, 0, 0, time.UTC),
		},
		{
			name:  "date only",
			value: "2025-12-28",
			want:  time.Date(2025, 12, 28, 7, 0, 0, 0, time.UTC),
		},
		{
			name:  "not a date",
			value: "not-a-date",
			want:  nil,
		},
		{
			name:  "empty string",
			value: "",
			want:  nil,
		},
		{
			name:  "number",
			value: 1735379035.0,
			want:  nil,
		},
		{
			name:  "null",
			value: nil,
			want:  nil,
		},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(KeyUTCDateTime, solax.NewSnapshot(map[string]any{KeyUTCDateTime: tt.value}))
			assert.Equal(t, tt.want, got)
			if ts, ok := got.(time.Time); ok {
				assert.Equal(t, time.UTC, ts.Location())
			}
		})
	}
}

func TestResolve_UTCDateTime_Absent(t *testing.T) {
	assert.Nil(t, NewResolver().Resolve(KeyUTCDateTime, solax.NewSnapshot(map[string]any{})))
}

func TestResolve_UTCDateTime_StructuredPassThrough(t *testing.T) {
	ts := time.Date(2025, 12, 28, 9, 43, 55, 0, time.FixedZone("CET", 3600))
	got := NewResolver().Resolve(KeyUTCDateTime, solax.NewSnapshot(map[string]any{KeyUTCDateTime: ts}))
	assert.Equal(t, ts, got)
}

func TestResolve_UTCDateTime_CustomCorrection(t *testing.T) {
	r := NewResolver(WithUTCCorrection(0))
	got := r.Resolve(KeyUTCDateTime, solax.NewSnapshot(map[string]any{KeyUTCDateTime: "2025-12-28T09:43:55Z"}))
	assert.Equal(t, time.Date(2025, 12, 28, 9, 43, 55, 0, time.UTC), got)
	assert.Equal(t, time.Duration(0), r.UTCCorrection())
}

func TestResolve_PassThrough(t *testing.T) {
	fields := map[string]any{
		"uploadTime": "2025-12-28 09:43:55",
		"soc":        87.0,
		"yieldtoday": 12.4,
		"powerdc1":   "612.5",
		"batcycle":   nil,
		"flag":       true,
	}
	snap := solax.NewSnapshot(fields)
	r := NewResolver()

	for key, want := range fields {
		assert.Equal(t, want, r.Resolve(key, snap), key)
	}
	assert.Nil(t, r.Resolve("yieldtotal", snap))
	assert.Nil(t, r.Resolve("soc", solax.Snapshot{}))
}

func TestResolve_Idempotent(t *testing.T) {
	snap := solax.NewSnapshot(map[string]any{
		"powerdc1":     "120.5",
		"powerdc2":     30.0,
		KeyUTCDateTime: "2025-12-28T09:43:55Z",
		"soc":          55.0,
	})
	r := NewResolver()

	for _, d := range Descriptors() {
		first := r.Resolve(d.Key, snap)
		second := r.Resolve(d.Key, snap)
		assert.Equal(t, first, second, d.Key)
	}
}

func TestResolve_EveryDescriptorResolves(t *testing.T) {
	r := NewResolver()
	for _, d := range Descriptors() {
		assert.NotPanics(t, func() { r.Resolve(d.Key, solax.Snapshot{}) }, d.Key)
	}
}

func TestNumeric(t *testing.T) {
	ts := time.Date(2025, 12, 28, 16, 43, 55, 0, time.UTC)
	tests := []struct {
		name   string
		value  any
		want   float64
		wantOK bool
	}{
		{"float", 12.5, 12.5, true},
		{"int", 3, 3, true},
		{"numeric string", "4.5", 4.5, true},
		{"serial", "H1234567890", 0, false},
		{"timestamp", ts, float64(ts.Unix()), true},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Numeric(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
