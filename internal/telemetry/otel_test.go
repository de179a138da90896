package telemetry

import (
	"context"
	"strings"
	"testing"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"disabled", Options{ServiceName: "livebus", Endpoint: "http://localhost:4318", Enabled: false}},
		{"no endpoint", Options{ServiceName: "livebus", Enabled: true}},
		// Non-routable address so nothing is actually exported
		{"enabled", Options{ServiceName: "livebus", ServiceVersion: "v0.3.0", Endpoint: "http://192.0.2.1:4318", Enabled: true, PositionSource: "random", SampleRatio: 0.5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tc.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown error: %v", err)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tc := range tests {
		got := sampler(tc.ratio).Description()
		if !strings.Contains(got, tc.want) {
			t.Errorf("sampler(%v) = %q, expected it to contain %q", tc.ratio, got, tc.want)
		}
	}
}
