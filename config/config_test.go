package config

import (
	"strings"
	"testing"
)

func TestConfig_HasSeeds(t *testing.T) {
	tests := []struct {
		name  string
		seeds []string
		want  bool
	}{
		{"none", nil, false},
		{"empty slice", []string{}, false},
		{"one seed", []string{"10.0.0.1:7946"}, true},
	}

	for _, tt := range tests {
		c := &Config{Seeds: tt.seeds}
		if got := c.HasSeeds(); got != tt.want {
			t.Errorf("%s: HasSeeds() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConfig_StringIncludesSeedsOrSelfHosting(t *testing.T) {
	withSeeds := &Config{Seeds: []string{"10.0.0.1:7946", "10.0.0.2:7946"}}
	out := withSeeds.String()
	if !strings.Contains(out, "10.0.0.1:7946, 10.0.0.2:7946") {
		t.Errorf("String() did not list seeds: %s", out)
	}

	noSeeds := &Config{}
	out = noSeeds.String()
	if !strings.Contains(out, "self-hosting") {
		t.Errorf("String() should note self-hosting with no seeds: %s", out)
	}
}

func TestConfig_StringOmitsMetricsSectionWhenUnset(t *testing.T) {
	c := &Config{}
	if strings.Contains(c.String(), "METRICS") {
		t.Error("String() should omit the Metrics section when MetricsAddr is empty")
	}

	c.MetricsAddr = "0.0.0.0:9090"
	if !strings.Contains(c.String(), "METRICS") {
		t.Error("String() should include the Metrics section once MetricsAddr is set")
	}
}

func TestDefault(t *testing.T) {
	d := Default()
	if d.BufSize != 512 {
		t.Errorf("BufSize = %d, want 512", d.BufSize)
	}
	if d.ParallelOps != 16 {
		t.Errorf("ParallelOps = %d, want 16", d.ParallelOps)
	}
	if d.AutoFlushFreqMillis != 0 {
		t.Errorf("AutoFlushFreqMillis = %d, want 0", d.AutoFlushFreqMillis)
	}
}
