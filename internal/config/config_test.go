package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{
			name:   "valid configuration",
			config: &Config{LogLevel: "info", Delay: 200 * time.Millisecond},
		},
		{
			name:        "negative delay",
			config:      &Config{Delay: -time.Second},
			expectError: true,
		},
		{
			name:        "bad log level",
			config:      &Config{LogLevel: "shout"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	c := &Config{}
	c.setDefaults()
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "rtpjitter", c.MetricsNamespace)
	assert.Equal(t, 200*time.Millisecond, c.Delay)
	assert.NotNil(t, c.ClockRates)
}

func TestConfig_Merge(t *testing.T) {
	base := &Config{}
	base.setDefaults()

	other := &Config{LogLevel: "debug", Delay: time.Second, ClockRates: map[uint8]uint32{96: 48000}}
	present := map[string]bool{"log_level": true, "delay": true, "clock_rates": true}

	base.merge(other, present)
	assert.Equal(t, "debug", base.LogLevel)
	assert.Equal(t, time.Second, base.Delay)
	assert.Equal(t, uint32(48000), base.ClockRates[96])
}

func TestConfig_ClockRateFor(t *testing.T) {
	c := &Config{ClockRates: map[uint8]uint32{96: 48000}}

	assert.Equal(t, uint32(48000), c.ClockRateFor(96), "explicit override")
	assert.Equal(t, uint32(8000), c.ClockRateFor(0), "static PCMU assignment")
	assert.Equal(t, uint32(90000), c.ClockRateFor(97), "dynamic payload type default")
}

func TestConfig_String(t *testing.T) {
	c := &Config{LogLevel: "debug", MetricsEnabled: true, MetricsNamespace: "rtpjitter", Delay: time.Second}
	result := c.String()
	assert.Contains(t, result, "debug")
	assert.Contains(t, result, "rtpjitter")
	assert.Contains(t, result, "1s")
}
