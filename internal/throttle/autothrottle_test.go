package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SpikeWindow:       time.Minute,
		SpikeThreshold:    3,
		ThrottleCooldown:  time.Hour, // disable repeat-throttle flakiness in tests
		ThrottleReduction: 0.20,
		StableDuration:    2,
		RestoreIncrement:  0.10,
		FloorFactor:       0.2,
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	c := NewController(testConfig(), nil)
	c.Register("anthropic", 100)
	c.Register("anthropic", 999) // second call must not overwrite

	rpm, ok := c.CurrentRPM("anthropic")
	require.True(t, ok)
	assert.Equal(t, 100, rpm)
}

func TestRecordErrorThrottlesAfterSpikeThreshold(t *testing.T) {
	c := NewController(testConfig(), nil)
	c.Register("anthropic", 100)

	var st State
	for i := 0; i < 3; i++ {
		st = c.RecordError("anthropic")
	}

	assert.True(t, st.IsThrottled)
	assert.Equal(t, 80, st.CurrentRPM) // 100 * (1 - 0.20)
	assert.Equal(t, 1, st.SpikeCount)
}

func TestRecordErrorBelowThresholdDoesNotThrottle(t *testing.T) {
	c := NewController(testConfig(), nil)
	c.Register("anthropic", 100)

	st := c.RecordError("anthropic")
	assert.False(t, st.IsThrottled)
	assert.Equal(t, 100, st.CurrentRPM)
}

func TestThrottleFactorFlooredAtConfiguredMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleCooldown = 0 // allow repeated throttling in this test
	c := NewController(cfg, nil)
	c.Register("anthropic", 100)

	var st State
	for round := 0; round < 20; round++ {
		for i := 0; i < cfg.SpikeThreshold; i++ {
			st = c.RecordError("anthropic")
		}
	}
	assert.GreaterOrEqual(t, st.ThrottleFactor, cfg.FloorFactor)
	assert.InDelta(t, cfg.FloorFactor, st.ThrottleFactor, 0.01)
}

func TestCheckRestoreRequiresStableMinutesWithNoErrors(t *testing.T) {
	c := NewController(testConfig(), nil)
	c.Register("anthropic", 100)
	for i := 0; i < 3; i++ {
		c.RecordError("anthropic")
	}

	st := c.CheckRestore("anthropic")
	assert.Equal(t, 1, st.ConsecutiveStableMinutes)
	assert.True(t, st.IsThrottled)

	st = c.CheckRestore("anthropic") // second stable minute reaches StableDuration=2
	assert.True(t, st.ThrottleFactor > 0.8)
}

func TestCheckRestoreResetsOnNewErrorSinceLastCheck(t *testing.T) {
	c := NewController(testConfig(), nil)
	c.Register("anthropic", 100)
	for i := 0; i < 3; i++ {
		c.RecordError("anthropic")
	}

	c.CheckRestore("anthropic") // one stable minute accrued

	c.RecordError("anthropic") // a fresh error after the stability reset point
	st := c.CheckRestore("anthropic")
	assert.Equal(t, 0, st.ConsecutiveStableMinutes)
}

func TestCheckRestoreFullyClearsThrottleAtFactorOne(t *testing.T) {
	cfg := testConfig()
	cfg.FloorFactor = 0.5
	cfg.RestoreIncrement = 1.0 // restores to >=1.0 in a single stable period
	cfg.StableDuration = 1
	c := NewController(cfg, nil)
	c.Register("anthropic", 100)
	for i := 0; i < 3; i++ {
		c.RecordError("anthropic")
	}

	st := c.CheckRestore("anthropic")
	assert.False(t, st.IsThrottled)
	assert.Equal(t, 100, st.CurrentRPM)
}

func TestCurrentRPMUnregisteredProviderReturnsFalse(t *testing.T) {
	c := NewController(testConfig(), nil)
	_, ok := c.CurrentRPM("unknown")
	assert.False(t, ok)
}

func TestOnSpikeHookFiresOnThrottle(t *testing.T) {
	fired := make(chan State, 1)
	c := NewController(testConfig(), func(provider string, state State) {
		fired <- state
	})
	c.Register("anthropic", 100)
	for i := 0; i < 3; i++ {
		c.RecordError("anthropic")
	}

	select {
	case st := <-fired:
		assert.True(t, st.IsThrottled)
	case <-time.After(time.Second):
		t.Fatal("onSpike hook never fired")
	}
}
