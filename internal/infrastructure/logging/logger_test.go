package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "development", cfg: DevelopmentConfig()},
		{name: "bad level", cfg: Config{Level: "loud", OutputPaths: []string{"stderr"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger.Logger)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LogConfig{Level: "error"})
	assert.Equal(t, "error", cfg.Level)
	assert.False(t, cfg.Development)

	cfg = FromConfig(config.LogConfig{Development: true})
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.Development)
}

func TestReporterRateLimits(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewReporter(&Logger{Logger: zap.New(core)}, 0.0001, 2)

	for i := 0; i < 5; i++ {
		r.Warn("misuse", zap.Int("i", i))
	}

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, uint64(3), r.Suppressed())
}

func TestReporterNilLogger(t *testing.T) {
	r := NewReporter(nil, 1, 1)
	assert.NotPanics(t, func() { r.Warn("ignored") })
	assert.NotNil(t, r.Logger())
}
