package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkharvest/pkg/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"shouting", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestNewWithFileOutput(t *testing.T) {
	path := t.TempDir() + "/run.log"
	log, err := New(&config.LoggingConfig{Level: "info", File: path})
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("hello")
	assert.FileExists(t, path)
}

func TestTestLoggerCapture(t *testing.T) {
	log := NewTestLogger()

	log.Info("plain message")
	log.WarnWithFields("with fields", map[string]interface{}{"n": 1})
	log.WithField("account", "someclub").Error("scoped failure")
	log.WithError(assert.AnError).Error("wrapped failure")

	assert.True(t, log.HasMessage("plain message"))
	assert.True(t, log.HasError())
	assert.Len(t, log.GetMessages(), 4)

	warns := log.GetMessagesByLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, 1, warns[0].Fields["n"])

	errs := log.GetMessagesByLevel("ERROR")
	require.Len(t, errs, 2)
	assert.Equal(t, "someclub", errs[0].Fields["account"])
	assert.Equal(t, assert.AnError, errs[1].Error)

	log.Clear()
	assert.Empty(t, log.GetMessages())
}

func TestTestLoggerNestedContexts(t *testing.T) {
	log := NewTestLogger()

	log.WithField("a", 1).WithField("b", 2).Info("nested")

	msgs := log.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Fields["a"])
	assert.Equal(t, 2, msgs[0].Fields["b"])
}
