package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    log.Level
		wantErr bool
	}{
		{"", log.WarnLevel, false},
		{"warn", log.WarnLevel, false},
		{"warning", log.WarnLevel, false},
		{"WARNING", log.WarnLevel, false},
		{"debug", log.DebugLevel, false},
		{" Info ", log.InfoLevel, false},
		{"error", log.ErrorLevel, false},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("filters below the level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer, err := New(Options{Level: "warn", Output: &buf})
		require.NoError(t, err)
		defer closer.Close()

		logger.Info("quiet")
		logger.Warn("loud", "key", "value")

		assert.NotContains(t, buf.String(), "quiet")
		assert.Contains(t, buf.String(), "loud")
		assert.Contains(t, buf.String(), "key=value")
	})

	t.Run("writes to a file in the log directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "logs")
		logger, closer, err := New(Options{Level: "debug", Dir: dir})
		require.NoError(t, err)

		logger.Debug("to file")
		require.NoError(t, closer.Close())

		content, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		assert.Contains(t, string(content), "to file")
	})

	t.Run("rejects unknown levels", func(t *testing.T) {
		_, _, err := New(Options{Level: "chatty"})
		assert.ErrorContains(t, err, "invalid log level")
	})
}
