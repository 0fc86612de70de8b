package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLog(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, InitLog("loud", Console))
	})

	t.Run("console", func(t *testing.T) {
		require.NoError(t, InitLog("debug", Console))
		assert.Equal(t, log.DebugLevel, log.GetLevel())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "sparks.log")
		require.NoError(t, InitLog("warn", path))
		log.Warn("written to file")

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), "written to file")
		assert.Equal(t, log.WarnLevel, log.GetLevel())
	})
}
