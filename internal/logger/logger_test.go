package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogRotation(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	// 1MB is the smallest size lumberjack accepts; ~3MB of output rotates twice.
	require.NoError(t, Setup(Options{
		Level:    "debug",
		File:     logFile,
		Rotation: Rotation{MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 1},
		Quiet:    true,
	}))
	defer Sync()

	log := Named("staging")
	payload := strings.Repeat("x", 200)
	for i := 0; i < 15000; i++ {
		log.Info("upload", zap.Int("entry", i), zap.String("payload", payload))
	}
	Sync()

	require.FileExists(t, logFile)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var rotated []string
	for _, e := range entries {
		if e.Name() != "test.log" && strings.HasPrefix(e.Name(), "test-") {
			rotated = append(rotated, e.Name())
		}
	}
	require.NotEmpty(t, rotated, "expected rotated backups next to %s", logFile)
	for _, name := range rotated {
		// test-YYYY-MM-DDTHH-MM-SS.SSS.log
		assert.Contains(t, name, "-20")
		assert.True(t, strings.HasSuffix(name, ".log"), name)
	}
}

func TestLevelFiltering(t *testing.T) {
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR"}

	for i, level := range levels {
		t.Run(level, func(t *testing.T) {
			logFile := filepath.Join(t.TempDir(), "level.log")
			require.NoError(t, Setup(Options{Level: level, File: logFile, Quiet: true}))

			log := Named("render")
			log.Debug("debug message")
			log.Info("info message")
			log.Warn("warn message")
			log.Error("error message")
			Sync()

			content, err := os.ReadFile(logFile)
			require.NoError(t, err)
			for j, other := range levels {
				if j >= i {
					assert.Contains(t, string(content), other)
				} else {
					assert.NotContains(t, string(content), other)
				}
			}
		})
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	before := Log
	err := Setup(Options{Level: "verbose", Quiet: true})
	require.Error(t, err)
	assert.Same(t, before, Log, "logger unchanged on error")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestDefaultRotation(t *testing.T) {
	assert.Equal(t, Rotation{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7, Compress: true}, DefaultRotation())
}

func TestNamedBeforeSetup(t *testing.T) {
	// The default logger discards output; Named must still be usable.
	l := Named("render")
	require.NotNil(t, l)
	l.Info("discarded")
}

func TestNamedWritesComponent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "named.log")
	require.NoError(t, Setup(Options{File: logFile, Quiet: true}))

	Named("staging").Info("uploaded")
	Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "staging")
}
