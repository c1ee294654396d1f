package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLogWriterCopiesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedsync.log")
	var stdout bytes.Buffer

	logger := zerolog.New(logWriter(Config{File: path, MaxSizeMB: 1}, &stdout))
	logger.Info().Str("source", "news").Msg("run finished")

	require.Contains(t, stdout.String(), `"source":"news"`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"message":"run finished"`), "日志文件应包含同样的 JSON 行")
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "WARN"})
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger = NewLogger(Config{Level: "bogus"})
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
