package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyFilePath(t *testing.T) {
	day := time.Date(2025, 11, 17, 9, 30, 0, 0, time.Local)

	assert.Equal(t, "logs/rednvr-2025-11-17.log", dailyFilePath("logs/rednvr.log", day))
	assert.Equal(t, "rednvr-2025-11-17", dailyFilePath("rednvr", day))
}

func TestNamedWithoutInit(t *testing.T) {
	saved := Log
	Log = nil
	defer func() { Log = saved }()

	l := Named("session")
	require.NotNil(t, l)
	// nop 로거는 패닉 없이 무시해야 함
	l.Info("ignored")

	assert.NotNil(t, OrNop(nil))
}

func TestInitLoggerFile(t *testing.T) {
	saved := Log
	defer func() {
		Close()
		Log = saved
	}()

	dir := t.TempDir()
	err := InitLogger(LogConfig{
		Level:    "debug",
		Output:   "file",
		FilePath: dir + "/rednvr.log",
		MaxSize:  1,
	})
	require.NoError(t, err)
	require.NotNil(t, Log)

	Info("hello")
	Sync()
	assert.FileExists(t, dailyFilePath(dir+"/rednvr.log", time.Now()))
}
