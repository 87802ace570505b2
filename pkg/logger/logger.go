package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log는 전역 로거 인스턴스
	Log *zap.Logger

	mu         sync.Mutex
	logConfig  *LogConfig
	fileWriter *lumberjack.Logger
	cancel     context.CancelFunc
)

// LogConfig는 로거 설정
type LogConfig struct {
	Level      string
	Output     string // console, file, both
	FilePath   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

// InitLogger는 zap 로거를 초기화합니다
func InitLogger(cfg LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	logConfig = &cfg
	if err := buildCore(cfg); err != nil {
		return err
	}

	if cfg.Output == "file" || cfg.Output == "both" {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go rotateDaily(ctx)
	}

	return nil
}

// Named는 컴포넌트 이름이 붙은 자식 로거를 반환합니다.
// InitLogger 전에 호출되면 nop 로거를 돌려줍니다.
func Named(component string) *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log.Named(component)
}

// OrNop은 nil 로거를 nop 로거로 바꿉니다
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// buildCore는 설정에 맞는 코어를 만들어 Log를 교체합니다 (mu 보유 상태에서 호출)
func buildCore(cfg LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleConfig := encoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(os.Stdout), level)

	var core zapcore.Core
	switch cfg.Output {
	case "file":
		fileWriter = newFileWriter(cfg)
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level)
	case "both":
		fileWriter = newFileWriter(cfg)
		core = zapcore.NewTee(
			consoleCore,
			zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level),
		)
	default:
		core = consoleCore
	}

	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return nil
}

// newFileWriter는 날짜가 붙은 lumberjack writer를 생성합니다
func newFileWriter(cfg LogConfig) *lumberjack.Logger {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
	}

	return &lumberjack.Logger{
		Filename:   dailyFilePath(cfg.FilePath, time.Now()),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
		Compress:   true,
	}
}

// dailyFilePath는 logs/rednvr.log -> logs/rednvr-2025-11-17.log 형태로 변환합니다
func dailyFilePath(basePath string, now time.Time) string {
	ext := filepath.Ext(basePath)
	return fmt.Sprintf("%s-%s%s", strings.TrimSuffix(basePath, ext), now.Format("2006-01-02"), ext)
}

// rotateDaily는 자정마다 새 날짜 파일로 로거를 재구성합니다
func rotateDaily(ctx context.Context) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		select {
		case <-time.After(next.Sub(now)):
			mu.Lock()
			if Log != nil {
				_ = Log.Sync()
			}
			if fileWriter != nil {
				_ = fileWriter.Close()
			}
			if logConfig != nil {
				_ = buildCore(*logConfig)
			}
			mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// Close는 로거를 종료하고 리소스를 정리합니다
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if Log != nil {
		_ = Log.Sync()
	}
	if fileWriter != nil {
		_ = fileWriter.Close()
	}
}

// Sync는 로거 버퍼를 플러시합니다
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// Info는 info 레벨 로그를 출력합니다
func Info(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Info(msg, fields...)
	}
}

// Debug는 debug 레벨 로그를 출력합니다
func Debug(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Debug(msg, fields...)
	}
}

// Warn는 warn 레벨 로그를 출력합니다
func Warn(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Warn(msg, fields...)
	}
}

// Error는 error 레벨 로그를 출력합니다
func Error(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Error(msg, fields...)
	}
}

// Fatal는 fatal 레벨 로그를 출력하고 프로그램을 종료합니다
func Fatal(msg string, fields ...zap.Field) {
	if Log != nil {
		Log.Fatal(msg, fields...)
	}
	os.Exit(1)
}
