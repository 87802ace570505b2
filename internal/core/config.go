package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config는 전체 애플리케이션 설정을 담는 구조체
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Storage   StorageConfig   `yaml:"storage"`
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	HTTPPort   int  `yaml:"http_port"`
	Production bool `yaml:"production"`
}

// StreamConfig는 비디오 읽기 루프 설정
type StreamConfig struct {
	ReadInterval  time.Duration `yaml:"read_interval"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RTSPTransport string        `yaml:"rtsp_transport"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// AudioConfig는 오디오 디먹스 서브프로세스와 출력 장치 설정
type AudioConfig struct {
	FFmpegPath       string `yaml:"ffmpeg_path"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	ChunkSize        int    `yaml:"chunk_size"`
	EnabledByDefault bool   `yaml:"enabled_by_default"`
	DefaultVolume    int    `yaml:"default_volume"`
}

type RecordingConfig struct {
	OutputDir   string `yaml:"output_dir"`
	SnapshotDir string `yaml:"snapshot_dir"`
	Format      string `yaml:"format"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

type StorageConfig struct {
	CamerasFile  string `yaml:"cameras_file"`
	DatabasePath string `yaml:"database_path"`
}

type AppConfig struct {
	AutoStart          bool `yaml:"auto_start"`
	NotificationBuffer int  `yaml:"notification_buffer"`
	PreviewBuffer      int  `yaml:"preview_buffer"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// DefaultConfig는 설정 파일이 비어 있어도 동작하는 기본값을 반환합니다
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{HTTPPort: 8107},
		Stream: StreamConfig{
			ReadInterval:  33 * time.Millisecond,
			RetryDelay:    time.Second,
			RTSPTransport: "tcp",
			Timeout:       5 * time.Second,
			ProbeTimeout:  10 * time.Second,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			SampleRate: DefaultAudioFormat.SampleRate,
			Channels:   DefaultAudioFormat.Channels,
			ChunkSize:  DefaultAudioFormat.ChunkSize,
		},
		Recording: RecordingConfig{
			OutputDir:   "recordings",
			Format:      "mp4",
			Width:       1920,
			Height:      1080,
			FPS:         30,
			JPEGQuality: 90,
		},
		Storage: StorageConfig{
			CamerasFile:  "configs/cameras.yaml",
			DatabasePath: "data/rednvr.db",
		},
		App: AppConfig{
			AutoStart:          true,
			NotificationBuffer: 256,
			PreviewBuffer:      8,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "console",
			FilePath:   "logs/rednvr.log",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
	}
}

// LoadConfig는 YAML 파일에서 설정을 로드합니다.
// 파일에 없는 항목은 DefaultConfig 값을 유지합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Recording.SnapshotDir == "" {
		config.Recording.SnapshotDir = config.Recording.OutputDir
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate는 설정값의 유효성을 검증합니다
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Stream.ReadInterval < 0 {
		return fmt.Errorf("read_interval must not be negative")
	}
	if c.Stream.RetryDelay <= 0 {
		return fmt.Errorf("retry_delay must be positive")
	}
	switch c.Stream.RTSPTransport {
	case "tcp", "udp":
	default:
		return fmt.Errorf("invalid rtsp_transport: %q", c.Stream.RTSPTransport)
	}

	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return fmt.Errorf("audio sample_rate and channels must be positive")
	}
	// 16bit 샘플 프레임 단위로 나누어떨어져야 함
	if c.Audio.ChunkSize <= 0 || c.Audio.ChunkSize%(2*c.Audio.Channels) != 0 {
		return fmt.Errorf("invalid audio chunk_size: %d", c.Audio.ChunkSize)
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 100 {
		return fmt.Errorf("default_volume must be within 0..100")
	}

	if c.Recording.OutputDir == "" {
		return fmt.Errorf("recording output_dir is required")
	}
	if c.Recording.Width <= 0 || c.Recording.Height <= 0 {
		return fmt.Errorf("invalid recording geometry %dx%d", c.Recording.Width, c.Recording.Height)
	}
	if c.Recording.Width%2 != 0 || c.Recording.Height%2 != 0 {
		return fmt.Errorf("recording geometry must be even, got %dx%d", c.Recording.Width, c.Recording.Height)
	}
	if c.Recording.FPS <= 0 {
		return fmt.Errorf("recording fps must be positive")
	}
	if c.Recording.JPEGQuality < 1 || c.Recording.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be within 1..100")
	}

	if c.Storage.CamerasFile == "" {
		return fmt.Errorf("storage cameras_file is required")
	}

	return nil
}

// AudioFormat은 오디오 설정을 PCM 형식으로 변환합니다
func (c AudioConfig) AudioFormat() AudioFormat {
	return AudioFormat{SampleRate: c.SampleRate, Channels: c.Channels, ChunkSize: c.ChunkSize}
}
