package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

const timestampLayout = "20060102_150405"

// VideoSpec은 녹화 파일의 고정 해상도와 프레임레이트
type VideoSpec struct {
	Width  int
	Height int
	FPS    int
}

// Encoder는 프레임을 인코딩해 파일에 덧붙입니다.
// 해상도가 VideoSpec과 다른 프레임은 VideoSpec 크기로 스케일합니다.
type Encoder interface {
	WriteFrame(frame *core.FrameBuffer) error
	Close() error // flush 후 파일을 닫음
}

// EncoderFactory는 출력 파일 경로에 인코더를 생성합니다
type EncoderFactory interface {
	Create(path string, spec VideoSpec) (Encoder, error)
}

// Status는 녹화 상태
type Status int

const (
	Idle Status = iota
	Recording
)

func (s Status) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// State는 현재 녹화 상태 스냅샷
type State struct {
	Status    Status    `json:"-"`
	Path      string    `json:"path,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Frames    uint64    `json:"frames"`
}

// Result는 종료된 녹화 한 건의 정보
type Result struct {
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Frames    uint64    `json:"frames"`
	SizeBytes int64     `json:"size_bytes"`
}

// Config는 녹화 싱크 설정
type Config struct {
	OutputDir string
	Format    string // 파일 확장자 (mp4)
	Spec      VideoSpec
	Encoder   EncoderFactory
	Logger    *zap.Logger
	Now       func() time.Time
}

// Sink는 프레임 시퀀스를 비디오 파일로 저장합니다.
// start/stop/append는 서로 다른 고루틴에서 동시에 호출될 수 있습니다.
type Sink struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	encoder Encoder
	state   State

	active atomic.Bool
}

// NewSink는 새로운 녹화 싱크를 생성합니다
func NewSink(config Config) *Sink {
	if config.Format == "" {
		config.Format = "mp4"
	}
	if config.Spec.Width <= 0 || config.Spec.Height <= 0 {
		config.Spec.Width, config.Spec.Height = 1920, 1080
	}
	if config.Spec.FPS <= 0 {
		config.Spec.FPS = 30
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sink{config: config, logger: logger}
}

// FileName은 <name>_<YYYYMMDD_HHMMSS>.<ext> 형식의 파일명을 만듭니다
func FileName(cameraName string, t time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeName(cameraName), t.Format(timestampLayout), strings.TrimPrefix(ext, "."))
}

// SanitizeName은 파일 시스템에서 쓸 수 없는 문자를 '_'로 바꿉니다
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "camera"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

// uniquePath는 같은 초에 시작한 녹화가 기존 파일을 덮어쓰지 않도록 _1, _2 ... 를 붙입니다
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Start는 새 녹화 파일을 만들고 프레임을 받기 시작합니다
func (s *Sink) Start(cameraName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder != nil {
		return s.state.Path, fmt.Errorf("recording already in progress: %s", s.state.Path)
	}
	if s.config.Encoder == nil {
		return "", fmt.Errorf("%w: no encoder configured", core.ErrRecordingIO)
	}

	if err := os.MkdirAll(s.config.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create output directory: %w", core.ErrRecordingIO, err)
	}

	now := s.config.Now()
	path := uniquePath(filepath.Join(s.config.OutputDir, FileName(cameraName, now, s.config.Format)))

	encoder, err := s.config.Encoder.Create(path, s.config.Spec)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", core.ErrRecordingIO, path, err)
	}

	s.encoder = encoder
	s.state = State{Status: Recording, Path: path, StartedAt: now}
	s.active.Store(true)

	s.logger.Info("Recording started",
		zap.String("path", path),
		zap.Int("width", s.config.Spec.Width),
		zap.Int("height", s.config.Spec.Height),
		zap.Int("fps", s.config.Spec.FPS),
	)
	return path, nil
}

// Append는 녹화 중이면 프레임을 인코딩해 덧붙이고, 아니면 아무것도 하지 않습니다
func (s *Sink) Append(frame *core.FrameBuffer) error {
	if !s.active.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return nil
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("rejecting frame: %w", err)
	}
	if err := s.encoder.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: write %s: %w", core.ErrRecordingIO, s.state.Path, err)
	}
	s.state.Frames++
	return nil
}

// Stop은 파일을 flush 하고 닫습니다. 녹화 중이 아니면 (nil, nil)을 반환합니다.
func (s *Sink) Stop() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return nil, nil
	}

	closeErr := s.encoder.Close()
	result := &Result{
		Path:      s.state.Path,
		StartedAt: s.state.StartedAt,
		EndedAt:   s.config.Now(),
		Frames:    s.state.Frames,
	}
	if info, err := os.Stat(result.Path); err == nil {
		result.SizeBytes = info.Size()
	}

	s.encoder = nil
	s.state = State{Status: Idle}
	s.active.Store(false)

	s.logger.Info("Recording stopped",
		zap.String("path", result.Path),
		zap.Uint64("frames", result.Frames),
		zap.Int64("size_bytes", result.SizeBytes),
		zap.Duration("duration", result.EndedAt.Sub(result.StartedAt)),
	)

	if closeErr != nil {
		return result, fmt.Errorf("%w: finalize %s: %w", core.ErrRecordingIO, result.Path, closeErr)
	}
	return result, nil
}

// Active는 녹화 중인지 반환합니다
func (s *Sink) Active() bool {
	return s.active.Load()
}

// State는 현재 녹화 상태의 복사본을 반환합니다
func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Spec은 녹화 해상도 설정을 반환합니다
func (s *Sink) Spec() VideoSpec {
	return s.config.Spec
}
