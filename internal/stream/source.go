package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/rednvr/internal/audio"
	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// VideoReader는 열린 디코딩 파이프라인 핸들입니다.
// ReadFrame은 캡처 순서대로 프레임을 반환합니다.
type VideoReader interface {
	ReadFrame() (*core.FrameBuffer, error)
	Close() error
}

// VideoOpener는 스트림 URL로 디코딩 파이프라인을 엽니다
type VideoOpener interface {
	Open(ctx context.Context, url string) (VideoReader, error)
}

// AudioOpener는 s16le PCM을 내보내는 오디오 디먹스 스트림을 엽니다
type AudioOpener interface {
	OpenAudio(ctx context.Context, cameraID, url string) (io.ReadCloser, error)
}

var errNotConnected = errors.New("stream is not connected")

// Config는 스트림 소스 설정
type Config struct {
	CameraID   string
	Descriptor core.CameraDescriptor

	Video       VideoOpener
	Audio       AudioOpener     // nil이면 오디오 루프를 시작하지 않음
	Renderer    *audio.Renderer // nil이면 오디오 루프를 시작하지 않음
	AudioFormat core.AudioFormat

	ReadInterval time.Duration // 프레임 사이 고정 지연 (기본 33ms)
	RetryDelay   time.Duration // 재연결 전 고정 대기 (기본 1s)

	Logger *zap.Logger

	OnFrame     func(frame *core.FrameBuffer)
	OnReadError func(err error, consecutive int)
	OnReconnect func(attempt int, err error)
	OnAudioExit func(err error)
}

// Source는 카메라 한 대의 비디오 디코딩 루프와 오디오 루프를 소유합니다
type Source struct {
	config Config
	url    string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once

	audioMu     sync.Mutex
	audioStream io.ReadCloser
	audioClosed bool

	seq uint64 // 비디오 루프 전용

	frames      atomic.Uint64
	readErrors  atomic.Uint64
	reconnects  atomic.Uint64
	audioChunks atomic.Uint64
	audioActive atomic.Bool
}

// Stats는 소스 통계
type Stats struct {
	Frames      uint64 `json:"frames"`
	ReadErrors  uint64 `json:"read_errors"`
	Reconnects  uint64 `json:"reconnects"`
	AudioChunks uint64 `json:"audio_chunks"`
	AudioActive bool   `json:"audio_active"`
}

// Open은 스트림 연결을 한 번 시도합니다. 실패하면 재시도 없이 ErrConnect를 반환합니다.
// 성공하면 비디오 루프(와 설정된 경우 오디오 루프)를 시작합니다.
func Open(ctx context.Context, config Config) (*Source, error) {
	if config.Video == nil {
		return nil, fmt.Errorf("%w: no video opener configured", core.ErrConnect)
	}
	if config.ReadInterval < 0 {
		config.ReadInterval = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.AudioFormat.ChunkSize <= 0 {
		config.AudioFormat = core.DefaultAudioFormat
	}
	if config.OnFrame == nil {
		config.OnFrame = func(*core.FrameBuffer) {}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	url, err := config.Descriptor.StreamURL()
	if err != nil {
		return nil, err
	}

	reader, err := config.Video.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", core.ErrConnect, core.MaskURL(url), err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		config: config,
		url:    url,
		logger: logger,
		ctx:    sctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}

	logger.Info("Stream opened", zap.String("url", core.MaskURL(url)))

	s.wg.Add(1)
	go s.videoLoop(reader)

	if config.Audio != nil && config.Renderer != nil {
		s.wg.Add(1)
		go s.audioLoop()
	}

	return s, nil
}

// Close는 두 루프에 종료를 알리고 모두 끝나 자원이 해제될 때까지 기다립니다.
// 여러 번, 다른 고루틴에서 호출해도 안전합니다.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.cancel()

		// 파이프 읽기에서 막힌 오디오 루프를 깨움
		s.audioMu.Lock()
		s.audioClosed = true
		stream := s.audioStream
		s.audioMu.Unlock()
		if stream != nil {
			stream.Close()
		}
	})
	s.wg.Wait()
}

// Stats는 소스 통계를 반환합니다
func (s *Source) Stats() Stats {
	return Stats{
		Frames:      s.frames.Load(),
		ReadErrors:  s.readErrors.Load(),
		Reconnects:  s.reconnects.Load(),
		AudioChunks: s.audioChunks.Load(),
		AudioActive: s.audioActive.Load(),
	}
}

func (s *Source) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// sleep은 d 만큼 기다립니다. 도중에 Close되면 false를 반환합니다.
func (s *Source) sleep(d time.Duration) bool {
	if d <= 0 {
		return !s.stopped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.stop:
		return false
	case <-timer.C:
		return true
	}
}

// videoLoop는 프레임을 읽어 전달하고, 읽기 실패 시 고정 대기 후 재연결을 무한 반복합니다
func (s *Source) videoLoop(reader VideoReader) {
	defer s.wg.Done()
	defer func() {
		if reader != nil {
			reader.Close()
		}
	}()

	failures := 0
	attempt := 0

	for {
		if s.stopped() {
			return
		}

		err := errNotConnected
		if reader != nil {
			var frame *core.FrameBuffer
			frame, err = reader.ReadFrame()
			if err == nil {
				failures = 0
				s.seq++
				frame.Seq = s.seq
				if frame.Timestamp.IsZero() {
					frame.Timestamp = time.Now()
				}
				s.frames.Add(1)
				s.config.OnFrame(frame)

				if !s.sleep(s.config.ReadInterval) {
					return
				}
				continue
			}
		}

		if s.stopped() {
			return
		}

		failures++
		s.readErrors.Add(1)
		readErr := fmt.Errorf("%w: %w", core.ErrRead, err)
		s.logger.Warn("Stream read failed, reconnecting",
			zap.Error(err),
			zap.Int("consecutive_failures", failures),
			zap.Duration("retry_delay", s.config.RetryDelay),
		)
		if s.config.OnReadError != nil {
			s.config.OnReadError(readErr, failures)
		}

		if !s.sleep(s.config.RetryDelay) {
			return
		}

		if reader != nil {
			reader.Close()
			reader = nil
		}

		attempt++
		s.reconnects.Add(1)
		reader, err = s.config.Video.Open(s.ctx, s.url)
		if err != nil {
			reader = nil
			s.logger.Warn("Stream reopen failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		} else {
			s.logger.Info("Stream reopened", zap.Int("attempt", attempt))
		}
		if s.config.OnReconnect != nil {
			s.config.OnReconnect(attempt, err)
		}
	}
}

// audioLoop는 디먹스 프로세스에서 고정 크기 청크를 읽어 렌더러로 보냅니다.
// 오디오 실패는 재시도하지 않고 조용히 종료하며 비디오 경로에는 영향을 주지 않습니다.
func (s *Source) audioLoop() {
	defer s.wg.Done()

	renderer := s.config.Renderer
	if err := renderer.Open(); err != nil {
		s.logger.Warn("Audio renderer unavailable", zap.Error(err))
		s.audioExited(err)
		return
	}
	defer renderer.Close()

	stream, err := s.config.Audio.OpenAudio(s.ctx, s.config.CameraID, s.url)
	if err != nil {
		s.logger.Warn("Audio demux failed to start", zap.Error(err))
		s.audioExited(fmt.Errorf("%w: %w", core.ErrAudio, err))
		return
	}

	s.audioMu.Lock()
	if s.audioClosed {
		s.audioMu.Unlock()
		stream.Close()
		return
	}
	s.audioStream = stream
	s.audioMu.Unlock()

	s.audioActive.Store(true)
	defer s.audioActive.Store(false)

	buf := make([]byte, s.config.AudioFormat.ChunkSize)
	for {
		if _, err := io.ReadFull(stream, buf); err != nil {
			stream.Close()
			if s.stopped() {
				return
			}
			s.logger.Info("Audio stream ended", zap.Error(err))
			s.audioExited(fmt.Errorf("%w: %w", core.ErrAudio, err))
			return
		}

		if err := renderer.Render(core.AudioChunk(buf)); err != nil {
			stream.Close()
			s.logger.Warn("Audio playback failed", zap.Error(err))
			s.audioExited(err)
			return
		}
		s.audioChunks.Add(1)
	}
}

func (s *Source) audioExited(err error) {
	if s.config.OnAudioExit != nil && !s.stopped() {
		s.config.OnAudioExit(err)
	}
}
