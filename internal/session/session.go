package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/rednvr/internal/audio"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/recording"
	"github.com/yourusername/rednvr/internal/stream"
	"go.uber.org/zap"
)

// State는 카메라 세션 상태
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "stopped"
	}
}

// Dependencies는 모든 세션이 공유하는 외부 의존성과 설정
type Dependencies struct {
	Video   stream.VideoOpener
	Audio   stream.AudioOpener
	Speaker audio.DeviceOpener
	Encoder recording.EncoderFactory

	AudioFormat  core.AudioFormat
	AudioEnabled bool
	AudioVolume  int

	ReadInterval time.Duration
	RetryDelay   time.Duration

	RecordingDir string
	SnapshotDir  string
	Format       string
	Spec         recording.VideoSpec
	JPEGQuality  int

	// Preview는 디코딩된 프레임을 미리보기 허브로 넘깁니다. 막히면 안 됩니다.
	Preview func(cameraID string, frame *core.FrameBuffer)

	Now    func() time.Time
	Logger *zap.Logger
}

// Info는 세션 목록 조회용 요약
type Info struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	URL          string          `json:"url"`
	Username     string          `json:"username,omitempty"`
	State        string          `json:"state"`
	Recording    bool            `json:"recording"`
	Record       recording.State `json:"record"`
	AudioEnabled bool            `json:"audio_enabled"`
	Volume       int             `json:"volume"`
	LastError    string          `json:"last_error,omitempty"`
	LastErrorAt  *time.Time      `json:"last_error_at,omitempty"`
	LastFrameAt  *time.Time      `json:"last_frame_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	Stream       stream.Stats    `json:"stream"`
}

// Session은 카메라 한 대의 수집 파이프라인과 녹화/오디오 상태를 소유합니다.
// 제어 명령은 ctrl 뮤텍스로 직렬화되고, 프레임 경로는 ctrl을 잡지 않습니다.
type Session struct {
	id     string
	deps   Dependencies
	logger *zap.Logger
	emit   func(Event)

	ctrl   sync.Mutex
	closed bool

	mu        sync.RWMutex
	desc      core.CameraDescriptor
	source    *stream.Source
	lastErr   error
	lastErrAt time.Time
	startedAt time.Time

	state    atomic.Int32
	latest   atomic.Pointer[core.FrameBuffer]
	renderer *audio.Renderer
	recorder *recording.Sink

	supervisorCancel context.CancelFunc
	supervisorDone   chan struct{}
}

// NewSession은 정지 상태의 세션을 생성합니다
func NewSession(desc core.CameraDescriptor, deps Dependencies, emit func(Event)) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = time.Second
	}
	if emit == nil {
		emit = func(Event) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("camera_id", desc.ID))

	s := &Session{
		id:     desc.ID,
		deps:   deps,
		logger: logger,
		emit:   emit,
		desc:   desc,
	}
	s.renderer = audio.NewRenderer(audio.RendererConfig{
		Open:    deps.Speaker,
		Enabled: deps.AudioEnabled,
		Volume:  deps.AudioVolume,
		Logger:  logger,
	})
	s.recorder = recording.NewSink(recording.Config{
		OutputDir: deps.RecordingDir,
		Format:    deps.Format,
		Spec:      deps.Spec,
		Encoder:   deps.Encoder,
		Logger:    logger,
		Now:       deps.Now,
	})
	return s
}

// ID는 카메라 ID를 반환합니다
func (s *Session) ID() string {
	return s.id
}

// Descriptor는 현재 카메라 설정의 복사본을 반환합니다
func (s *Session) Descriptor() core.CameraDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// State는 현재 세션 상태를 반환합니다
func (s *Session) State() State {
	return State(s.state.Load())
}

// Recording은 녹화 중인지 반환합니다
func (s *Session) Recording() bool {
	return s.recorder.Active()
}

// LatestFrame은 마지막으로 디코딩된 프레임을 반환합니다. 없으면 nil.
func (s *Session) LatestFrame() *core.FrameBuffer {
	return s.latest.Load()
}

// Start는 스트림 연결을 시작합니다.
// 첫 연결 시도가 끝날 때까지 기다리며, 실패하면 Degraded 상태로 백그라운드에서 재시도합니다.
// 이미 시작된 세션에서는 아무것도 하지 않습니다.
func (s *Session) Start() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	if s.closed {
		return fmt.Errorf("%w: %s", core.ErrCameraNotFound, s.id)
	}
	if s.State() != StateStopped {
		return nil
	}

	desc := s.Descriptor()
	if err := desc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.startedAt = s.deps.Now()
	s.mu.Unlock()
	s.transition(StateStarting)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ready := make(chan struct{})
	s.supervisorCancel = cancel
	s.supervisorDone = done

	go s.supervise(ctx, desc, ready, done)
	<-ready
	return nil
}

// supervise는 연결에 성공할 때까지 고정 간격으로 재시도합니다.
// 연결된 이후의 읽기 실패 복구는 stream.Source가 담당합니다.
func (s *Session) supervise(ctx context.Context, desc core.CameraDescriptor, ready, done chan struct{}) {
	defer close(done)
	signalReady := sync.OnceFunc(func() { close(ready) })
	defer signalReady()

	for attempt := 1; ; attempt++ {
		src, err := stream.Open(ctx, s.sourceConfig(desc))
		if err == nil {
			s.mu.Lock()
			s.source = src
			s.mu.Unlock()

			s.logger.Info("Camera connected",
				zap.String("url", core.MaskURL(desc.URL)),
				zap.Int("attempt", attempt),
			)
			s.transition(StateRunning)
			signalReady()
			return
		}

		s.logger.Warn("Camera connect failed",
			zap.String("url", core.MaskURL(desc.URL)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		s.reportError(err)
		s.transition(StateDegraded)
		signalReady()

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.deps.RetryDelay):
		}
	}
}

func (s *Session) sourceConfig(desc core.CameraDescriptor) stream.Config {
	return stream.Config{
		CameraID:     s.id,
		Descriptor:   desc,
		Video:        s.deps.Video,
		Audio:        s.deps.Audio,
		Renderer:     s.renderer,
		AudioFormat:  s.deps.AudioFormat,
		ReadInterval: s.deps.ReadInterval,
		RetryDelay:   s.deps.RetryDelay,
		Logger:       s.logger,
		OnFrame:      s.handleFrame,
		OnReadError: func(err error, consecutive int) {
			s.reportError(err)
			s.transition(StateDegraded)
		},
		OnReconnect: func(attempt int, err error) {
			if err != nil {
				s.reportError(err)
			}
		},
		OnAudioExit: func(err error) {
			if err != nil {
				s.reportError(err)
			}
		},
	}
}

// handleFrame은 비디오 루프에서 호출됩니다. 최신 프레임 갱신, 녹화, 미리보기 순서로 처리합니다.
func (s *Session) handleFrame(frame *core.FrameBuffer) {
	s.latest.Store(frame)

	if s.state.CompareAndSwap(int32(StateDegraded), int32(StateRunning)) {
		s.emitState(StateRunning)
	}

	if err := s.recorder.Append(frame); err != nil {
		if errors.Is(err, core.ErrRecordingIO) {
			s.abortRecording(err)
		} else {
			s.logger.Debug("Frame not recorded", zap.Error(err))
		}
	}

	if s.deps.Preview != nil {
		s.deps.Preview(s.id, frame)
	}
}

// abortRecording은 녹화 쓰기 실패 시 녹화만 끄고 스트림은 유지합니다
func (s *Session) abortRecording(cause error) {
	s.logger.Error("Recording aborted", zap.Error(cause))
	s.reportError(cause)

	result, err := s.recorder.Stop()
	if err != nil {
		s.logger.Warn("Recording finalize failed", zap.Error(err))
	}
	if result != nil {
		s.emitRecordingStopped(result)
	}
}

// Stop은 녹화를 먼저 종료하고 스트림 루프와 오디오 장치를 해제한 뒤 반환합니다.
// 이미 정지된 세션에서는 아무것도 하지 않습니다.
func (s *Session) Stop() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	s.stopLocked()
	return nil
}

func (s *Session) stopLocked() {
	if s.State() == StateStopped {
		return
	}

	if s.supervisorCancel != nil {
		s.supervisorCancel()
		<-s.supervisorDone
		s.supervisorCancel = nil
		s.supervisorDone = nil
	}

	s.finishRecording()

	s.mu.Lock()
	src := s.source
	s.source = nil
	s.mu.Unlock()
	if src != nil {
		src.Close()
	}
	s.renderer.Close()

	s.latest.Store(nil)
	s.transition(StateStopped)
	s.logger.Info("Camera stopped")
}

// Close는 세션을 정지하고 이후 Start를 거부합니다
func (s *Session) Close() {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	s.stopLocked()
	s.closed = true
}

// Reconfigure는 세션을 정지하고 새 설정으로 다시 시작합니다.
// 오디오 활성화와 볼륨 값은 유지됩니다.
func (s *Session) Reconfigure(desc core.CameraDescriptor) error {
	desc.ID = s.id
	if err := desc.Validate(); err != nil {
		return err
	}

	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.stopLocked()

	s.mu.Lock()
	s.desc = desc
	s.lastErr = nil
	s.lastErrAt = time.Time{}
	s.mu.Unlock()

	return s.startLocked()
}

// ToggleRecording은 녹화를 토글하고 새 녹화 상태를 반환합니다
func (s *Session) ToggleRecording() (bool, error) {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	return s.setRecordingLocked(!s.recorder.Active())
}

// SetRecording은 녹화 상태를 지정한 값으로 맞춥니다
func (s *Session) SetRecording(on bool) (bool, error) {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()
	return s.setRecordingLocked(on)
}

func (s *Session) setRecordingLocked(on bool) (bool, error) {
	if on == s.recorder.Active() {
		return on, nil
	}
	if !on {
		s.finishRecording()
		return false, nil
	}

	if s.State() == StateStopped {
		return false, fmt.Errorf("%w: %s", core.ErrNotRunning, s.id)
	}

	path, err := s.recorder.Start(s.Descriptor().Name)
	if err != nil {
		s.reportError(err)
		return false, err
	}

	s.emit(s.event(EventRecordingToggled, func(e *Event) {
		e.Recording = true
		e.Path = path
	}))
	return true, nil
}

func (s *Session) finishRecording() {
	result, err := s.recorder.Stop()
	if err != nil {
		s.logger.Warn("Recording finalize failed", zap.Error(err))
		s.reportError(err)
	}
	if result != nil {
		s.emitRecordingStopped(result)
	}
}

func (s *Session) emitRecordingStopped(result *recording.Result) {
	s.emit(s.event(EventRecordingToggled, func(e *Event) {
		e.Recording = false
		e.Path = result.Path
	}))
	s.emit(s.event(EventRecordingFinished, func(e *Event) {
		e.Path = result.Path
		e.Result = result
	}))
}

// Snapshot은 최신 프레임을 JPEG로 저장합니다.
// 아직 프레임이 없으면 아무것도 쓰지 않고 ("", nil)을 반환합니다.
func (s *Session) Snapshot() (string, error) {
	frame := s.latest.Load()
	if frame == nil {
		return "", nil
	}

	desc := s.Descriptor()
	path, err := recording.SaveSnapshot(s.deps.SnapshotDir, desc.Name, frame, s.deps.Now(), s.deps.JPEGQuality)
	if err != nil {
		s.reportError(err)
		return "", err
	}

	s.logger.Info("Snapshot saved", zap.String("path", path))
	s.emit(s.event(EventSnapshotTaken, func(e *Event) { e.Path = path }))
	return path, nil
}

// SetAudioEnabled는 오디오 출력 여부를 설정합니다. 다음 청크부터 반영됩니다.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.renderer.SetEnabled(enabled)
	s.emitAudio()
}

// SetVolume은 볼륨(0-100)을 설정합니다. 범위를 벗어나면 잘라냅니다.
func (s *Session) SetVolume(volume int) {
	s.renderer.SetVolume(volume)
	s.emitAudio()
}

// Audio는 오디오 활성화 여부와 볼륨을 반환합니다
func (s *Session) Audio() (bool, int) {
	return s.renderer.Enabled(), s.renderer.Volume()
}

func (s *Session) emitAudio() {
	enabled, volume := s.Audio()
	s.emit(s.event(EventAudioChanged, func(e *Event) {
		e.Enabled = enabled
		e.Volume = volume
	}))
}

// Info는 세션 요약을 반환합니다. URL의 인증 정보는 마스킹됩니다.
func (s *Session) Info() Info {
	s.mu.RLock()
	desc := s.desc
	src := s.source
	lastErr := s.lastErr
	lastErrAt := s.lastErrAt
	startedAt := s.startedAt
	s.mu.RUnlock()

	enabled, volume := s.Audio()
	info := Info{
		ID:           s.id,
		Name:         desc.Name,
		URL:          core.MaskURL(desc.URL),
		Username:     desc.Username,
		State:        s.State().String(),
		Recording:    s.recorder.Active(),
		Record:       s.recorder.State(),
		AudioEnabled: enabled,
		Volume:       volume,
	}
	if lastErr != nil {
		info.LastError = lastErr.Error()
		info.LastErrorAt = &lastErrAt
	}
	if frame := s.latest.Load(); frame != nil {
		ts := frame.Timestamp
		info.LastFrameAt = &ts
	}
	if s.State() != StateStopped {
		info.StartedAt = &startedAt
	}
	if src != nil {
		info.Stream = src.Stats()
	}
	return info
}

// LastError는 마지막으로 보고된 오류를 반환합니다
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.lastErrAt = s.deps.Now()
	s.mu.Unlock()

	s.emit(s.event(EventError, func(e *Event) {
		e.Error = err.Error()
		e.ErrorKind = core.ErrorKind(err)
	}))
}

// transition은 상태가 실제로 바뀐 경우에만 state_changed를 보냅니다
func (s *Session) transition(next State) {
	if State(s.state.Swap(int32(next))) != next {
		s.emitState(next)
	}
}

func (s *Session) emitState(state State) {
	s.emit(s.event(EventStateChanged, func(e *Event) { e.State = state.String() }))
}

func (s *Session) event(eventType EventType, fill func(e *Event)) Event {
	e := Event{
		Type:       eventType,
		CameraID:   s.id,
		CameraName: s.Descriptor().Name,
		Time:       s.deps.Now(),
		Recording:  s.recorder.Active(),
	}
	if fill != nil {
		fill(&e)
	}
	return e
}
