package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// PreviewSink는 미리보기 프레임을 받는 허브 (core.FrameHub가 구현)
type PreviewSink interface {
	Publish(cameraID string, frame *core.FrameBuffer)
	Drop(cameraID string)
}

// RegistryConfig는 레지스트리 설정
type RegistryConfig struct {
	Dependencies

	EventBuffer int
	Preview     PreviewSink
	// OnSave는 카메라 목록이 바뀔 때마다 삽입 순서대로 호출됩니다
	OnSave func([]core.CameraDescriptor) error
	NewID  func() string
}

// Registry는 카메라 세션의 소유자입니다
type Registry struct {
	deps    Dependencies
	preview PreviewSink
	onSave  func([]core.CameraDescriptor) error
	newID   func() string
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	shutdown bool

	eventsMu sync.RWMutex
	events   chan Event
	closed   bool
	dropped  atomic.Uint64
}

// RegistryStats는 레지스트리 통계
type RegistryStats struct {
	Cameras       int            `json:"cameras"`
	States        map[string]int `json:"states"`
	Recording     int            `json:"recording"`
	DroppedEvents uint64         `json:"dropped_events"`
}

var errRegistryClosed = fmt.Errorf("%w: registry is closed", core.ErrNotRunning)

// NewID는 8자리 카메라 ID를 생성합니다
func NewID() string {
	return uuid.NewString()[:8]
}

// NewRegistry는 새로운 레지스트리를 생성합니다
func NewRegistry(config RegistryConfig) *Registry {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	if config.NewID == nil {
		config.NewID = NewID
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		deps:     config.Dependencies,
		preview:  config.Preview,
		onSave:   config.OnSave,
		newID:    config.NewID,
		logger:   logger,
		sessions: make(map[string]*Session),
		events:   make(chan Event, config.EventBuffer),
	}
	if r.preview != nil {
		r.deps.Preview = r.preview.Publish
	}
	return r
}

// Events는 세션 이벤트 채널을 반환합니다. Close 후 닫힙니다.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// publish는 이벤트를 비동기로 전달합니다. 버퍼가 가득 차면 버리고 카운트합니다.
func (r *Registry) publish(e Event) {
	r.eventsMu.RLock()
	defer r.eventsMu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.events <- e:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn("Event buffer full, dropping events",
				zap.String("type", string(e.Type)),
				zap.Uint64("dropped", r.dropped.Load()),
			)
		}
	}
}

// Load는 저장된 카메라 목록을 등록합니다. 목록은 다시 저장하지 않습니다.
// autoStart가 참이면 모든 세션을 동시에 시작합니다.
func (r *Registry) Load(descs []core.CameraDescriptor, autoStart bool) error {
	var errs []error
	var loaded []*Session

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return errRegistryClosed
	}
	for _, desc := range descs {
		if err := desc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("camera %q: %w", desc.Name, err))
			continue
		}
		if desc.ID == "" {
			desc.ID = r.uniqueIDLocked()
		}
		if _, exists := r.sessions[desc.ID]; exists {
			errs = append(errs, fmt.Errorf("%w: %s", core.ErrDuplicateCamera, desc.ID))
			continue
		}
		sess := NewSession(desc, r.deps, r.publish)
		r.sessions[desc.ID] = sess
		r.order = append(r.order, desc.ID)
		loaded = append(loaded, sess)
	}
	r.mu.Unlock()

	r.logger.Info("Cameras loaded", zap.Int("count", len(loaded)), zap.Bool("auto_start", autoStart))

	if autoStart {
		var wg sync.WaitGroup
		for _, sess := range loaded {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				if err := s.Start(); err != nil {
					r.logger.Error("Failed to start camera", zap.String("camera_id", s.ID()), zap.Error(err))
				}
			}(sess)
		}
		wg.Wait()
	}

	return errors.Join(errs...)
}

// Add는 카메라를 등록하고 시작한 뒤 목록을 저장합니다. 새 카메라 ID를 반환합니다.
// desc.ID가 비어 있으면 8자리 ID를 생성합니다.
func (r *Registry) Add(desc core.CameraDescriptor) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return "", errRegistryClosed
	}
	if desc.ID == "" {
		desc.ID = r.uniqueIDLocked()
	} else if _, exists := r.sessions[desc.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", core.ErrDuplicateCamera, desc.ID)
	}
	sess := NewSession(desc, r.deps, r.publish)
	r.sessions[desc.ID] = sess
	r.order = append(r.order, desc.ID)
	r.mu.Unlock()

	r.logger.Info("Camera added",
		zap.String("camera_id", desc.ID),
		zap.String("name", desc.Name),
		zap.String("url", core.MaskURL(desc.URL)),
	)
	r.publish(Event{Type: EventCameraAdded, CameraID: desc.ID, CameraName: desc.Name, Time: r.now()})

	if err := sess.Start(); err != nil {
		r.logger.Error("Failed to start camera", zap.String("camera_id", desc.ID), zap.Error(err))
	}

	r.save()
	return desc.ID, nil
}

func (r *Registry) uniqueIDLocked() string {
	for {
		id := r.newID()
		if _, exists := r.sessions[id]; !exists && id != "" {
			return id
		}
		r.logger.Debug("Camera ID collision, regenerating", zap.String("camera_id", id))
	}
}

// Remove는 세션을 정지하고 등록을 해제한 뒤 목록을 저장합니다
func (r *Registry) Remove(id string) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrCameraNotFound, id)
	}

	sess.Close()

	r.mu.Lock()
	if r.sessions[id] != sess {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrCameraNotFound, id)
	}
	delete(r.sessions, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if r.preview != nil {
		r.preview.Drop(id)
	}

	r.logger.Info("Camera removed", zap.String("camera_id", id))
	r.publish(Event{Type: EventCameraRemoved, CameraID: id, CameraName: sess.Descriptor().Name, Time: r.now()})
	r.save()
	return nil
}

// Update는 카메라 설정을 바꾸고 세션을 재시작합니다
func (r *Registry) Update(id string, desc core.CameraDescriptor) error {
	sess, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrCameraNotFound, id)
	}
	if err := sess.Reconfigure(desc); err != nil {
		return err
	}

	r.publish(Event{Type: EventCameraUpdated, CameraID: id, CameraName: desc.Name, Time: r.now()})
	r.save()
	return nil
}

// Get은 세션을 조회합니다
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// List는 삽입 순서대로 세션 목록을 반환합니다
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.sessions[id])
	}
	return list
}

// Descriptors는 삽입 순서대로 카메라 설정 목록을 반환합니다
func (r *Registry) Descriptors() []core.CameraDescriptor {
	sessions := r.List()
	descs := make([]core.CameraDescriptor, 0, len(sessions))
	for _, sess := range sessions {
		descs = append(descs, sess.Descriptor())
	}
	return descs
}

// ToggleAllRecording은 실행 중인 카메라 중 하나라도 녹화 중이 아니면 모두 녹화를 켜고,
// 모두 녹화 중이면 모두 끕니다. 적용한 녹화 상태를 반환합니다.
func (r *Registry) ToggleAllRecording() (bool, error) {
	sessions := r.List()

	target := false
	for _, sess := range sessions {
		if sess.State() != StateStopped && !sess.Recording() {
			target = true
			break
		}
	}

	var errs []error
	for _, sess := range sessions {
		if sess.State() == StateStopped {
			continue
		}
		if _, err := sess.SetRecording(target); err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", sess.ID(), err))
		}
	}

	r.logger.Info("Toggled recording on all cameras", zap.Bool("recording", target), zap.Int("errors", len(errs)))
	return target, errors.Join(errs...)
}

// Stats는 레지스트리 통계를 반환합니다
func (r *Registry) Stats() RegistryStats {
	sessions := r.List()
	stats := RegistryStats{
		Cameras:       len(sessions),
		States:        make(map[string]int),
		DroppedEvents: r.dropped.Load(),
	}
	for _, sess := range sessions {
		stats.States[sess.State().String()]++
		if sess.Recording() {
			stats.Recording++
		}
	}
	return stats
}

// Close는 모든 세션을 정지하고 이벤트 채널을 닫습니다
// Close 이후의 Add/Load는 errRegistryClosed를 반환합니다.
func (r *Registry) Close() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	sessions := r.List()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(sess)
	}
	wg.Wait()

	r.eventsMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.eventsMu.Unlock()

	r.logger.Info("All camera sessions stopped", zap.Int("count", len(sessions)))
}

func (r *Registry) save() {
	if r.onSave == nil {
		return
	}
	if err := r.onSave(r.Descriptors()); err != nil {
		r.logger.Error("Failed to save camera list", zap.Error(err))
	}
}

func (r *Registry) now() time.Time {
	if r.deps.Now != nil {
		return r.deps.Now()
	}
	return time.Now()
}
