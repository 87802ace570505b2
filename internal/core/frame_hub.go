package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// FrameSubscriber는 프리뷰 프레임 구독자 인터페이스
type FrameSubscriber interface {
	OnFrame(frame *FrameBuffer) error
	GetID() string
}

// FrameHub는 카메라별 프리뷰 피드를 관리합니다
type FrameHub struct {
	ctx       context.Context
	ctxCancel context.CancelFunc
	logger    *zap.Logger

	feeds map[string]*Feed
	mutex sync.RWMutex

	bufferSize int
}

// Feed는 카메라 한 대의 프레임을 구독자들에게 나눠주는 팬아웃 지점입니다
type Feed struct {
	cameraID string
	logger   *zap.Logger

	// 구독자별 전용 워커
	subscribers map[string]*subscriberWorker
	subMutex    sync.RWMutex

	// 통계 (atomic으로 lock-free)
	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
	framesDropped  atomic.Uint64

	frames chan *FrameBuffer

	closed     bool
	closeMutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// subscriberWorker는 구독자와 전용 워커를 관리합니다
type subscriberWorker struct {
	sub    FrameSubscriber
	frames chan *FrameBuffer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// FeedStats는 피드 통계
type FeedStats struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesDropped  uint64 `json:"frames_dropped"`
	Subscribers    int    `json:"subscribers"`
}

// NewFrameHub는 새로운 프레임 허브를 생성합니다
func NewFrameHub(logger *zap.Logger, bufferSize int) *FrameHub {
	ctx, cancel := context.WithCancel(context.Background())

	if bufferSize <= 0 {
		bufferSize = 8
	}

	return &FrameHub{
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     logger,
		feeds:      make(map[string]*Feed),
		bufferSize: bufferSize,
	}
}

// Feed는 카메라 피드를 반환하고 없으면 생성합니다
func (h *FrameHub) Feed(cameraID string) *Feed {
	h.mutex.RLock()
	feed, exists := h.feeds[cameraID]
	h.mutex.RUnlock()
	if exists {
		return feed
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if feed, exists := h.feeds[cameraID]; exists {
		return feed
	}

	ctx, cancel := context.WithCancel(h.ctx)
	feed = &Feed{
		cameraID:    cameraID,
		logger:      h.logger.With(zap.String("camera_id", cameraID)),
		subscribers: make(map[string]*subscriberWorker),
		frames:      make(chan *FrameBuffer, h.bufferSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	h.feeds[cameraID] = feed

	go feed.distributeFrames(h.bufferSize)

	h.logger.Debug("Preview feed created", zap.String("camera_id", cameraID))
	return feed
}

// Lookup은 이미 존재하는 피드만 반환합니다
func (h *FrameHub) Lookup(cameraID string) (*Feed, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	feed, exists := h.feeds[cameraID]
	return feed, exists
}

// Publish는 카메라 피드에 프레임을 전달합니다 (세션 프리뷰 콜백)
func (h *FrameHub) Publish(cameraID string, frame *FrameBuffer) {
	h.Feed(cameraID).Publish(frame)
}

// Drop은 카메라 피드와 모든 구독자 워커를 정리합니다
func (h *FrameHub) Drop(cameraID string) {
	h.mutex.Lock()
	feed, exists := h.feeds[cameraID]
	delete(h.feeds, cameraID)
	h.mutex.Unlock()

	if exists {
		feed.close()
		h.logger.Debug("Preview feed removed", zap.String("camera_id", cameraID))
	}
}

// Close는 허브를 종료합니다
func (h *FrameHub) Close() {
	h.logger.Info("Closing frame hub")

	h.mutex.Lock()
	feeds := h.feeds
	h.feeds = make(map[string]*Feed)
	h.mutex.Unlock()

	for _, feed := range feeds {
		feed.close()
	}
	h.ctxCancel()
}

// Publish는 프레임을 피드 버퍼에 넣습니다. 버퍼가 가득 차면 가장 오래된 프레임을 버립니다.
func (f *Feed) Publish(frame *FrameBuffer) {
	f.closeMutex.RLock()
	defer f.closeMutex.RUnlock()
	if f.closed {
		return
	}

	f.framesReceived.Add(1)
	for {
		select {
		case f.frames <- frame:
			return
		default:
		}
		select {
		case <-f.frames:
			f.framesDropped.Add(1)
		default:
		}
	}
}

// Subscribe는 구독자를 추가하고 전용 워커를 시작합니다
func (f *Feed) Subscribe(subscriber FrameSubscriber) error {
	f.subMutex.Lock()
	defer f.subMutex.Unlock()

	id := subscriber.GetID()
	if _, exists := f.subscribers[id]; exists {
		return fmt.Errorf("subscriber %s already exists", id)
	}

	ctx, cancel := context.WithCancel(f.ctx)
	worker := &subscriberWorker{
		sub:    subscriber,
		frames: make(chan *FrameBuffer, 2),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With(zap.String("subscriber_id", id)),
	}
	f.subscribers[id] = worker

	go worker.run(f)

	f.logger.Debug("Preview subscriber added",
		zap.String("subscriber_id", id),
		zap.Int("total_subscribers", len(f.subscribers)),
	)
	return nil
}

// Unsubscribe는 구독자를 제거하고 워커가 끝날 때까지 기다립니다
func (f *Feed) Unsubscribe(subscriberID string) error {
	f.subMutex.Lock()
	worker, exists := f.subscribers[subscriberID]
	delete(f.subscribers, subscriberID)
	f.subMutex.Unlock()

	if !exists {
		return fmt.Errorf("subscriber %s not found", subscriberID)
	}

	worker.cancel()
	<-worker.done
	return nil
}

// distributeFrames는 프레임을 모든 구독자 워커에게 배포합니다
func (f *Feed) distributeFrames(capacity int) {
	defer close(f.done)

	workers := make([]*subscriberWorker, 0, capacity)
	for {
		select {
		case <-f.ctx.Done():
			return
		case frame := <-f.frames:
			workers = workers[:0]
			f.subMutex.RLock()
			for _, worker := range f.subscribers {
				workers = append(workers, worker)
			}
			f.subMutex.RUnlock()

			for _, worker := range workers {
				select {
				case worker.frames <- frame:
				default:
					// 느린 구독자는 프레임을 건너뜀
					f.framesDropped.Add(1)
				}
			}
		}
	}
}

// run은 구독자 워커의 메인 루프
func (w *subscriberWorker) run(f *Feed) {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case frame := <-w.frames:
			if err := w.sub.OnFrame(frame); err != nil {
				w.logger.Debug("Failed to deliver preview frame", zap.Error(err))
				continue
			}
			f.framesSent.Add(1)
		}
	}
}

// close는 피드를 닫고 배포 고루틴과 워커들을 정리합니다
func (f *Feed) close() {
	f.closeMutex.Lock()
	if f.closed {
		f.closeMutex.Unlock()
		return
	}
	f.closed = true
	f.closeMutex.Unlock()

	f.cancel()
	<-f.done

	f.subMutex.Lock()
	workers := f.subscribers
	f.subscribers = make(map[string]*subscriberWorker)
	f.subMutex.Unlock()

	for _, worker := range workers {
		<-worker.done
	}
}

// Stats는 피드 통계를 반환합니다
func (f *Feed) Stats() FeedStats {
	f.subMutex.RLock()
	subs := len(f.subscribers)
	f.subMutex.RUnlock()

	return FeedStats{
		FramesReceived: f.framesReceived.Load(),
		FramesSent:     f.framesSent.Load(),
		FramesDropped:  f.framesDropped.Load(),
		Subscribers:    subs,
	}
}

// Done은 피드가 닫히면 닫히는 채널을 반환합니다
func (f *Feed) Done() <-chan struct{} {
	return f.ctx.Done()
}

// CameraID는 피드의 카메라 ID를 반환합니다
func (f *Feed) CameraID() string {
	return f.cameraID
}
