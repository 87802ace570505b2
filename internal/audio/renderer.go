package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// DeviceOpener는 PCM 출력 장치를 엽니다
type DeviceOpener func() (io.WriteCloser, error)

// Renderer는 음소거/볼륨을 적용해 PCM 청크를 출력 장치에 씁니다.
// enabled/volume 상태는 세션 수명 동안 유지되고, 장치 핸들은 스트림 소스마다 열고 닫습니다.
type Renderer struct {
	enabled atomic.Bool
	volume  atomic.Int32

	open   DeviceOpener
	logger *zap.Logger

	mu      sync.Mutex
	device  io.WriteCloser
	scratch []byte
	inert   bool

	chunks atomic.Uint64
}

// RendererConfig는 렌더러 설정
type RendererConfig struct {
	Open    DeviceOpener
	Enabled bool
	Volume  int
	Logger  *zap.Logger
}

// NewRenderer는 새로운 오디오 렌더러를 생성합니다
func NewRenderer(config RendererConfig) *Renderer {
	r := &Renderer{
		open:   config.Open,
		logger: config.Logger,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.enabled.Store(config.Enabled)
	r.volume.Store(int32(clampVolume(config.Volume)))
	return r
}

// SetEnabled는 오디오 출력 여부를 설정합니다. 다음 청크부터 반영됩니다.
func (r *Renderer) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// SetVolume은 0..100 범위의 볼륨을 설정합니다
func (r *Renderer) SetVolume(volume int) {
	r.volume.Store(int32(clampVolume(volume)))
}

func (r *Renderer) Enabled() bool { return r.enabled.Load() }

func (r *Renderer) Volume() int { return int(r.volume.Load()) }

// Open은 출력 장치를 엽니다. 실패하면 다음 Open 전까지 렌더러는 아무것도 하지 않습니다.
func (r *Renderer) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device != nil {
		return nil
	}
	if r.open == nil {
		r.inert = true
		return fmt.Errorf("%w: no audio output device configured", core.ErrAudio)
	}

	device, err := r.open()
	if err != nil {
		r.inert = true
		r.logger.Warn("Audio output unavailable, audio path disabled", zap.Error(err))
		return fmt.Errorf("%w: open output device: %w", core.ErrAudio, err)
	}

	r.device = device
	r.inert = false
	return nil
}

// Render는 현재 설정으로 청크를 가공해 장치에 씁니다.
// 장치 쓰기는 오디오 루프에서만 블록되고 비디오 경로에는 영향이 없습니다.
func (r *Renderer) Render(chunk core.AudioChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == nil {
		if r.inert {
			return nil
		}
		return fmt.Errorf("%w: output device is not open", core.ErrAudio)
	}

	if cap(r.scratch) < len(chunk) {
		r.scratch = make([]byte, len(chunk))
	}
	out := r.scratch[:len(chunk)]
	Shape(out, chunk, r.enabled.Load(), int(r.volume.Load()))

	if _, err := r.device.Write(out); err != nil {
		return fmt.Errorf("%w: write to output device: %w", core.ErrAudio, err)
	}
	r.chunks.Add(1)
	return nil
}

// Close는 출력 장치를 해제합니다. enabled/volume 상태는 유지됩니다.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inert = false
	if r.device == nil {
		return nil
	}
	err := r.device.Close()
	r.device = nil
	return err
}

// ChunksRendered는 장치로 보낸 청크 수
func (r *Renderer) ChunksRendered() uint64 {
	return r.chunks.Load()
}

// Shape는 s16le PCM 청크를 dst에 가공합니다.
// 비활성이거나 볼륨이 0이면 무음을 쓰고, 그 외에는 volume/100 선형 이득을 적용합니다.
func Shape(dst, src []byte, enabled bool, volume int) {
	n := len(src) &^ 1
	volume = clampVolume(volume)

	if !enabled || volume == 0 {
		clear(dst[:len(src)])
		return
	}
	if volume == 100 {
		copy(dst, src)
		return
	}

	for i := 0; i < n; i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(src[i:])))
		s = s * int32(volume) / 100
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(dst[i:], uint16(int16(s)))
	}
	// 홀수 길이의 마지막 바이트는 무음 처리
	if n < len(src) {
		dst[n] = 0
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
