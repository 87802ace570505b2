package speaker

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hajimehoshi/oto/v2"
	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// oto는 프로세스당 컨텍스트 하나만 허용하므로 전역으로 관리
var (
	mu        sync.Mutex
	outputCtx *oto.Context
	format    core.AudioFormat
)

var errNotInitialized = errors.New("audio output is not initialized")

// Init은 오디오 출력 컨텍스트를 한 번 생성합니다.
// 이미 생성된 경우 기존 컨텍스트를 유지합니다.
func Init(f core.AudioFormat, logger *zap.Logger) error {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		logger = zap.NewNop()
	}

	if outputCtx != nil {
		if f.SampleRate != format.SampleRate || f.Channels != format.Channels {
			logger.Warn("Keeping existing audio context",
				zap.Int("sample_rate", format.SampleRate),
				zap.Int("channels", format.Channels),
				zap.Int("requested_sample_rate", f.SampleRate),
				zap.Int("requested_channels", f.Channels),
			)
		}
		return nil
	}

	ctx, ready, err := oto.NewContext(f.SampleRate, f.Channels, oto.FormatSignedInt16LE)
	if err != nil {
		return fmt.Errorf("%w: create output context: %w", core.ErrAudio, err)
	}

	go func() {
		<-ready
		logger.Debug("Audio context ready")
	}()

	outputCtx = ctx
	format = f
	logger.Info("Audio output initialized",
		zap.Int("sample_rate", f.SampleRate),
		zap.Int("channels", f.Channels),
	)
	return nil
}

// Open은 새 출력 스트림을 엽니다. 쓰기는 재생 속도에 맞춰 블록됩니다.
// audio.DeviceOpener 시그니처와 같습니다.
func Open() (io.WriteCloser, error) {
	mu.Lock()
	ctx := outputCtx
	mu.Unlock()

	if ctx == nil {
		return nil, errNotInitialized
	}

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	if player == nil {
		pw.Close()
		return nil, errors.New("failed to create audio player")
	}
	player.Play()

	return &output{pipe: pw, reader: pr, player: player}, nil
}

type output struct {
	pipe   *io.PipeWriter
	reader *io.PipeReader
	player oto.Player

	closeOnce sync.Once
	closeErr  error
}

func (o *output) Write(p []byte) (int, error) {
	return o.pipe.Write(p)
}

func (o *output) Close() error {
	o.closeOnce.Do(func() {
		o.pipe.Close()
		o.closeErr = o.player.Close()
		o.reader.Close()
	})
	return o.closeErr
}
