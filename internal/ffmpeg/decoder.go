package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	astiav "github.com/asticode/go-astiav"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/stream"
	"go.uber.org/zap"
)

// Opener는 libavformat으로 네트워크 스트림을 열어 RGB24 프레임을 디코딩합니다
type Opener struct {
	Transport string        // tcp 또는 udp
	Timeout   time.Duration // 소켓 읽기 타임아웃
	Logger    *zap.Logger
}

// Open은 입력을 열고 첫 번째 비디오 스트림의 디코더를 준비합니다
func (o *Opener) Open(ctx context.Context, url string) (stream.VideoReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reader{logger: logger}
	if err := r.open(url, o.inputOptions()); err != nil {
		r.Close()
		return nil, err
	}

	logger.Debug("Video input opened",
		zap.String("url", core.MaskURL(url)),
		zap.String("codec", r.codecName),
		zap.Int("stream_index", r.videoIndex),
	)
	return r, nil
}

func (o *Opener) inputOptions() map[string]string {
	opts := map[string]string{
		"fflags":      "+discardcorrupt+genpts",
		"flags":       "+low_delay",
		"buffer_size": "1048576",
		"max_delay":   "500000",
	}
	if o.Transport != "" {
		opts["rtsp_transport"] = o.Transport
	}
	if o.Transport == "tcp" {
		opts["rtsp_flags"] = "prefer_tcp"
	}
	if o.Timeout > 0 {
		// 마이크로초 단위
		opts["timeout"] = strconv.FormatInt(o.Timeout.Microseconds(), 10)
	}
	return opts
}

// Reader는 열린 입력 하나의 디먹스/디코드 상태입니다. 한 고루틴에서만 사용합니다.
type Reader struct {
	logger *zap.Logger

	fc         *astiav.FormatContext
	vctx       *astiav.CodecContext
	videoIndex int
	codecName  string

	pkt    *astiav.Packet
	frame  *astiav.Frame
	scaler *scaler

	inputOpen bool
	eof       bool
}

func (r *Reader) open(url string, options map[string]string) error {
	r.fc = astiav.AllocFormatContext()
	if r.fc == nil {
		return errors.New("allocate format context")
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	for k, v := range options {
		_ = dict.Set(k, v, 0)
	}

	if err := r.fc.OpenInput(url, nil, dict); err != nil {
		return fmt.Errorf("open input %s: %w", core.MaskURL(url), err)
	}
	r.inputOpen = true

	if err := r.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("find stream info: %w", err)
	}

	r.videoIndex = -1
	for i, s := range r.fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			r.videoIndex = i
			break
		}
	}
	if r.videoIndex < 0 {
		return errors.New("no video stream")
	}

	params := r.fc.Streams()[r.videoIndex].CodecParameters()
	dec := astiav.FindDecoder(params.CodecID())
	if dec == nil {
		return fmt.Errorf("no decoder for codec %s", params.CodecID())
	}
	r.codecName = dec.Name()

	r.vctx = astiav.AllocCodecContext(dec)
	if r.vctx == nil {
		return errors.New("allocate codec context")
	}
	if err := params.ToCodecContext(r.vctx); err != nil {
		return fmt.Errorf("copy codec parameters: %w", err)
	}
	if err := r.vctx.Open(dec, nil); err != nil {
		return fmt.Errorf("open decoder %s: %w", r.codecName, err)
	}

	r.pkt = astiav.AllocPacket()
	r.frame = astiav.AllocFrame()
	r.scaler = newScaler(0, 0, astiav.PixelFormatRgb24)
	return nil
}

// ReadFrame은 다음 비디오 프레임을 디코딩해 RGB24로 반환합니다.
// 스트림 종료나 읽기 실패는 에러로 반환하며 호출자가 재연결합니다.
func (r *Reader) ReadFrame() (*core.FrameBuffer, error) {
	for {
		err := r.vctx.ReceiveFrame(r.frame)
		if err == nil {
			width, height, pix, convErr := r.scaler.packed(r.frame)
			r.frame.Unref()
			if convErr != nil {
				return nil, convErr
			}
			return &core.FrameBuffer{
				Width:     width,
				Height:    height,
				Pix:       pix,
				Timestamp: time.Now(),
			}, nil
		}
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if r.eof {
			return nil, io.EOF
		}

		if err := r.readVideoPacket(); err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			// 남은 프레임을 꺼내기 위해 디코더 flush
			r.eof = true
			_ = r.vctx.SendPacket(nil)
		}
	}
}

func (r *Reader) readVideoPacket() error {
	for {
		if err := r.fc.ReadFrame(r.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return io.EOF
			}
			return fmt.Errorf("read packet: %w", err)
		}

		if r.pkt.StreamIndex() != r.videoIndex {
			r.pkt.Unref()
			continue
		}

		err := r.vctx.SendPacket(r.pkt)
		r.pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("send packet: %w", err)
		}
		return nil
	}
}

// Close는 디코더와 입력을 해제합니다
func (r *Reader) Close() error {
	if r.scaler != nil {
		r.scaler.close()
		r.scaler = nil
	}
	if r.frame != nil {
		r.frame.Free()
		r.frame = nil
	}
	if r.pkt != nil {
		r.pkt.Free()
		r.pkt = nil
	}
	if r.vctx != nil {
		r.vctx.Free()
		r.vctx = nil
	}
	if r.fc != nil {
		if r.inputOpen {
			r.fc.CloseInput()
		}
		r.fc.Free()
		r.fc = nil
	}
	return nil
}
