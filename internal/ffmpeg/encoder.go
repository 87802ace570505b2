package ffmpeg

import (
	"errors"
	"fmt"

	astiav "github.com/asticode/go-astiav"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/recording"
	"go.uber.org/zap"
)

// EncoderFactory는 MPEG-4 Part 2 비디오를 mp4 컨테이너에 쓰는 인코더를 생성합니다
type EncoderFactory struct {
	Logger *zap.Logger
}

// Create는 출력 파일을 열고 헤더를 씁니다
func (f *EncoderFactory) Create(path string, spec recording.VideoSpec) (recording.Encoder, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Encoder{path: path, spec: spec, logger: logger}
	if err := e.open(); err != nil {
		e.free()
		return nil, err
	}
	return e, nil
}

// Encoder는 RGB24 프레임을 YUV420P로 변환해 인코딩하고 mux 합니다.
// 입력 해상도가 녹화 설정과 다르면 설정 크기로 스케일합니다.
type Encoder struct {
	path   string
	spec   recording.VideoSpec
	logger *zap.Logger

	oc     *astiav.FormatContext
	pb     *astiav.IOContext
	st     *astiav.Stream
	enc    *astiav.CodecContext
	pkt    *astiav.Packet
	src    *astiav.Frame
	scaler *scaler

	pts           int64
	headerWritten bool
}

func (e *Encoder) open() error {
	codec := astiav.FindEncoder(astiav.CodecIDMpeg4)
	if codec == nil {
		return errors.New("mpeg4 encoder not available")
	}

	oc, err := astiav.AllocOutputFormatContext(nil, "mp4", e.path)
	if err != nil || oc == nil {
		return fmt.Errorf("allocate output context: %w", err)
	}
	e.oc = oc

	e.enc = astiav.AllocCodecContext(codec)
	if e.enc == nil {
		return errors.New("allocate encoder context")
	}
	e.enc.SetWidth(e.spec.Width)
	e.enc.SetHeight(e.spec.Height)
	e.enc.SetPixelFormat(astiav.PixelFormatYuv420P)
	e.enc.SetTimeBase(astiav.NewRational(1, e.spec.FPS))
	e.enc.SetFramerate(astiav.NewRational(e.spec.FPS, 1))
	e.enc.SetBitRate(int64(e.spec.Width * e.spec.Height * e.spec.FPS / 10))
	e.enc.SetGopSize(e.spec.FPS)
	if oc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		e.enc.SetFlags(e.enc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}
	if err := e.enc.Open(codec, nil); err != nil {
		return fmt.Errorf("open mpeg4 encoder: %w", err)
	}

	e.st = oc.NewStream(nil)
	if e.st == nil {
		return errors.New("create output stream")
	}
	if err := e.enc.ToCodecParameters(e.st.CodecParameters()); err != nil {
		return fmt.Errorf("copy encoder parameters: %w", err)
	}
	e.st.SetTimeBase(e.enc.TimeBase())

	pb, err := astiav.OpenIOContext(e.path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.path, err)
	}
	e.pb = pb
	oc.SetPb(pb)

	if err := oc.WriteHeader(nil); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	e.headerWritten = true

	e.pkt = astiav.AllocPacket()
	e.src = astiav.AllocFrame()
	e.scaler = newScaler(e.spec.Width, e.spec.Height, astiav.PixelFormatYuv420P)

	e.logger.Debug("Encoder opened",
		zap.String("path", e.path),
		zap.String("codec", codec.Name()),
	)
	return nil
}

// WriteFrame은 프레임 하나를 인코딩합니다
func (e *Encoder) WriteFrame(frame *core.FrameBuffer) error {
	if e.enc == nil {
		return errors.New("encoder closed")
	}
	if err := e.ensureSource(frame.Width, frame.Height); err != nil {
		return err
	}
	if err := e.src.MakeWritable(); err != nil {
		return fmt.Errorf("make frame writable: %w", err)
	}
	if err := e.src.Data().SetBytes(frame.Pix, 1); err != nil {
		return fmt.Errorf("fill frame: %w", err)
	}

	yuv, err := e.scaler.scale(e.src)
	if err != nil {
		return err
	}
	yuv.SetPts(e.pts)
	e.pts++

	if err := e.enc.SendFrame(yuv); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return e.drain()
}

func (e *Encoder) ensureSource(width, height int) error {
	if e.src.Width() == width && e.src.Height() == height && e.src.PixelFormat() == astiav.PixelFormatRgb24 {
		return nil
	}

	e.src.Unref()
	e.src.SetWidth(width)
	e.src.SetHeight(height)
	e.src.SetPixelFormat(astiav.PixelFormatRgb24)
	if err := e.src.AllocBuffer(1); err != nil {
		return fmt.Errorf("allocate source frame: %w", err)
	}
	if width != e.spec.Width || height != e.spec.Height {
		e.logger.Debug("Scaling frames to recording size",
			zap.Int("width", width),
			zap.Int("height", height),
			zap.Int("target_width", e.spec.Width),
			zap.Int("target_height", e.spec.Height),
		)
	}
	return nil
}

// drain은 인코더에서 나온 패킷을 모두 mux 합니다
func (e *Encoder) drain() error {
	for {
		err := e.enc.ReceivePacket(e.pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive packet: %w", err)
		}

		e.pkt.SetStreamIndex(e.st.Index())
		e.pkt.RescaleTs(e.enc.TimeBase(), e.st.TimeBase())
		err = e.oc.WriteInterleavedFrame(e.pkt)
		e.pkt.Unref()
		if err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}
}

// Close는 인코더를 flush 하고 trailer를 쓴 뒤 파일을 닫습니다
func (e *Encoder) Close() error {
	if e.enc == nil {
		return nil
	}

	var errs []error
	if err := e.enc.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		errs = append(errs, fmt.Errorf("flush encoder: %w", err))
	} else if err := e.drain(); err != nil {
		errs = append(errs, err)
	}

	if e.headerWritten {
		if err := e.oc.WriteTrailer(); err != nil {
			errs = append(errs, fmt.Errorf("write trailer: %w", err))
		}
	}

	e.free()
	e.logger.Debug("Encoder closed", zap.String("path", e.path), zap.Int64("frames", e.pts))
	return errors.Join(errs...)
}

func (e *Encoder) free() {
	if e.scaler != nil {
		e.scaler.close()
		e.scaler = nil
	}
	if e.src != nil {
		e.src.Free()
		e.src = nil
	}
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
	if e.pb != nil {
		_ = e.pb.Close()
		e.pb = nil
	}
	if e.enc != nil {
		e.enc.Free()
		e.enc = nil
	}
	if e.oc != nil {
		e.oc.Free()
		e.oc = nil
	}
}
