package ffmpeg

import (
	"fmt"

	astiav "github.com/asticode/go-astiav"
)

// scaler는 swscale로 프레임 해상도와 픽셀 포맷을 변환합니다.
// 소스 형식이 바뀌면 컨텍스트를 다시 만듭니다.
type scaler struct {
	ssc        *astiav.SoftwareScaleContext
	dst        *astiav.Frame
	srcW, srcH int
	srcPix     astiav.PixelFormat

	dstW, dstH int // 0이면 소스 크기 유지
	dstPix     astiav.PixelFormat
}

func newScaler(dstW, dstH int, dstPix astiav.PixelFormat) *scaler {
	return &scaler{dstW: dstW, dstH: dstH, dstPix: dstPix}
}

func (s *scaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *scaler) ensure(src *astiav.Frame) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()

	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}

	s.close()

	dw, dh := s.dstW, s.dstH
	if dw <= 0 || dh <= 0 {
		dw, dh = sw, sh
	}

	ssc, err := astiav.CreateSoftwareScaleContext(
		sw, sh, sp,
		dw, dh, s.dstPix,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return fmt.Errorf("create scale context %dx%d %s -> %dx%d %s: %w", sw, sh, sp, dw, dh, s.dstPix, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(dw)
	dst.SetHeight(dh)
	dst.SetPixelFormat(s.dstPix)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("allocate scaled frame: %w", err)
	}

	s.ssc = ssc
	s.dst = dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	return nil
}

// scale은 변환된 프레임을 반환합니다. 반환된 프레임은 다음 호출까지만 유효합니다.
func (s *scaler) scale(src *astiav.Frame) (*astiav.Frame, error) {
	if err := s.ensure(src); err != nil {
		return nil, err
	}
	if err := s.dst.MakeWritable(); err != nil {
		return nil, fmt.Errorf("make frame writable: %w", err)
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return nil, fmt.Errorf("scale frame: %w", err)
	}
	return s.dst, nil
}

// packed는 변환 결과를 연속된 바이트 슬라이스로 복사합니다
func (s *scaler) packed(src *astiav.Frame) (int, int, []byte, error) {
	dst, err := s.scale(src)
	if err != nil {
		return 0, 0, nil, err
	}

	n, err := dst.ImageBufferSize(1)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("image buffer size: %w", err)
	}
	out := make([]byte, n)
	if _, err := dst.ImageCopyToBuffer(out, 1); err != nil {
		return 0, 0, nil, fmt.Errorf("copy image: %w", err)
	}
	return dst.Width(), dst.Height(), out, nil
}
