package core

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// BytesPerPixel은 FrameBuffer 픽셀 포맷(packed RGB24)의 픽셀당 바이트 수
const BytesPerPixel = 3

// FrameBuffer는 디코딩된 비디오 프레임 한 장입니다.
// 생성 후에는 수정하지 않으며, 프리뷰와 녹화가 같은 포인터를 공유합니다.
type FrameBuffer struct {
	Width     int
	Height    int
	Pix       []byte // RGB24, 행 간 패딩 없음
	Timestamp time.Time
	Seq       uint64
}

// Validate는 픽셀 버퍼 길이가 해상도와 맞는지 확인합니다
func (f *FrameBuffer) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Pix) != want {
		return fmt.Errorf("frame buffer size %d does not match %dx%d (want %d)", len(f.Pix), f.Width, f.Height, want)
	}
	return nil
}

// Image는 JPEG 인코딩 등에 쓸 수 있는 읽기 전용 image.Image 뷰를 반환합니다
func (f *FrameBuffer) Image() image.Image {
	return rgbImage{f}
}

type rgbImage struct {
	f *FrameBuffer
}

func (m rgbImage) ColorModel() color.Model { return color.RGBAModel }

func (m rgbImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.f.Width, m.f.Height) }

func (m rgbImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.f.Width || y >= m.f.Height {
		return color.RGBA{}
	}
	i := (y*m.f.Width + x) * BytesPerPixel
	return color.RGBA{R: m.f.Pix[i], G: m.f.Pix[i+1], B: m.f.Pix[i+2], A: 0xff}
}

// AudioFormat은 오디오 서브스트림의 PCM 형식
type AudioFormat struct {
	SampleRate int
	Channels   int
	ChunkSize  int // 바이트 단위
}

// DefaultAudioFormat은 s16le 44.1kHz 스테레오, 4096바이트 청크
var DefaultAudioFormat = AudioFormat{SampleRate: 44100, Channels: 2, ChunkSize: 4096}

// AudioChunk는 interleaved 16bit little-endian PCM 블록입니다.
// 오디오 렌더러가 정확히 한 번 소비합니다.
type AudioChunk []byte

// Samples는 청크에 들어 있는 16bit 샘플 수를 반환합니다
func (c AudioChunk) Samples() int {
	return len(c) / 2
}
