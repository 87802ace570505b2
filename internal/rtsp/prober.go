package rtsp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// MediaInfo는 DESCRIBE로 얻은 트랙 정보
type MediaInfo struct {
	Type        string `json:"type"`
	Codec       string `json:"codec"`
	PayloadType uint8  `json:"payload_type"`
	Control     string `json:"control,omitempty"`
	Packets     uint64 `json:"packets"`
	Bytes       uint64 `json:"bytes"`
}

// ProbeResult는 카메라 스트림 점검 결과
type ProbeResult struct {
	URL          string        `json:"url"`
	Transport    string        `json:"transport"`
	Medias       []MediaInfo   `json:"medias"`
	HasVideo     bool          `json:"has_video"`
	HasAudio     bool          `json:"has_audio"`
	ConnectTime  time.Duration `json:"connect_time_ns"`
	FirstPacket  time.Duration `json:"first_packet_ns"`
	PacketsTotal uint64        `json:"packets_total"`
}

// Prober는 카메라를 등록하기 전에 RTSP 스트림을 점검합니다.
// DESCRIBE/SETUP/PLAY를 수행하고 첫 RTP 패킷이 도착하면 연결을 닫습니다.
type Prober struct {
	Transport string        // "tcp" or "udp"
	Timeout   time.Duration // 전체 점검 시간 제한
	Logger    *zap.Logger
}

// NewProber는 새로운 Prober를 생성합니다
func NewProber(transport string, timeout time.Duration, logger *zap.Logger) *Prober {
	if transport == "" {
		transport = "tcp"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{Transport: transport, Timeout: timeout, Logger: logger}
}

// Probe는 스트림에 접속해 트랙 정보와 첫 패킷 지연을 측정합니다
func (p *Prober) Probe(ctx context.Context, desc core.CameraDescriptor) (*ProbeResult, error) {
	streamURL, err := desc.StreamURL()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse URL: %w", core.ErrConnect, err)
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", core.ErrConnect, u.Scheme)
	}

	baseURL, err := base.ParseURL(streamURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse base URL: %w", core.ErrConnect, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	client := &gortsplib.Client{
		Transport:    p.transport(),
		ReadTimeout:  p.Timeout,
		WriteTimeout: p.Timeout,
	}

	result := &ProbeResult{URL: core.MaskURL(streamURL), Transport: p.Transport}
	started := time.Now()

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %w", core.ErrConnect, err)
	}
	defer client.Close()

	// 타임아웃/취소 시 블록된 요청을 끊음
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	session, _, err := client.Describe(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to describe: %w", core.ErrConnect, err)
	}
	result.ConnectTime = time.Since(started)

	p.Logger.Info("Stream description received",
		zap.String("url", result.URL),
		zap.Int("media_count", len(session.Medias)),
	)

	if err := client.SetupAll(baseURL, session.Medias); err != nil {
		return nil, fmt.Errorf("%w: failed to setup: %w", core.ErrConnect, err)
	}

	var mu sync.Mutex
	stats := make(map[*description.Media]*MediaInfo, len(session.Medias))
	for _, media := range session.Medias {
		info := &MediaInfo{Type: string(media.Type), Control: media.Control}
		if len(media.Formats) > 0 {
			info.Codec = media.Formats[0].Codec()
			info.PayloadType = media.Formats[0].PayloadType()
		}
		stats[media] = info

		switch media.Type {
		case description.MediaTypeVideo:
			result.HasVideo = true
		case description.MediaTypeAudio:
			result.HasAudio = true
		}
	}

	firstPacket := make(chan struct{})
	var firstOnce sync.Once

	client.OnPacketRTPAny(func(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
		mu.Lock()
		if info, ok := stats[medi]; ok {
			info.Packets++
			info.Bytes += uint64(len(pkt.Payload))
		}
		mu.Unlock()

		firstOnce.Do(func() {
			result.FirstPacket = time.Since(started)
			close(firstPacket)
		})
	})

	if _, err := client.Play(nil); err != nil {
		return nil, fmt.Errorf("%w: failed to play: %w", core.ErrConnect, err)
	}

	select {
	case <-firstPacket:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no RTP packets within %s", core.ErrRead, p.Timeout)
	}

	client.Close()

	mu.Lock()
	defer mu.Unlock()
	for _, media := range session.Medias {
		info := stats[media]
		result.PacketsTotal += info.Packets
		result.Medias = append(result.Medias, *info)
	}

	p.Logger.Info("Stream probe completed",
		zap.String("url", result.URL),
		zap.Bool("has_video", result.HasVideo),
		zap.Bool("has_audio", result.HasAudio),
		zap.Duration("first_packet", result.FirstPacket),
	)
	return result, nil
}

func (p *Prober) transport() *gortsplib.Transport {
	if p.Transport == "udp" {
		transport := gortsplib.TransportUDP
		return &transport
	}
	transport := gortsplib.TransportTCP
	return &transport
}
