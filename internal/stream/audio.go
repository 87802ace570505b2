package stream

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/process"
)

// ProcessAudioOpener는 ffmpeg 서브프로세스로 오디오 트랙만 s16le PCM으로 뽑아냅니다
type ProcessAudioOpener struct {
	Manager    *process.Manager
	FFmpegPath string
	Format     core.AudioFormat
	Transport  string // rtsp_transport (tcp/udp)
}

// OpenAudio는 디먹스 프로세스를 시작하고 stdout을 반환합니다
func (o *ProcessAudioOpener) OpenAudio(ctx context.Context, cameraID, url string) (io.ReadCloser, error) {
	bin := o.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	proc, err := o.Manager.Spawn(ctx, cameraID+"-audio", bin, AudioArgs(url, o.Format, o.Transport)...)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// AudioArgs는 오디오 디먹스 ffmpeg 인자를 만듭니다
func AudioArgs(url string, format core.AudioFormat, transport string) []string {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = core.DefaultAudioFormat
	}

	var args []string
	if transport != "" && strings.HasPrefix(strings.ToLower(url), "rtsp") {
		args = append(args, "-rtsp_transport", transport)
	}

	return append(args,
		"-i", url,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-f", "s16le",
		"-loglevel", "quiet",
		"-",
	)
}
