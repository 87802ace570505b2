package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourusername/rednvr/internal/client"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/rtsp"
	"github.com/yourusername/rednvr/pkg/logger"
	"go.uber.org/zap"
)

// probe는 카메라를 등록하기 전에 RTSP 스트림 연결을 점검하는 CLI입니다.
// -server를 주면 실행 중인 NVR 서버에서 점검하고, -add로 성공한 카메라를 바로 등록합니다.
//
//	probe -url rtsp://10.0.0.5:554/stream1 -user admin -pass secret
//	probe -server http://localhost:8107 -url rtsp://10.0.0.5/stream1 -add "Front Door"
func main() {
	streamURL := flag.String("url", "", "RTSP 스트림 URL")
	username := flag.String("user", "", "카메라 사용자명")
	password := flag.String("pass", "", "카메라 비밀번호")
	transport := flag.String("transport", "tcp", "RTSP 전송 방식 (tcp, udp)")
	timeout := flag.Duration("timeout", 10*time.Second, "점검 시간 제한")
	verbose := flag.Bool("v", false, "상세 로그 출력")
	server := flag.String("server", "", "NVR 서버 주소 (예: http://localhost:8107)")
	addName := flag.String("add", "", "점검 성공 시 이 이름으로 카메라 등록 (-server 필요)")
	flag.Parse()

	if *streamURL == "" {
		fmt.Fprintln(os.Stderr, "Usage: probe -url rtsp://host/path [-user name -pass secret]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := logger.InitLogger(logger.LogConfig{Level: level, Output: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	desc := core.CameraDescriptor{
		Name:     "probe",
		URL:      *streamURL,
		Username: *username,
		Password: *password,
	}

	if *addName != "" && *server == "" {
		fmt.Fprintln(os.Stderr, "-add requires -server")
		os.Exit(2)
	}

	var result *rtsp.ProbeResult
	var err error
	if *server != "" {
		result, err = probeRemote(ctx, client.NewAPIClient(*server), desc)
	} else {
		result, err = rtsp.NewProber(*transport, *timeout, logger.Named("probe")).Probe(ctx, desc)
	}
	if err != nil {
		logger.Error("Probe failed",
			zap.String("url", core.MaskURL(*streamURL)),
			zap.String("kind", core.ErrorKind(err)),
			zap.Error(err),
		)
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", core.ErrorKind(err), err)
		os.Exit(1)
	}

	fmt.Printf("✅ Connected to %s (%s)\n", result.URL, result.Transport)
	fmt.Printf("   describe: %s, first packet: %s\n", result.ConnectTime.Round(time.Millisecond), result.FirstPacket.Round(time.Millisecond))
	for _, media := range result.Medias {
		fmt.Printf("   - %-5s %-8s pt=%d packets=%d\n", media.Type, media.Codec, media.PayloadType, media.Packets)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if *addName != "" {
		camera, err := client.NewAPIClient(*server).AddCamera(ctx, client.CameraRequest{
			Name:     *addName,
			URL:      *streamURL,
			Username: *username,
			Password: *password,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to add camera: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Camera added: %s (%s, %s)\n", camera.Name, camera.ID, camera.State)
	}
}

// probeRemote는 서버의 /api/v1/probe로 점검을 요청합니다
func probeRemote(ctx context.Context, api *client.APIClient, desc core.CameraDescriptor) (*rtsp.ProbeResult, error) {
	resp, err := api.Probe(ctx, desc.URL, desc.Username, desc.Password)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s: %s", resp.Error, resp.Message)
	}
	return resp.Result, nil
}
