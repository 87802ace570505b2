package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/yourusername/rednvr/internal/api"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/database"
	"github.com/yourusername/rednvr/internal/ffmpeg"
	"github.com/yourusername/rednvr/internal/notify"
	"github.com/yourusername/rednvr/internal/process"
	"github.com/yourusername/rednvr/internal/ptz"
	"github.com/yourusername/rednvr/internal/recording"
	"github.com/yourusername/rednvr/internal/rtsp"
	"github.com/yourusername/rednvr/internal/session"
	"github.com/yourusername/rednvr/internal/speaker"
	"github.com/yourusername/rednvr/internal/stream"
	"github.com/yourusername/rednvr/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/config.yaml"
	version           = "0.2.0"
)

func main() {
	// 커맨드라인 플래그 파싱
	configPath := flag.String("config", defaultConfigPath, "설정 파일 경로")
	showVersion := flag.Bool("version", false, "버전 정보 출력")
	flag.Parse()

	// 버전 정보 출력
	if *showVersion {
		fmt.Printf("RedNVR v%s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// 설정 로드
	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 로거 초기화
	if err := logger.InitLogger(logger.LogConfig{
		Level:      config.Logging.Level,
		Output:     config.Logging.Output,
		FilePath:   config.Logging.FilePath,
		MaxSize:    config.Logging.MaxSize,
		MaxBackups: config.Logging.MaxBackups,
		MaxAge:     config.Logging.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	// 시작 로그
	logger.Info("Starting RedNVR",
		zap.String("version", version),
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
	)

	// 설정 정보 출력
	logger.Info("Server configuration",
		zap.Int("http_port", config.Server.HTTPPort),
		zap.Bool("production", config.Server.Production),
		zap.String("rtsp_transport", config.Stream.RTSPTransport),
		zap.String("recording_dir", config.Recording.OutputDir),
		zap.Bool("auto_start", config.App.AutoStart),
	)

	// 서버 컴포넌트 초기화
	app, err := initializeApplication(config)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	logger.Info("All components initialized successfully")

	// 저장된 카메라 로드
	if err := app.registry.Load(app.cameraStore.List(), config.App.AutoStart); err != nil {
		logger.Error("Some stored cameras failed to load", zap.Error(err))
	}

	if err := app.apiServer.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// 종료 시그널 대기
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	logger.Info("Received shutdown signal",
		zap.String("signal", sig.String()),
	)

	app.shutdown()

	logger.Info("Server stopped gracefully")
}

// Application은 애플리케이션 컴포넌트들을 관리합니다
type Application struct {
	config         *core.Config
	cameraStore    *core.CameraStore
	db             *database.DB
	recordings     *database.RecordingRepository
	processManager *process.Manager
	frameHub       *core.FrameHub
	registry       *session.Registry
	notifyServer   *notify.Server
	apiServer      *api.Server

	pumpDone chan struct{}
}

// initializeApplication은 애플리케이션을 초기화합니다
func initializeApplication(config *core.Config) (*Application, error) {
	app := &Application{
		config:   config,
		pumpDone: make(chan struct{}),
	}

	// 1. 카메라 목록 저장소
	cameraStore, err := core.NewCameraStore(config.Storage.CamerasFile, logger.Named("cameras"))
	if err != nil {
		return nil, fmt.Errorf("failed to open camera store: %w", err)
	}
	app.cameraStore = cameraStore
	logger.Info("Camera store loaded", zap.Int("cameras", len(cameraStore.List())))

	// 2. 녹화 카탈로그
	db, err := database.New(config.Storage.DatabasePath, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.db = db
	app.recordings = database.NewRecordingRepository(db, logger.Named("database"))

	// 3. 오디오 출력 장치 (실패해도 비디오는 계속 동작)
	audioFormat := config.Audio.AudioFormat()
	if err := speaker.Init(audioFormat, logger.Named("speaker")); err != nil {
		logger.Warn("Audio output unavailable, audio playback disabled", zap.Error(err))
	}

	// 4. 세션 레지스트리
	app.processManager = process.NewManager(logger.Named("process"))
	app.frameHub = core.NewFrameHub(logger.Named("preview"), config.App.PreviewBuffer)

	app.registry = session.NewRegistry(session.RegistryConfig{
		Dependencies: session.Dependencies{
			Video: &ffmpeg.Opener{
				Transport: config.Stream.RTSPTransport,
				Timeout:   config.Stream.Timeout,
				Logger:    logger.Named("decoder"),
			},
			Audio: &stream.ProcessAudioOpener{
				Manager:    app.processManager,
				FFmpegPath: config.Audio.FFmpegPath,
				Format:     audioFormat,
				Transport:  config.Stream.RTSPTransport,
			},
			Speaker:      speaker.Open,
			Encoder:      &ffmpeg.EncoderFactory{Logger: logger.Named("encoder")},
			AudioFormat:  audioFormat,
			AudioEnabled: config.Audio.EnabledByDefault,
			AudioVolume:  config.Audio.DefaultVolume,
			ReadInterval: config.Stream.ReadInterval,
			RetryDelay:   config.Stream.RetryDelay,
			RecordingDir: config.Recording.OutputDir,
			SnapshotDir:  config.Recording.SnapshotDir,
			Format:       config.Recording.Format,
			Spec: recording.VideoSpec{
				Width:  config.Recording.Width,
				Height: config.Recording.Height,
				FPS:    config.Recording.FPS,
			},
			JPEGQuality: config.Recording.JPEGQuality,
			Logger:      logger.Named("session"),
		},
		EventBuffer: config.App.NotificationBuffer,
		Preview:     app.frameHub,
		OnSave:      cameraStore.Replace,
	})
	logger.Info("Session registry initialized")

	// 5. 알림 서버
	app.notifyServer = notify.NewServer(notify.ServerConfig{
		Logger:    logger.Named("notify"),
		OnCommand: app.registry.Dispatch,
	})
	logger.Info("Notification server initialized")

	// 6. API 서버
	app.apiServer = api.NewServer(api.ServerConfig{
		Port:             config.Server.HTTPPort,
		Production:       config.Server.Production,
		Logger:           logger.Named("api"),
		Registry:         app.registry,
		Preview:          app.frameHub,
		Prober:           rtsp.NewProber(config.Stream.RTSPTransport, config.Stream.ProbeTimeout, logger.Named("probe")),
		Recordings:       app.recordings,
		PTZ:              ptz.NewLogController(logger.Named("ptz")),
		Clients:          app.notifyServer,
		JPEGQuality:      config.Recording.JPEGQuality,
		WebSocketHandler: app.notifyServer.HandleWebSocket,
	})
	logger.Info("API server initialized")

	go app.pumpEvents()

	return app, nil
}

// pumpEvents는 세션 이벤트를 WebSocket으로 브로드캐스트하고 녹화 결과를 카탈로그에 기록합니다.
// 레지스트리가 닫히면 종료합니다.
func (app *Application) pumpEvents() {
	defer close(app.pumpDone)

	for event := range app.registry.Events() {
		app.notifyServer.Broadcast(event)

		rec, ok := catalogEntry(event)
		if !ok {
			continue
		}
		if err := app.recordings.Create(rec); err != nil {
			logger.Error("Failed to catalog recording",
				zap.String("camera_id", event.CameraID),
				zap.String("path", event.Path),
				zap.Error(err),
			)
		}
	}
}

// catalogEntry는 녹화 종료/스냅샷 이벤트를 카탈로그 항목으로 변환합니다
func catalogEntry(event session.Event) (*database.Recording, bool) {
	switch event.Type {
	case session.EventRecordingFinished:
		if event.Result == nil {
			return nil, false
		}
		return &database.Recording{
			CameraID:   event.CameraID,
			CameraName: event.CameraName,
			Kind:       database.KindVideo,
			Path:       event.Result.Path,
			StartedAt:  event.Result.StartedAt,
			EndedAt:    event.Result.EndedAt,
			Frames:     event.Result.Frames,
			SizeBytes:  event.Result.SizeBytes,
		}, true
	case session.EventSnapshotTaken:
		if event.Path == "" {
			return nil, false
		}
		rec := &database.Recording{
			CameraID:   event.CameraID,
			CameraName: event.CameraName,
			Kind:       database.KindSnapshot,
			Path:       event.Path,
			StartedAt:  event.Time,
			EndedAt:    event.Time,
		}
		if info, err := os.Stat(event.Path); err == nil {
			rec.SizeBytes = info.Size()
		}
		return rec, true
	default:
		return nil, false
	}
}

// shutdown은 새 요청을 막고 모든 세션을 정지한 뒤 리소스를 해제합니다
func (app *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.apiServer.Stop(ctx); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}

	// 진행 중인 녹화가 마무리되고 종료 이벤트까지 처리될 때까지 대기
	app.registry.Close()
	select {
	case <-app.pumpDone:
	case <-ctx.Done():
		logger.Warn("Timed out waiting for event pump")
	}

	app.notifyServer.Close()
	app.frameHub.Close()
	app.processManager.StopAll()

	if err := app.db.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}
}
