package core

import "errors"

// 카메라 파이프라인 에러 분류
var (
	// ErrConnect는 스트림 최초 연결 실패 (자동 재시도하지 않음)
	ErrConnect = errors.New("connect error")
	// ErrRead는 연결 이후의 일시적 읽기 실패 (재연결 루프에서 복구)
	ErrRead = errors.New("read error")
	// ErrAudio는 오디오 디먹스/재생 실패 (오디오 경로만 비활성화)
	ErrAudio = errors.New("audio error")
	// ErrRecordingIO는 녹화 파일 생성/쓰기 실패
	ErrRecordingIO = errors.New("recording io error")
	// ErrConfig는 잘못된 카메라 설정
	ErrConfig = errors.New("config error")

	ErrCameraNotFound  = errors.New("camera not found")
	ErrDuplicateCamera = errors.New("camera already exists")
	ErrNotRunning      = errors.New("camera session is not running")

	ErrRecordingNotFound = errors.New("recording not found")
)

// ErrorKind는 에러를 알림/응답에 쓰는 분류 이름으로 변환합니다
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrRead):
		return "read"
	case errors.Is(err, ErrAudio):
		return "audio"
	case errors.Is(err, ErrRecordingIO):
		return "recording_io"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrCameraNotFound), errors.Is(err, ErrRecordingNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateCamera):
		return "duplicate"
	case errors.Is(err, ErrNotRunning):
		return "not_running"
	default:
		return "internal"
	}
}
