package session

import (
	"time"

	"github.com/yourusername/rednvr/internal/recording"
)

// EventType은 UI로 보내는 알림 종류
type EventType string

const (
	EventStateChanged      EventType = "state_changed"
	EventError             EventType = "error"
	EventRecordingToggled  EventType = "recording_toggled"
	EventRecordingFinished EventType = "recording_finished"
	EventSnapshotTaken     EventType = "snapshot_taken"
	EventAudioChanged      EventType = "audio_changed"
	EventCameraAdded       EventType = "camera_added"
	EventCameraRemoved     EventType = "camera_removed"
	EventCameraUpdated     EventType = "camera_updated"
)

// Event는 세션 알림 한 건입니다. 프레임 자체는 FrameHub로 전달되고 여기에는 싣지 않습니다.
type Event struct {
	Type       EventType         `json:"type"`
	CameraID   string            `json:"camera_id"`
	CameraName string            `json:"camera_name,omitempty"`
	Time       time.Time         `json:"time"`
	State      string            `json:"state,omitempty"`
	Recording  bool              `json:"recording"`
	Path       string            `json:"path,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Result     *recording.Result `json:"result,omitempty"`
	Enabled    bool              `json:"enabled,omitempty"`
	Volume     int               `json:"volume,omitempty"`
}
