package session

import (
	"fmt"

	"github.com/yourusername/rednvr/internal/core"
)

// CommandType은 UI 제어 명령 종류
type CommandType string

const (
	CommandStart           CommandType = "start"
	CommandStop            CommandType = "stop"
	CommandToggleRecording CommandType = "toggle_recording"
	CommandSnapshot        CommandType = "snapshot"
	CommandSetAudio        CommandType = "set_audio"
	CommandSetVolume       CommandType = "set_volume"
)

// Command는 UI에서 세션으로 보내는 제어 명령
type Command struct {
	Type     CommandType `json:"type"`
	CameraID string      `json:"camera_id"`
	Enabled  *bool       `json:"enabled,omitempty"`
	Volume   *int        `json:"volume,omitempty"`
}

// CommandResult는 명령 처리 결과
type CommandResult struct {
	CameraID  string `json:"camera_id"`
	State     string `json:"state"`
	Recording bool   `json:"recording"`
	Path      string `json:"path,omitempty"`
	Enabled   bool   `json:"audio_enabled"`
	Volume    int    `json:"volume"`
}

// Dispatch는 명령을 대상 세션에 전달합니다.
// 같은 세션에 대한 명령은 세션의 제어 뮤텍스로 도착 순서대로 처리됩니다.
func (r *Registry) Dispatch(cmd Command) (CommandResult, error) {
	sess, ok := r.Get(cmd.CameraID)
	if !ok {
		return CommandResult{}, fmt.Errorf("%w: %s", core.ErrCameraNotFound, cmd.CameraID)
	}

	var path string
	var err error

	switch cmd.Type {
	case CommandStart:
		err = sess.Start()
	case CommandStop:
		err = sess.Stop()
	case CommandToggleRecording:
		_, err = sess.ToggleRecording()
		if err == nil {
			path = sess.recorder.State().Path
		}
	case CommandSnapshot:
		path, err = sess.Snapshot()
	case CommandSetAudio:
		if cmd.Enabled == nil {
			return CommandResult{}, fmt.Errorf("%w: set_audio requires enabled", core.ErrConfig)
		}
		sess.SetAudioEnabled(*cmd.Enabled)
	case CommandSetVolume:
		if cmd.Volume == nil {
			return CommandResult{}, fmt.Errorf("%w: set_volume requires volume", core.ErrConfig)
		}
		sess.SetVolume(*cmd.Volume)
	default:
		return CommandResult{}, fmt.Errorf("%w: unknown command %q", core.ErrConfig, cmd.Type)
	}

	enabled, volume := sess.Audio()
	return CommandResult{
		CameraID:  sess.ID(),
		State:     sess.State().String(),
		Recording: sess.Recording(),
		Path:      path,
		Enabled:   enabled,
		Volume:    volume,
	}, err
}
