package ptz

import (
	"fmt"
	"sync"

	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// Action은 PTZ 명령 종류
type Action string

const (
	ActionMove   Action = "move"
	ActionZoom   Action = "zoom"
	ActionPreset Action = "preset"
	ActionStop   Action = "stop"
)

// Request는 API로 들어오는 PTZ 요청
type Request struct {
	Action Action  `json:"action"`
	Pan    float64 `json:"pan"`
	Tilt   float64 `json:"tilt"`
	Zoom   float64 `json:"zoom"`
	Preset int     `json:"preset"`
}

// Position은 마지막으로 요청된 PTZ 위치
type Position struct {
	Pan    float64 `json:"pan"`
	Tilt   float64 `json:"tilt"`
	Zoom   float64 `json:"zoom"`
	Preset int     `json:"preset,omitempty"`
	Moving bool    `json:"moving"`
}

// Controller는 카메라 PTZ 제어 인터페이스
type Controller interface {
	Move(cameraID string, pan, tilt float64) error
	Zoom(cameraID string, level float64) error
	GotoPreset(cameraID string, preset int) error
	Stop(cameraID string) error
}

// LogController는 실제 카메라 프로토콜 없이 명령을 검증하고 기록만 합니다
type LogController struct {
	logger *zap.Logger

	positions map[string]Position
	mutex     sync.RWMutex
}

// NewLogController는 새로운 LogController를 생성합니다
func NewLogController(logger *zap.Logger) *LogController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogController{
		logger:    logger,
		positions: make(map[string]Position),
	}
}

// Move는 pan/tilt 속도 명령 ([-1, 1])
func (c *LogController) Move(cameraID string, pan, tilt float64) error {
	if pan < -1 || pan > 1 || tilt < -1 || tilt > 1 {
		return fmt.Errorf("%w: pan/tilt must be within [-1, 1]", core.ErrConfig)
	}

	c.update(cameraID, func(p *Position) {
		p.Pan = pan
		p.Tilt = tilt
		p.Moving = pan != 0 || tilt != 0
	})

	c.logger.Info("PTZ move",
		zap.String("camera_id", cameraID),
		zap.Float64("pan", pan),
		zap.Float64("tilt", tilt),
	)
	return nil
}

// Zoom은 줌 레벨 명령 ([0, 1])
func (c *LogController) Zoom(cameraID string, level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("%w: zoom must be within [0, 1]", core.ErrConfig)
	}

	c.update(cameraID, func(p *Position) { p.Zoom = level })

	c.logger.Info("PTZ zoom",
		zap.String("camera_id", cameraID),
		zap.Float64("level", level),
	)
	return nil
}

// GotoPreset은 프리셋 위치로 이동 (1..255)
func (c *LogController) GotoPreset(cameraID string, preset int) error {
	if preset < 1 || preset > 255 {
		return fmt.Errorf("%w: preset must be within 1..255", core.ErrConfig)
	}

	c.update(cameraID, func(p *Position) {
		p.Preset = preset
		p.Moving = false
	})

	c.logger.Info("PTZ goto preset",
		zap.String("camera_id", cameraID),
		zap.Int("preset", preset),
	)
	return nil
}

// Stop은 진행 중인 이동을 멈춥니다
func (c *LogController) Stop(cameraID string) error {
	c.update(cameraID, func(p *Position) {
		p.Pan = 0
		p.Tilt = 0
		p.Moving = false
	})

	c.logger.Info("PTZ stop", zap.String("camera_id", cameraID))
	return nil
}

// Position은 카메라의 마지막 요청 위치를 반환합니다
func (c *LogController) Position(cameraID string) Position {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.positions[cameraID]
}

// Forget은 카메라 삭제 시 상태를 정리합니다
func (c *LogController) Forget(cameraID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.positions, cameraID)
}

func (c *LogController) update(cameraID string, fn func(p *Position)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	p := c.positions[cameraID]
	fn(&p)
	c.positions[cameraID] = p
}

// Execute는 Request를 해당 Controller 메서드로 전달합니다
func Execute(c Controller, cameraID string, req Request) error {
	switch req.Action {
	case ActionMove:
		return c.Move(cameraID, req.Pan, req.Tilt)
	case ActionZoom:
		return c.Zoom(cameraID, req.Zoom)
	case ActionPreset:
		return c.GotoPreset(cameraID, req.Preset)
	case ActionStop:
		return c.Stop(cameraID)
	default:
		return fmt.Errorf("%w: unknown ptz action %q", core.ErrConfig, req.Action)
	}
}
