package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/ptz"
	"github.com/yourusername/rednvr/internal/session"
	"go.uber.org/zap"
)

// CameraRequest는 카메라 추가/수정 요청 본문
type CameraRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r CameraRequest) descriptor() core.CameraDescriptor {
	return core.CameraDescriptor{
		ID:       r.ID,
		Name:     r.Name,
		URL:      r.URL,
		Username: r.Username,
		Password: r.Password,
	}
}

// CameraUpdateRequest는 카메라 수정 요청 본문. 빠진 필드는 기존 값을 유지합니다.
type CameraUpdateRequest struct {
	Name     *string `json:"name"`
	URL      *string `json:"url"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// apply는 요청에 있는 필드만 기존 설정 위에 덮어씁니다
func (r CameraUpdateRequest) apply(desc core.CameraDescriptor) core.CameraDescriptor {
	if r.Name != nil {
		desc.Name = *r.Name
	}
	if r.URL != nil {
		desc.URL = *r.URL
	}
	if r.Username != nil {
		desc.Username = *r.Username
	}
	if r.Password != nil {
		desc.Password = *r.Password
	}
	return desc
}

// RecordRequest는 녹화 요청 본문. Enabled가 없으면 토글합니다.
type RecordRequest struct {
	Enabled *bool `json:"enabled"`
}

// AudioRequest는 오디오 설정 요청 본문
type AudioRequest struct {
	Enabled *bool `json:"enabled"`
	Volume  *int  `json:"volume"`
}

// bindJSON은 요청 본문을 파싱합니다. optional이면 빈 본문을 허용합니다.
func (s *Server) bindJSON(c *gin.Context, dst any, optional bool) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_json",
			Message: err.Error(),
		})
		return false
	}
	return true
}

// lookupSession은 경로의 카메라 세션을 찾고 없으면 404로 응답합니다
func (s *Server) lookupSession(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		s.writeError(c, fmt.Errorf("%w: %s", core.ErrCameraNotFound, id))
		return nil, false
	}
	return sess, true
}

// handleListCameras는 카메라 목록을 반환합니다
// GET /api/v1/cameras
func (s *Server) handleListCameras(c *gin.Context) {
	sessions := s.registry.List()
	cameras := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		cameras = append(cameras, sess.Info())
	}

	c.JSON(http.StatusOK, gin.H{
		"cameras": cameras,
		"count":   len(cameras),
	})
}

// handleAddCamera는 카메라를 등록하고 시작합니다
// POST /api/v1/cameras
func (s *Server) handleAddCamera(c *gin.Context) {
	var req CameraRequest
	if !s.bindJSON(c, &req, false) {
		return
	}

	id, err := s.registry.Add(req.descriptor())
	if err != nil {
		s.writeError(c, err)
		return
	}

	sess, ok := s.registry.Get(id)
	if !ok {
		s.writeError(c, fmt.Errorf("%w: %s", core.ErrCameraNotFound, id))
		return
	}
	c.JSON(http.StatusCreated, sess.Info())
}

// handleGetCamera는 카메라 한 대의 상태를 반환합니다
// GET /api/v1/cameras/:id
func (s *Server) handleGetCamera(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// handleUpdateCamera는 카메라 설정을 바꾸고 재시작합니다
// PUT /api/v1/cameras/:id
func (s *Server) handleUpdateCamera(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	var req CameraUpdateRequest
	if !s.bindJSON(c, &req, false) {
		return
	}

	id := sess.ID()
	desc := req.apply(sess.Descriptor())
	desc.ID = id
	if err := s.registry.Update(id, desc); err != nil {
		s.writeError(c, err)
		return
	}

	s.handleGetCamera(c)
}

// handleDeleteCamera는 카메라를 정지하고 삭제합니다
// DELETE /api/v1/cameras/:id
func (s *Server) handleDeleteCamera(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.Remove(id); err != nil {
		s.writeError(c, err)
		return
	}
	if f, ok := s.ptz.(interface{ Forget(string) }); ok {
		f.Forget(id)
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": id,
	})
}

// dispatch는 명령을 레지스트리로 보내고 결과로 응답합니다
func (s *Server) dispatch(c *gin.Context, cmd session.Command) {
	cmd.CameraID = c.Param("id")
	result, err := s.registry.Dispatch(cmd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/v1/cameras/:id/start
func (s *Server) handleStartCamera(c *gin.Context) {
	s.dispatch(c, session.Command{Type: session.CommandStart})
}

// POST /api/v1/cameras/:id/stop
func (s *Server) handleStopCamera(c *gin.Context) {
	s.dispatch(c, session.Command{Type: session.CommandStop})
}

// handleRecord는 녹화를 토글하거나 지정한 상태로 맞춥니다
// POST /api/v1/cameras/:id/record
func (s *Server) handleRecord(c *gin.Context) {
	var req RecordRequest
	if !s.bindJSON(c, &req, true) {
		return
	}
	if req.Enabled == nil {
		s.dispatch(c, session.Command{Type: session.CommandToggleRecording})
		return
	}

	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	recording, err := sess.SetRecording(*req.Enabled)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"camera_id": sess.ID(),
		"recording": recording,
		"record":    sess.Info().Record,
	})
}

// handleSnapshot은 최신 프레임을 JPEG로 저장합니다.
// 아직 프레임이 없으면 path 없이 200을 반환합니다.
// POST /api/v1/cameras/:id/snapshot
func (s *Server) handleSnapshot(c *gin.Context) {
	s.dispatch(c, session.Command{Type: session.CommandSnapshot})
}

// handleAudio는 오디오 출력과 볼륨을 설정합니다
// PUT /api/v1/cameras/:id/audio
func (s *Server) handleAudio(c *gin.Context) {
	var req AudioRequest
	if !s.bindJSON(c, &req, false) {
		return
	}
	if req.Enabled == nil && req.Volume == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "config",
			Message: "enabled or volume is required",
		})
		return
	}

	id := c.Param("id")
	var result session.CommandResult
	var err error
	if req.Enabled != nil {
		result, err = s.registry.Dispatch(session.Command{Type: session.CommandSetAudio, CameraID: id, Enabled: req.Enabled})
		if err != nil {
			s.writeError(c, err)
			return
		}
	}
	if req.Volume != nil {
		result, err = s.registry.Dispatch(session.Command{Type: session.CommandSetVolume, CameraID: id, Volume: req.Volume})
		if err != nil {
			s.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, result)
}

// handlePTZ는 PTZ 명령을 전달합니다
// POST /api/v1/cameras/:id/ptz
func (s *Server) handlePTZ(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	var req ptz.Request
	if !s.bindJSON(c, &req, false) {
		return
	}
	if err := ptz.Execute(s.ptz, sess.ID(), req); err != nil {
		s.writeError(c, err)
		return
	}

	response := gin.H{
		"camera_id": sess.ID(),
		"action":    req.Action,
	}
	if p, ok := s.ptz.(interface{ Position(string) ptz.Position }); ok {
		response["position"] = p.Position(sess.ID())
	}
	c.JSON(http.StatusOK, response)
}

// handleToggleAll은 모든 실행 중인 카메라의 녹화를 토글합니다
// POST /api/v1/recording/toggle-all
func (s *Server) handleToggleAll(c *gin.Context) {
	recording, err := s.registry.ToggleAllRecording()
	response := gin.H{
		"recording": recording,
	}
	if err != nil {
		// 일부 카메라 실패는 응답에 싣고 나머지 결과는 유지
		s.logger.Warn("Toggle all recording partially failed", zap.Error(err))
		response["error"] = err.Error()
	}
	c.JSON(http.StatusOK, response)
}
