package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/database"
)

// ProbeRequest는 연결 테스트 요청 본문
type ProbeRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleProbe는 세션을 만들지 않고 스트림 연결을 점검합니다
// POST /api/v1/probe
func (s *Server) handleProbe(c *gin.Context) {
	if s.prober == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "unsupported", Message: "probe is not configured"})
		return
	}

	var req ProbeRequest
	if !s.bindJSON(c, &req, false) {
		return
	}
	desc := core.CameraDescriptor{Name: "probe", URL: req.URL, Username: req.Username, Password: req.Password}
	if err := desc.Validate(); err != nil {
		s.writeError(c, err)
		return
	}

	started := time.Now()
	result, err := s.prober.Probe(c.Request.Context(), desc)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"ok":         false,
			"error":      core.ErrorKind(err),
			"message":    err.Error(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"result":     result,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
}

// handleListRecordings는 녹화/스냅샷 카탈로그를 최신순으로 반환합니다
// GET /api/v1/recordings?camera_id=&kind=&limit=
func (s *Server) handleListRecordings(c *gin.Context) {
	if s.recordings == nil {
		c.JSON(http.StatusOK, gin.H{"recordings": []*database.Recording{}, "count": 0})
		return
	}

	opts := database.ListOptions{
		CameraID: c.Query("camera_id"),
		Kind:     c.Query("kind"),
		Limit:    100,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "config", Message: "limit must be a non-negative integer"})
			return
		}
		opts.Limit = limit
	}

	recordings, err := s.recordings.List(opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recordings": recordings,
		"count":      len(recordings),
	})
}

// GET /api/v1/recordings/:id
func (s *Server) handleGetRecording(c *gin.Context) {
	if s.recordings == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}

	rec, err := s.recordings.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleDeleteRecording은 카탈로그 항목과 파일을 삭제합니다
// DELETE /api/v1/recordings/:id
func (s *Server) handleDeleteRecording(c *gin.Context) {
	if s.recordings == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}

	rec, err := s.recordings.Delete(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted": rec.ID,
		"path":    rec.Path,
	})
}
