package api

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/session"
	"go.uber.org/zap"
)

// mjpegSubscriber는 프리뷰 피드에서 최신 프레임 하나만 보관하는 구독자입니다
type mjpegSubscriber struct {
	id     string
	frames chan *core.FrameBuffer
}

func newMJPEGSubscriber() *mjpegSubscriber {
	return &mjpegSubscriber{
		id:     "mjpeg-" + uuid.NewString()[:8],
		frames: make(chan *core.FrameBuffer, 1),
	}
}

// OnFrame은 이전 프레임이 아직 전송되지 않았으면 교체합니다
func (m *mjpegSubscriber) OnFrame(frame *core.FrameBuffer) error {
	for {
		select {
		case m.frames <- frame:
			return nil
		default:
		}
		select {
		case <-m.frames:
		default:
		}
	}
}

func (m *mjpegSubscriber) GetID() string {
	return m.id
}

// handlePreview는 카메라 프리뷰를 multipart/x-mixed-replace MJPEG로 스트리밍합니다
// GET /api/v1/cameras/:id/preview
func (s *Server) handlePreview(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	if s.preview == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "unsupported", Message: "preview is not configured"})
		return
	}

	feed, ok := s.previewFeed(c, sess)
	if !ok {
		return
	}
	sub := newMJPEGSubscriber()
	if err := feed.Subscribe(sub); err != nil {
		s.writeError(c, err)
		return
	}
	defer feed.Unsubscribe(sub.id)

	// 구독 직후 첫 화면을 바로 보내도록 최신 프레임으로 시작
	if frame := sess.LatestFrame(); frame != nil {
		sub.OnFrame(frame)
	}

	mw := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	logger := s.logger.With(
		zap.String("camera_id", sess.ID()),
		zap.String("subscriber_id", sub.id),
	)
	logger.Debug("Preview client connected")

	var buf bytes.Buffer
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Preview client disconnected")
			return
		case <-feed.Done():
			logger.Debug("Preview feed closed")
			return
		case frame := <-sub.frames:
			buf.Reset()
			if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: s.jpegQuality}); err != nil {
				logger.Warn("Failed to encode preview frame", zap.Error(err))
				continue
			}

			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(buf.Len())},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(buf.Bytes()); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// previewFeed는 세션의 프리뷰 피드를 반환합니다.
// 피드를 만든 사이에 카메라가 삭제되었으면 피드를 정리하고 404로 응답합니다.
func (s *Server) previewFeed(c *gin.Context, sess *session.Session) (*core.Feed, bool) {
	id := sess.ID()
	if feed, ok := s.preview.Lookup(id); ok {
		return feed, true
	}

	feed := s.preview.Feed(id)
	if current, ok := s.registry.Get(id); !ok || current != sess {
		s.preview.Drop(id)
		s.writeError(c, fmt.Errorf("%w: %s", core.ErrCameraNotFound, id))
		return nil, false
	}
	return feed, true
}

// handleFrame은 최신 프레임 한 장을 JPEG로 반환합니다
// GET /api/v1/cameras/:id/frame
func (s *Server) handleFrame(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	frame := sess.LatestFrame()
	if frame == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: s.jpegQuality}); err != nil {
		s.writeError(c, fmt.Errorf("failed to encode frame: %w", err))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}
