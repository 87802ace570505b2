package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/database"
	"github.com/yourusername/rednvr/internal/recording"
	"github.com/yourusername/rednvr/internal/rtsp"
	"github.com/yourusername/rednvr/internal/session"
	"github.com/yourusername/rednvr/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// endlessReader는 작은 회색 프레임을 계속 반환합니다
type endlessReader struct{}

func (endlessReader) ReadFrame() (*core.FrameBuffer, error) {
	pix := bytes.Repeat([]byte{0x80}, 4*4*core.BytesPerPixel)
	return &core.FrameBuffer{Width: 4, Height: 4, Pix: pix, Timestamp: time.Now()}, nil
}

func (endlessReader) Close() error { return nil }

type fakeOpener struct{}

func (fakeOpener) Open(context.Context, string) (stream.VideoReader, error) {
	return endlessReader{}, nil
}

type discardEncoder struct{ file *os.File }

func (e *discardEncoder) WriteFrame(*core.FrameBuffer) error { return nil }
func (e *discardEncoder) Close() error                       { return e.file.Close() }

type discardEncoderFactory struct{}

func (discardEncoderFactory) Create(path string, _ recording.VideoSpec) (recording.Encoder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &discardEncoder{file: file}, nil
}

type fakeProber struct {
	err error
}

func (p fakeProber) Probe(_ context.Context, desc core.CameraDescriptor) (*rtsp.ProbeResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &rtsp.ProbeResult{
		URL:          core.MaskURL(desc.URL),
		Transport:    "tcp",
		HasVideo:     true,
		Medias:       []rtsp.MediaInfo{{Type: "video", Codec: "H264", PayloadType: 96}},
		PacketsTotal: 1,
	}, nil
}

type memoryRecordings struct {
	mu    sync.Mutex
	items []*database.Recording
}

func (m *memoryRecordings) List(opts database.ListOptions) ([]*database.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*database.Recording{}
	for _, rec := range m.items {
		if opts.CameraID != "" && rec.CameraID != opts.CameraID {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRecordings) Get(id string) (*database.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.items {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrRecordingNotFound, id)
}

func (m *memoryRecordings) Delete(id string) (*database.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.items {
		if rec.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrRecordingNotFound, id)
}

func (m *memoryRecordings) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

type testEnv struct {
	server     *Server
	registry   *session.Registry
	hub        *core.FrameHub
	recordings *memoryRecordings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	hub := core.NewFrameHub(nil, 4)
	registry := session.NewRegistry(session.RegistryConfig{
		Dependencies: session.Dependencies{
			Video:        fakeOpener{},
			Encoder:      discardEncoderFactory{},
			AudioVolume:  100,
			ReadInterval: time.Millisecond,
			RetryDelay:   10 * time.Millisecond,
			RecordingDir: filepath.Join(dir, "recordings"),
			SnapshotDir:  filepath.Join(dir, "snapshots"),
			Format:       "mp4",
			Spec:         recording.VideoSpec{Width: 4, Height: 4, FPS: 30},
			JPEGQuality:  80,
		},
		Preview: hub,
	})
	recordings := &memoryRecordings{}

	server := NewServer(ServerConfig{
		Production: true,
		Registry:   registry,
		Preview:    hub,
		Prober:     fakeProber{},
		Recordings: recordings,
	})

	t.Cleanup(func() {
		registry.Close()
		hub.Close()
	})

	// 이벤트 채널이 가득 차지 않도록 비움
	go func() {
		for range registry.Events() {
		}
	}()

	return &testEnv{server: server, registry: registry, hub: hub, recordings: recordings}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) addCamera(t *testing.T) session.Info {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/cameras", CameraRequest{
		Name:     "Front Door",
		URL:      "rtsp://10.0.0.5:554/stream1",
		Username: "admin",
		Password: "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[session.Info](t, w)
}

func TestCameraCRUD(t *testing.T) {
	env := newTestEnv(t)

	info := env.addCamera(t)
	assert.Len(t, info.ID, 8)
	assert.Equal(t, "Front Door", info.Name)
	assert.NotContains(t, info.URL, "secret")
	assert.Equal(t, "running", info.State)

	w := env.do(t, http.MethodGet, "/api/v1/cameras", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Cameras []session.Info `json:"cameras"`
		Count   int            `json:"count"`
	}](t, w)
	assert.Equal(t, 1, list.Count)
	assert.NotContains(t, w.Body.String(), "secret")

	w = env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID, CameraRequest{
		Name: "Back Door",
		URL:  "rtsp://10.0.0.6/stream",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[session.Info](t, w)
	assert.Equal(t, info.ID, updated.ID)
	assert.Equal(t, "Back Door", updated.Name)

	w = env.do(t, http.MethodDelete, "/api/v1/cameras/"+info.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/cameras/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Error)
}

func TestUpdateCameraKeepsOmittedFields(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	w := env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID, gin.H{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Renamed", decode[session.Info](t, w).Name)

	sess, ok := env.registry.Get(info.ID)
	require.True(t, ok)
	desc := sess.Descriptor()
	assert.Equal(t, "Renamed", desc.Name)
	assert.Equal(t, "rtsp://10.0.0.5:554/stream1", desc.URL)
	assert.Equal(t, "admin", desc.Username)
	assert.Equal(t, "secret", desc.Password)

	// 조회 응답의 필드를 그대로 다시 보내도 비밀번호는 유지
	w = env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID, gin.H{
		"name":     "Renamed Again",
		"url":      "rtsp://10.0.0.7:554/stream1",
		"username": "admin",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	desc = sess.Descriptor()
	assert.Equal(t, "rtsp://10.0.0.7:554/stream1", desc.URL)
	assert.Equal(t, "secret", desc.Password)

	// 명시적인 빈 값은 지움
	w = env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID, gin.H{"username": "", "password": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	desc = sess.Descriptor()
	assert.Empty(t, desc.Username)
	assert.Empty(t, desc.Password)

	w = env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID, gin.H{"url": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "rtsp://10.0.0.7:554/stream1", sess.Descriptor().URL)

	w = env.do(t, http.MethodPut, "/api/v1/cameras/missing1", gin.H{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCameraErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing url", http.MethodPost, "/api/v1/cameras", CameraRequest{Name: "x"}, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/v1/cameras", CameraRequest{URL: "rtsp://a/b"}, http.StatusBadRequest},
		{"unknown camera", http.MethodPost, "/api/v1/cameras/nope/start", nil, http.StatusNotFound},
		{"unknown update", http.MethodPut, "/api/v1/cameras/nope", CameraRequest{Name: "x", URL: "rtsp://a/b"}, http.StatusNotFound},
		{"unknown delete", http.MethodDelete, "/api/v1/cameras/nope", nil, http.StatusNotFound},
		{"unknown preview", http.MethodGet, "/api/v1/cameras/nope/preview", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cameras", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate id", func(t *testing.T) {
		body := CameraRequest{ID: "cam00001", Name: "a", URL: "rtsp://a/b"}
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/cameras", body).Code)
		assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/v1/cameras", body).Code)
	})
}

func TestRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	w := env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/record", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[session.CommandResult](t, w)
	assert.True(t, result.Recording)
	assert.Contains(t, result.Path, "Front Door_")

	w = env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/record", RecordRequest{Enabled: boolPtr(false)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"recording":false`)

	// 정지된 카메라는 녹화를 시작할 수 없음
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/stop", nil).Code)
	w = env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/record", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_running", decode[ErrorResponse](t, w).Error)

	w = env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode[session.CommandResult](t, w).State)
}

func TestToggleAll(t *testing.T) {
	env := newTestEnv(t)
	a := env.addCamera(t)
	env.addCamera(t)

	w := env.do(t, http.MethodPost, "/api/v1/recording/toggle-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recording":true`)

	sess, ok := env.registry.Get(a.ID)
	require.True(t, ok)
	assert.True(t, sess.Recording())

	w = env.do(t, http.MethodPost, "/api/v1/recording/toggle-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recording":false`)
	assert.False(t, sess.Recording())
}

func TestSnapshotAndFrame(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	sess, ok := env.registry.Get(info.ID)
	require.True(t, ok)
	require.Eventually(t, func() bool { return sess.LatestFrame() != nil }, time.Second, 5*time.Millisecond)

	w := env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[session.CommandResult](t, w)
	assert.Contains(t, filepath.Base(result.Path), "snapshot_Front Door_")
	_, err := os.Stat(result.Path)
	assert.NoError(t, err)

	w = env.do(t, http.MethodGet, "/api/v1/cameras/"+info.ID+"/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	img, err := jpeg.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestAudioSettings(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	w := env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID+"/audio", AudioRequest{Enabled: boolPtr(false), Volume: intPtr(150)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[session.CommandResult](t, w)
	assert.False(t, result.Enabled)
	assert.Equal(t, 100, result.Volume)

	w = env.do(t, http.MethodPut, "/api/v1/cameras/"+info.ID+"/audio", AudioRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPTZ(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	w := env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/ptz", map[string]any{"action": "move", "pan": 0.5, "tilt": -0.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"moving":true`)

	w = env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/ptz", map[string]any{"action": "zoom", "zoom": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/cameras/"+info.ID+"/ptz", map[string]any{"action": "preset", "preset": 3})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProbe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/probe", ProbeRequest{URL: "rtsp://10.0.0.5/stream", Username: "u", Password: "p"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["ok"])
	assert.NotContains(t, w.Body.String(), ":p@")

	w = env.do(t, http.MethodPost, "/api/v1/probe", ProbeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.server.prober = fakeProber{err: fmt.Errorf("%w: refused", core.ErrConnect)}
	w = env.do(t, http.MethodPost, "/api/v1/probe", ProbeRequest{URL: "rtsp://10.0.0.5/stream"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode[map[string]any](t, w)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "connect", body["error"])
}

func TestRecordingsCatalog(t *testing.T) {
	env := newTestEnv(t)
	env.recordings.items = []*database.Recording{
		{ID: "r1", CameraID: "a", Path: "/tmp/a.mp4"},
		{ID: "r2", CameraID: "b", Path: "/tmp/b.mp4"},
	}

	w := env.do(t, http.MethodGet, "/api/v1/recordings?camera_id=a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Recordings []database.Recording `json:"recordings"`
		Count      int                  `json:"count"`
	}](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "r1", list.Recordings[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/recordings?limit=x", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/recordings/r2", nil).Code)

	w = env.do(t, http.MethodDelete, "/api/v1/recordings/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/v1/recordings/r1", nil).Code)
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.addCamera(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["cameras"])

	w = env.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), stats["cameras"])
	assert.Equal(t, float64(0), stats["recordings"])
}

func TestPreviewStreamsJPEG(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/cameras/"+info.ID+"/preview", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		img, err := jpeg.Decode(part)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
	}
	cancel()

	require.Eventually(t, func() bool {
		feed, ok := env.hub.Lookup(info.ID)
		return ok && feed.Stats().Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPreviewEndsWhenCameraRemoved(t *testing.T) {
	env := newTestEnv(t)
	info := env.addCamera(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/cameras/"+info.ID+"/preview", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	reader := multipart.NewReader(resp.Body, params["boundary"])
	part, err := reader.NextPart()
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, part)
	require.NoError(t, err)

	w := env.do(t, http.MethodDelete, "/api/v1/cameras/"+info.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 스트림이 서버 쪽에서 끝나야 함 (컨텍스트 타임아웃 전에)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(io.Discard, resp.Body)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("preview stream still open after camera removal")
	}
	assert.NoError(t, ctx.Err())

	_, exists := env.hub.Lookup(info.ID)
	assert.False(t, exists)
}

func TestWriteErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: x", core.ErrConfig), http.StatusBadRequest},
		{fmt.Errorf("%w: x", core.ErrCameraNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", core.ErrDuplicateCamera), http.StatusConflict},
		{fmt.Errorf("%w: x", core.ErrNotRunning), http.StatusConflict},
		{fmt.Errorf("%w: x", core.ErrRecordingIO), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		env.server.writeError(c, tt.err)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
	}
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }
