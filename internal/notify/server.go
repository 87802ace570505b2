package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/session"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// 메시지 종류
const (
	MessageEvent   = "event"
	MessageCommand = "command"
	MessageResult  = "result"
	MessageError   = "error"
)

// Server는 WebSocket 기반 알림/명령 채널입니다
type Server struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients map[*Client]bool
	mutex   sync.RWMutex

	dropped atomic.Uint64

	// 콜백
	onCommand func(cmd session.Command) (session.CommandResult, error)
}

// Client는 WebSocket 클라이언트를 나타냅니다
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	logger *zap.Logger
}

// Message는 알림/명령 메시지를 나타냅니다
type Message struct {
	Type    string          `json:"type"`         // "event", "command", "result", "error"
	ID      string          `json:"id,omitempty"` // 명령 요청/응답 짝을 맞추는 클라이언트 ID
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload는 명령 실패 응답
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServerConfig는 알림 서버 설정
type ServerConfig struct {
	Logger    *zap.Logger
	OnCommand func(cmd session.Command) (session.CommandResult, error)
}

// NewServer는 새로운 알림 서버를 생성합니다
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 로컬 UI: 모든 origin 허용
			},
		},
		clients:   make(map[*Client]bool),
		onCommand: config.OnCommand,
	}
}

// HandleWebSocket은 WebSocket 연결을 처리합니다
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			zap.Error(err),
		)
		return
	}

	clientID := "client-" + uuid.NewString()[:8]
	client := &Client{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
		logger: s.logger.With(zap.String("client_id", clientID)),
	}

	s.registerClient(client)

	// 읽기/쓰기 고루틴 시작
	go client.writePump()
	go client.readPump()

	client.logger.Info("WebSocket client connected",
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// registerClient는 클라이언트를 등록합니다
func (s *Server) registerClient(client *Client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[client] = true

	s.logger.Debug("Client registered",
		zap.String("client_id", client.id),
		zap.Int("total_clients", len(s.clients)),
	)
}

// unregisterClient는 클라이언트를 등록 해제합니다
func (s *Server) unregisterClient(client *Client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.clients[client]; exists {
		delete(s.clients, client)
		close(client.send)

		s.logger.Info("Client unregistered",
			zap.String("client_id", client.id),
			zap.Int("total_clients", len(s.clients)),
		)
	}
}

// Broadcast는 세션 이벤트를 모든 클라이언트에 전송합니다.
// 송신 버퍼가 가득 찬 클라이언트에게는 이벤트를 버립니다.
func (s *Server) Broadcast(event session.Event) {
	data, err := encode(MessageEvent, "", event)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			s.dropped.Add(1)
			client.logger.Warn("Send channel full, dropping event",
				zap.String("type", string(event.Type)),
			)
		}
	}
}

// readPump은 WebSocket에서 메시지를 읽습니다
func (c *Client) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump은 WebSocket으로 메시지를 씁니다
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.logger.Error("Failed to write message", zap.Error(err))
			break
		}
	}
}

// handleMessage는 클라이언트 메시지를 처리합니다
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Failed to parse message", zap.Error(err))
		c.sendError("", core.ErrConfig, "invalid message")
		return
	}

	switch msg.Type {
	case MessageCommand:
		var cmd session.Command
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.sendError(msg.ID, core.ErrConfig, "invalid command payload")
			return
		}
		c.handleCommand(msg.ID, cmd)
	default:
		c.logger.Warn("Unknown message type", zap.String("type", msg.Type))
		c.sendError(msg.ID, core.ErrConfig, "unknown message type: "+msg.Type)
	}
}

// handleCommand는 제어 명령을 레지스트리로 전달합니다
func (c *Client) handleCommand(requestID string, cmd session.Command) {
	if c.server.onCommand == nil {
		c.logger.Error("No command handler configured")
		c.sendError(requestID, nil, "commands are not supported")
		return
	}

	c.logger.Debug("Processing command",
		zap.String("type", string(cmd.Type)),
		zap.String("camera_id", cmd.CameraID),
	)

	result, err := c.server.onCommand(cmd)
	if err != nil {
		c.sendError(requestID, err, err.Error())
		return
	}

	data, err := encode(MessageResult, requestID, result)
	if err != nil {
		c.logger.Error("Failed to marshal result", zap.Error(err))
		return
	}
	c.enqueue(data)
}

// sendError는 에러 메시지를 전송합니다
func (c *Client) sendError(requestID string, cause error, message string) {
	data, err := encode(MessageError, requestID, ErrorPayload{
		Kind:    core.ErrorKind(cause),
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to marshal error message", zap.Error(err))
		return
	}
	c.enqueue(data)
}

// enqueue는 등록된 클라이언트에게만 메시지를 넣습니다
func (c *Client) enqueue(data []byte) {
	c.server.mutex.RLock()
	defer c.server.mutex.RUnlock()

	if !c.server.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.dropped.Add(1)
		c.logger.Error("Send channel full, dropping reply")
	}
}

// GetID는 클라이언트 ID를 반환합니다
func (c *Client) GetID() string {
	return c.id
}

func encode(msgType, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, ID: id, Payload: raw})
}

// GetClientCount는 연결된 클라이언트 수를 반환합니다
func (s *Server) GetClientCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}

// DroppedMessages는 버퍼 초과로 버린 메시지 수를 반환합니다
func (s *Server) DroppedMessages() uint64 {
	return s.dropped.Load()
}

// Close는 모든 클라이언트 연결을 종료합니다
func (s *Server) Close() {
	s.logger.Info("Closing notification server")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
		client.conn.Close()
	}
}
