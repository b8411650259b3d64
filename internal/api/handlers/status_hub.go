package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apk-classify/apk-classify-go/internal/domain"
)

// StatusHub 任务状态 WebSocket 推送中心
// 编排器在流水线状态切换时通过 BroadcastStatus 推送进度
type StatusHub struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*websocket.Conn]string // 连接 -> 订阅的任务ID ("all" 表示订阅全部)
	clientMutex sync.RWMutex
	broadcast   chan StatusMessage
}

// StatusMessage 任务状态消息
type StatusMessage struct {
	TaskID    string            `json:"task_id"`
	Status    domain.TaskStatus `json:"status"`
	Step      string            `json:"step,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// NewStatusHub 创建状态推送中心
func NewStatusHub(logger *logrus.Logger) *StatusHub {
	return &StatusHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源（生产环境需要限制）
			},
		},
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan StatusMessage, 100),
	}
}

// Start 启动广播服务
func (h *StatusHub) Start() {
	go h.runBroadcaster()
}

// runBroadcaster 运行广播器
func (h *StatusHub) runBroadcaster() {
	for msg := range h.broadcast {
		var stale []*websocket.Conn

		h.clientMutex.RLock()
		for conn, subscribed := range h.clients {
			// 只发送给订阅了对应任务或全部任务的客户端
			if subscribed != msg.TaskID && subscribed != "all" {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Warn("Failed to write to WebSocket client")
				stale = append(stale, conn)
			}
		}
		h.clientMutex.RUnlock()

		if len(stale) > 0 {
			h.clientMutex.Lock()
			for _, conn := range stale {
				conn.Close()
				delete(h.clients, conn)
			}
			h.clientMutex.Unlock()
		}
	}
}

// HandleWebSocket 处理WebSocket连接
// GET /ws/tasks/:task_id ("all" 订阅全部任务)
func (h *StatusHub) HandleWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		taskID = "all"
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	// 注册客户端
	h.clientMutex.Lock()
	h.clients[conn] = taskID
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client connected")

	// 保持连接，客户端不需要发送消息
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	// 清理断开的连接
	h.clientMutex.Lock()
	delete(h.clients, conn)
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client disconnected")
}

// BroadcastStatus 广播任务状态更新（供编排器调用）
func (h *StatusHub) BroadcastStatus(taskID string, status domain.TaskStatus, step string) {
	msg := StatusMessage{
		TaskID:    taskID,
		Status:    status,
		Step:      step,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast channel is full, dropping message")
	}
}
