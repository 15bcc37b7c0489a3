// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"health-coach-go/internal/middleware"
	"health-coach-go/internal/model"
	"health-coach-go/internal/observability"
	"health-coach-go/internal/service"
	"health-coach-go/internal/stream"
	"health-coach-go/pkg/log"
	"health-coach-go/pkg/ratelimit"
	"health-coach-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 处理 NDJSON 与 WebSocket 两种传输方式的对话请求。
type ChatHandler struct {
	chatService     service.ChatService
	jwtManager      *token.JWTManager
	limiter         *ratelimit.Limiter
	entitlements    service.EntitlementService
	skipEntitlement bool
	maxFrameBytes   int64
	metrics         *observability.Metrics
}

// NewChatHandler 创建一个新的 ChatHandler。limiter 与 entitlements 只用于 WebSocket 路径，
// HTTP 路径由守卫链负责。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager, limiter *ratelimit.Limiter,
	entitlements service.EntitlementService, skipEntitlement bool, maxFrameBytes int64, metrics *observability.Metrics) *ChatHandler {
	return &ChatHandler{
		chatService:     chatService,
		jwtManager:      jwtManager,
		limiter:         limiter,
		entitlements:    entitlements,
		skipEntitlement: skipEntitlement,
		maxFrameBytes:   maxFrameBytes,
		metrics:         metrics,
	}
}

// Chat 处理 POST /api/v1/coach/chat，以 NDJSON 逐行返回事件。
func (h *ChatHandler) Chat(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		middleware.AbortWithError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortWithError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		middleware.AbortWithError(c, http.StatusBadRequest, "malformed JSON body")
		return
	}

	requestID := middleware.RequestIDFrom(c)
	s, err := h.chatService.Start(c.Request.Context(), service.ChatTurn{
		RequestID: requestID,
		UserID:    claims.UserID,
		ThreadID:  req.ThreadID,
		Domain:    req.Domain,
		Messages:  req.Messages,
	})
	if err != nil {
		h.abortStartError(c, err)
		return
	}

	c.Header("Content-Type", stream.ContentTypeNDJSON)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if err := stream.WriteNDJSON(c.Writer, s.Events()); err != nil {
		log.Warnw("写入 NDJSON 流失败", "requestId", requestID, "error", err)
	}
}

func (h *ChatHandler) abortStartError(c *gin.Context, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		middleware.AbortWithError(c, http.StatusBadRequest, ve.Error())
		return
	}
	log.Errorw("启动对话失败", "requestId", middleware.RequestIDFrom(c), "error", err)
	middleware.AbortWithError(c, http.StatusInternalServerError, "internal error")
}

// wsSession 串行化同一连接上的写操作。
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) write(ev model.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

type wsControl struct {
	Type string `json:"type"`
}

// HandleWebSocket 处理 GET /chat/:token。每个文本帧是一个 ChatRequest，每个事件作为一个文本帧下发；
// {"type":"stop"} 中止当前回答。同一连接同时只处理一个回答。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		middleware.AbortWithError(c, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	if !h.skipEntitlement && h.entitlements != nil {
		if err := h.entitlements.Check(c.Request.Context(), claims.UserID); err != nil {
			if errors.Is(err, service.ErrNotEntitled) {
				middleware.AbortWithError(c, http.StatusPaymentRequired, "an active subscription is required")
				return
			}
			log.Errorw("订阅查询失败", "userId", claims.UserID, "error", err)
			middleware.AbortWithError(c, http.StatusInternalServerError, "internal error")
			return
		}
	}
	c.Set(middleware.ContextKeyClaims, claims)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	if h.maxFrameBytes > 0 {
		conn.SetReadLimit(h.maxFrameBytes)
	}
	log.Infow("WebSocket 连接已建立", "userId", claims.UserID)

	session := &wsSession{conn: conn}
	connCtx, cancelConn := context.WithCancel(c.Request.Context())
	defer cancelConn()

	var (
		cancelActive context.CancelFunc
		activeDone   chan struct{}
	)
	busy := func() bool {
		if activeDone == nil {
			return false
		}
		select {
		case <-activeDone:
			return false
		default:
			return true
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Debugw("WebSocket 读取结束", "userId", claims.UserID, "error", err)
			break
		}

		var ctrl wsControl
		if json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
			if cancelActive != nil {
				cancelActive()
			}
			continue
		}

		requestID := uuid.NewString()
		if busy() {
			_ = session.write(model.ErrorEvent(requestID, "a response is already streaming"))
			continue
		}
		if h.limiter != nil {
			res, err := h.limiter.Consume(connCtx, middleware.RateLimitKey(c))
			if err != nil {
				log.Warnw("限流存储不可用，放行请求", "requestId", requestID, "error", err)
			} else if !res.Success {
				h.metrics.IncRateLimited()
				_ = session.write(model.ErrorEvent(requestID, "rate limit exceeded"))
				continue
			}
		}

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			_ = session.write(model.ErrorEvent(requestID, "malformed JSON body"))
			continue
		}

		streamCtx, cancelStream := context.WithCancel(connCtx)
		s, err := h.chatService.Start(streamCtx, service.ChatTurn{
			RequestID: requestID,
			UserID:    claims.UserID,
			ThreadID:  req.ThreadID,
			Domain:    req.Domain,
			Messages:  req.Messages,
		})
		if err != nil {
			cancelStream()
			msg := "internal error"
			var ve *service.ValidationError
			if errors.As(err, &ve) {
				msg = ve.Error()
			} else {
				log.Errorw("启动对话失败", "requestId", requestID, "error", err)
			}
			_ = session.write(model.ErrorEvent(requestID, msg))
			continue
		}

		done := make(chan struct{})
		cancelActive, activeDone = cancelStream, done
		go func() {
			defer close(done)
			defer cancelStream()
			for ev := range s.Events() {
				if err := session.write(ev); err != nil {
					cancelStream()
				}
			}
		}()
	}

	cancelConn()
	if activeDone != nil {
		<-activeDone
	}
}
