// Package gateway implements the Realtime Gateway (C14): WebSocket and
// HTTP entrypoints binding connections to sessions, health reporting,
// and signed webhook ingestion.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/internal/orchestrator"
	"github.com/kart-io/assist-x/internal/session"
	syncengine "github.com/kart-io/assist-x/internal/sync"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
)

// HeartbeatInterval is the server ping cadence.
const HeartbeatInterval = 25 * time.Second

// ReconnectWindow is the reconnect window for a dropped connection. The
// gateway does not reference it: a reconnecting client resumes its
// conversation whenever the session store's idle threshold has not
// elapsed.
const ReconnectWindow = 60 * time.Second

// PendingReplyBacklog bounds replies delivered on reconnect.
const PendingReplyBacklog = 50

// Frame is one WebSocket JSON message.
type Frame struct {
	Type        string `json:"type"`
	MessageID   string `json:"message_id,omitempty"`
	Text        string `json:"text,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Code        string `json:"code,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// HealthStatus is the overall /health verdict.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthChecker reports liveness of one dependency.
type HealthChecker func() bool

// Gateway wires HTTP/WebSocket transport to the Conversation
// Orchestrator and Session Store.
type Gateway struct {
	orchestrator *orchestrator.Orchestrator
	sessions     session.Store
	syncEngine   *syncengine.Engine
	webhookKey   []byte

	upgrader websocket.Upgrader

	healthChecks map[string]HealthChecker

	connsMu sync.Mutex
	conns   map[string]*connection
}

type connection struct {
	userID   string
	platform model.Platform
	conv     *model.Conversation
	ws       *websocket.Conn
	writeMu  sync.Mutex
}

// New creates a Gateway.
func New(orch *orchestrator.Orchestrator, sessions session.Store, syncEngine *syncengine.Engine, webhookKey []byte, healthChecks map[string]HealthChecker) *Gateway {
	return &Gateway{
		orchestrator: orch, sessions: sessions, syncEngine: syncEngine, webhookKey: webhookKey,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		healthChecks: healthChecks,
		conns:        map[string]*connection{},
	}
}

// RegisterRoutes wires the gin router.
func (g *Gateway) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws/chat/:client_id", g.handleWebSocket)
	r.POST("/api/chat", g.handleHTTPChat)
	r.GET("/health", g.handleHealth)
	r.POST("/webhooks/catalog", g.handleWebhook)
}

type chatRequest struct {
	UserID   string        `json:"user_id"`
	Platform model.Platform `json:"platform"`
	Text     string        `json:"text"`
}

type chatResponse struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// handleHTTPChat is the non-socket equivalent of the WebSocket flow.
func (g *Gateway) handleHTTPChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	conv, err := g.sessions.BeginOrResume(c.Request.Context(), req.UserID, req.Platform, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not begin conversation"})
		return
	}

	reply, err := g.orchestrator.OnUserMessage(c.Request.Context(), conv.ConversationID, req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not process message"})
		return
	}

	c.JSON(http.StatusOK, chatResponse{MessageID: reply.MessageID, Text: reply.Text})
}

// handleWebSocket implements the bidirectional chat endpoint.
func (g *Gateway) handleWebSocket(c *gin.Context) {
	clientID := c.Param("client_id")
	userID, platform := deriveIdentity(clientID, c.Query("platform"))

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.Warnw("websocket upgrade failed", "client_id", clientID, "error", err.Error())
		return
	}
	defer ws.Close()

	conv, err := g.sessions.BeginOrResume(c.Request.Context(), userID, platform, time.Now())
	if err != nil {
		g.writeFrame(ws, Frame{Type: "error", Code: "store_unavailable", Text: "could not start session"})
		return
	}

	conn := &connection{userID: userID, platform: platform, conv: conv, ws: ws}
	g.registerConn(clientID, conn)
	defer g.unregisterConn(clientID)

	g.deliverPending(conn)
	g.pingLoop(conn)

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "user_message":
			go g.handleInbound(c.Request.Context(), conn, frame)
		case "ping":
			g.writeFrame(ws, Frame{Type: "system", Text: "pong"})
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, conn *connection, frame Frame) {
	reply, err := g.orchestrator.OnUserMessage(ctx, conn.conv.ConversationID, frame.Text)
	if err != nil {
		g.writeFrame(conn.ws, Frame{Type: "error", Code: "internal", Text: "something went wrong, please try again"})
		return
	}
	g.writeFrame(conn.ws, Frame{Type: "agent_response", MessageID: reply.MessageID, Text: reply.Text, CreatedAt: time.Now()})
}

func (g *Gateway) deliverPending(conn *connection) {
	msgs, err := g.sessions.ListMessages(context.Background(), conn.conv.ConversationID, 0, PendingReplyBacklog)
	if err != nil {
		return
	}
	for _, m := range msgs {
		if m.Sender != model.SenderBot {
			continue
		}
		g.writeFrame(conn.ws, Frame{Type: "agent_response", MessageID: m.MessageID, Text: m.Content, CreatedAt: m.CreatedAt})
	}
}

func (g *Gateway) pingLoop(conn *connection) {
	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := g.writeFrame(conn.ws, Frame{Type: "system", Text: "ping"}); err != nil {
				return
			}
		}
	}()
}

func (g *Gateway) writeFrame(ws *websocket.Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) registerConn(clientID string, conn *connection) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	g.conns[clientID] = conn
}

func (g *Gateway) unregisterConn(clientID string) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	delete(g.conns, clientID)
}

// deriveIdentity derives (user_id, platform) from client_id and
// auth/query context.
func deriveIdentity(clientID, platform string) (string, model.Platform) {
	p := model.Platform(platform)
	if p == "" {
		p = model.PlatformWeb
	}
	return clientID, p
}

type healthResponse struct {
	Status   HealthStatus      `json:"status"`
	Services map[string]string `json:"services"`
}

// handleHealth implements the /health contract.
func (g *Gateway) handleHealth(c *gin.Context) {
	services := map[string]string{}
	storeHealthy := true
	otherHealthy := true

	for name, check := range g.healthChecks {
		ok := check()
		if ok {
			services[name] = "ok"
		} else {
			services[name] = "unreachable"
			if name == "database" {
				storeHealthy = false
			} else {
				otherHealthy = false
			}
		}
	}

	status := HealthHealthy
	if !storeHealthy {
		status = HealthUnhealthy
	} else if !otherHealthy {
		status = HealthDegraded
	}

	code := http.StatusOK
	if status == HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, healthResponse{Status: status, Services: services})
}

type webhookRequest struct {
	Kind    model.Kind      `json:"kind"`
	Op      model.PendingOp `json:"op"`
	ID      string          `json:"id"`
	Payload map[string]any  `json:"payload"`
}

// handleWebhook validates the HMAC signature then enqueues the event.
func (g *Gateway) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if !g.validSignature(body, signature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errors.ErrBadSignature.Message})
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event := syncengine.WebhookEvent{Kind: req.Kind, Op: req.Op, ID: req.ID, Payload: req.Payload}
	if err := g.syncEngine.OnUpstreamEvent(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not enqueue event"})
		return
	}

	c.Status(http.StatusAccepted)
}

func (g *Gateway) validSignature(body []byte, signature string) bool {
	if len(g.webhookKey) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, g.webhookKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
