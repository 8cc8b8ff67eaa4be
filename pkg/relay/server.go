package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LingByte/LingMeshX/pkg/logger"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 信令鉴权在上层完成，中继本身不做源检查
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server 信令中继的 HTTP 外壳
type Server struct {
	hub         *Hub
	tokenSecret string
}

// NewServer creates the HTTP surface over a running hub
func NewServer(hub *Hub, tokenSecret string) *Server {
	return &Server{hub: hub, tokenSecret: tokenSecret}
}

// Router builds the gin engine with all relay routes
func (s *Server) Router(mode string) *gin.Engine {
	if mode != "dev" && mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/rooms/new", s.handleNewRoom)
	r.GET("/ws/:roomId", s.handleWebSocket)
	r.POST("/call/token", s.handleCallToken)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleNewRoom 创建一个新的短房间号
func (s *Server) handleNewRoom(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roomId": MintRoomID()})
}

// handleWebSocket 升级连接并接入房间
func (s *Server) handleWebSocket(c *gin.Context) {
	roomID := c.Param("roomId")
	participantID := c.Query("participantId")
	if participantID == "" {
		participantID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, roomID, participantID)
	go client.WritePump()
	go client.ReadPump()
}

// tokenRequest 托管通话服务令牌申请
type tokenRequest struct {
	RoomName        string `json:"roomName" binding:"required"`
	ParticipantName string `json:"participantName" binding:"required"`
}

// handleCallToken 为托管服务通话路径签发开发用访问令牌
// 生产部署应替换为真实服务的令牌端点
func (s *Server) handleCallToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := fmt.Sprintf("%s:%s:%d", req.RoomName, req.ParticipantName, time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(s.tokenSecret))
	mac.Write([]byte(claims))
	token := base64.RawURLEncoding.EncodeToString(append([]byte(claims+"."), mac.Sum(nil)...))

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"url":      "ws://" + c.Request.Host + "/ws/" + req.RoomName,
		"roomName": req.RoomName,
	})
}
