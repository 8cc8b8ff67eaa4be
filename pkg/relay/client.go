package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/LingByte/LingMeshX/pkg/constants"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"go.uber.org/zap"
)

// Client 一条已升级的 WebSocket 连接对应的中继侧参与者
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	roomID        string
	participantID string

	// send 出站消息缓冲，writePump 独占写连接
	send chan *protocol.SignalingMessage
}

// NewClient wraps an upgraded connection and registers it with the hub
func NewClient(hub *Hub, conn *websocket.Conn, roomID, participantID string) *Client {
	c := &Client{
		hub:           hub,
		conn:          conn,
		roomID:        roomID,
		participantID: participantID,
		send:          make(chan *protocol.SignalingMessage, constants.RelaySendBuffer),
	}
	hub.register <- c
	return c
}

// enqueue 非阻塞投递；慢消费者丢消息而不是拖垮中枢
func (c *Client) enqueue(msg *protocol.SignalingMessage) {
	select {
	case c.send <- msg:
	default:
		logger.Warn("relay send buffer full, dropping message",
			zap.String("participantId", c.participantID),
			zap.String("type", string(msg.Type)))
	}
}

// ReadPump 读取参与者消息并交给中枢转发
// 每条连接只在这一个 goroutine 里读
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.RelayMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.RelayPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("relay read error", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("malformed message from participant dropped",
				zap.String("participantId", c.participantID),
				zap.Error(err))
			continue
		}
		// 中继不信任客户端填写的身份
		if msg.FromParticipantID != c.participantID || msg.RoomID != c.roomID {
			logger.Warn("message with mismatched identity dropped",
				zap.String("participantId", c.participantID),
				zap.String("claimedFrom", msg.FromParticipantID),
				zap.String("claimedRoom", msg.RoomID))
			continue
		}

		c.hub.forward <- &inbound{from: c, msg: msg}
	}
}

// WritePump 把出站缓冲写到连接并维持心跳
// 每条连接只在这一个 goroutine 里写
func (c *Client) WritePump() {
	ticker := time.NewTicker(constants.RelayPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := msg.Encode()
			if err != nil {
				logger.Error("outbound message encode failed", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.RelayWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
