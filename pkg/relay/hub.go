// Package relay implements the signaling relay: a room-scoped fan-out hub
// that delivers signaling messages between call participants.
//
// 投递契约：带 toParticipantId 的消息只送达目标参与者；
// 广播消息送达房间内除发送者以外的所有成员。
// 不保证不同发送者之间的到达顺序。
package relay

import (
	gonanoid "github.com/matoous/go-nanoid"

	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"go.uber.org/zap"
)

// roomIDLength 短房间号长度
const roomIDLength = 10

// Hub 信令中继中枢，管理所有房间与连接
type Hub struct {
	// rooms 房间号 -> 参与者 id -> 连接
	rooms map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	forward    chan *inbound

	done chan struct{}
}

// inbound 一条待转发的消息及其来源连接
type inbound struct {
	from *Client
	msg  *protocol.SignalingMessage
}

// NewHub creates a hub; call Run in its own goroutine
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		forward:    make(chan *inbound),
		done:       make(chan struct{}),
	}
}

// MintRoomID 生成一个未占用的短房间号
func MintRoomID() string {
	id, err := gonanoid.Nanoid(roomIDLength)
	if err != nil {
		// nanoid 只在熵源不可用时失败
		logger.Error("room id generation failed", zap.Error(err))
		return "room-fallback"
	}
	return id
}

// Run 处理注册、注销与转发，直到 Stop 被调用
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.forward:
			h.deliver(in)
		}
	}
}

// Stop terminates the hub loop
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) addClient(client *Client) {
	room, ok := h.rooms[client.roomID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[client.roomID] = room
	}
	// 同一参与者重连时顶掉旧连接
	if old, exists := room[client.participantID]; exists {
		close(old.send)
	}
	room[client.participantID] = client
	logger.Info("relay client registered",
		zap.String("roomId", client.roomID),
		zap.String("participantId", client.participantID))
}

// removeClient 注销连接并向房间补发 leave_room
// 连接掉线没有干净的离开公告时，这里合成一条，
// 让各端的成员跟踪器走同一条移除路径
func (h *Hub) removeClient(client *Client) {
	room, ok := h.rooms[client.roomID]
	if !ok {
		return
	}
	current, exists := room[client.participantID]
	if !exists || current != client {
		return
	}
	delete(room, client.participantID)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.roomID)
	} else {
		gone := protocol.NewLeaveRoom(client.roomID, client.participantID)
		for _, member := range room {
			member.enqueue(gone)
		}
	}
	logger.Info("relay client unregistered",
		zap.String("roomId", client.roomID),
		zap.String("participantId", client.participantID))
}

// deliver 按投递契约转发一条消息
func (h *Hub) deliver(in *inbound) {
	room, ok := h.rooms[in.from.roomID]
	if !ok {
		return
	}
	msg := in.msg

	if !msg.IsBroadcast() {
		if target, exists := room[msg.ToParticipantID]; exists {
			target.enqueue(msg)
		} else {
			logger.Debug("directed message for absent participant dropped",
				zap.String("roomId", in.from.roomID),
				zap.String("toParticipantId", msg.ToParticipantID),
				zap.String("type", string(msg.Type)))
		}
		return
	}

	for id, member := range room {
		if id == in.from.participantID {
			continue
		}
		member.enqueue(msg)
	}
}

// RoomSize returns the number of participants currently in a room.
// 只能在 hub 循环之外用于测试和诊断时要小心：读的是瞬时值
func (h *Hub) RoomSize(roomID string) int {
	return len(h.rooms[roomID])
}
