package mesh

import (
	apperrors "github.com/LingByte/LingMeshX/pkg/errors"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"go.uber.org/zap"
)

// Membership 房间成员跟踪器
// 维护本地身份与已知远端参与者集合，负责加入/离开广播与后到补发现
// 状态只在协调器的事件循环内变更，因此无需加锁
type Membership struct {
	transport SignalTransport

	roomID  string
	local   Participant
	members map[string]Participant

	// onJoin fires once per newly discovered participant
	onJoin func(Participant)
	// onLeave fires when a member leaves or is reported gone
	onLeave func(Participant)
}

// NewMembership creates a tracker bound to the given transport
func NewMembership(transport SignalTransport, onJoin, onLeave func(Participant)) *Membership {
	return &Membership{
		transport: transport,
		members:   make(map[string]Participant),
		onJoin:    onJoin,
		onLeave:   onLeave,
	}
}

// Join 广播加入公告，并额外广播成员查询以发现先加入的参与者
func (m *Membership) Join(roomID string, local Participant) error {
	m.roomID = roomID
	m.local = local
	m.members = make(map[string]Participant)

	if err := m.transport.Send(protocol.NewJoinRoom(roomID, local.ID, local.DisplayName)); err != nil {
		// 加入失败只作用于本次尝试，不留下已加入的假象
		m.roomID = ""
		return apperrors.WrapError(apperrors.ErrCodeTransportUnavailable, err)
	}
	// 中继不保证历史公告可达，查询在场成员补齐发现
	if err := m.transport.Send(protocol.NewRoomQuery(roomID, local.ID, local.DisplayName)); err != nil {
		m.roomID = ""
		return apperrors.WrapError(apperrors.ErrCodeTransportUnavailable, err)
	}

	logger.Info("joined room", zap.String("roomId", roomID), zap.String("participantId", local.ID))
	return nil
}

// Leave 广播离开公告并清空本地状态
func (m *Membership) Leave() error {
	if m.roomID == "" {
		return nil
	}
	err := m.transport.Send(protocol.NewLeaveRoom(m.roomID, m.local.ID))
	if err != nil {
		logger.Warn("leave announcement failed", zap.Error(err))
	}

	m.roomID = ""
	m.members = make(map[string]Participant)
	return err
}

// Handle 处理一条成员相关的信令消息
// 自己发出的消息与发给他人的消息在任何副作用之前被丢弃
func (m *Membership) Handle(msg *protocol.SignalingMessage) {
	if m.roomID == "" || msg.RoomID != m.roomID {
		return
	}
	if msg.FromParticipantID == m.local.ID {
		return
	}
	if !msg.IsAddressedTo(m.local.ID) {
		return
	}

	switch msg.Type {
	case protocol.MessageTypeJoinRoom, protocol.MessageTypeRoomResponse:
		m.add(Participant{ID: msg.FromParticipantID, DisplayName: msg.FromParticipantName})
	case protocol.MessageTypeRoomQuery:
		// 告知查询方自己在场，定向回复
		reply := protocol.NewRoomResponse(m.roomID, m.local.ID, m.local.DisplayName, msg.FromParticipantID)
		if err := m.transport.Send(reply); err != nil {
			logger.Warn("room response failed", zap.Error(err))
		}
		m.add(Participant{ID: msg.FromParticipantID, DisplayName: msg.FromParticipantName})
	case protocol.MessageTypeLeaveRoom:
		m.remove(msg.FromParticipantID)
	}
}

// MarkGone 处理传输层的"参与者消失"信号，与 leave_room 走同一条移除路径
func (m *Membership) MarkGone(participantID string) {
	m.remove(participantID)
}

// Observe 记录一次对参与者的观察（例如入站 offer），幂等
func (m *Membership) Observe(p Participant) {
	if m.roomID == "" {
		return
	}
	m.add(p)
}

// add 幂等添加：重复的加入公告不会产生第二次回调
func (m *Membership) add(p Participant) {
	if p.ID == m.local.ID {
		return
	}
	if _, known := m.members[p.ID]; known {
		return
	}
	m.members[p.ID] = p
	logger.Info("participant discovered",
		zap.String("roomId", m.roomID),
		zap.String("participantId", p.ID),
		zap.String("displayName", p.DisplayName))
	if m.onJoin != nil {
		m.onJoin(p)
	}
}

func (m *Membership) remove(participantID string) {
	p, known := m.members[participantID]
	if !known {
		return
	}
	delete(m.members, participantID)
	logger.Info("participant left",
		zap.String("roomId", m.roomID),
		zap.String("participantId", participantID))
	if m.onLeave != nil {
		m.onLeave(p)
	}
}

// Members returns a snapshot of the known remote participants
func (m *Membership) Members() []Participant {
	out := make([]Participant, 0, len(m.members))
	for _, p := range m.members {
		out = append(out, p)
	}
	return out
}

// Member looks up a known participant by id
func (m *Membership) Member(participantID string) (Participant, bool) {
	p, ok := m.members[participantID]
	return p, ok
}

// Local returns the local participant identity
func (m *Membership) Local() Participant {
	return m.local
}

// RoomID returns the active room id, empty when not joined
func (m *Membership) RoomID() string {
	return m.roomID
}

// InRoom reports whether a join is active
func (m *Membership) InRoom() bool {
	return m.roomID != ""
}
