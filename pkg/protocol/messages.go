package protocol

import (
	"encoding/json"

	"github.com/LingByte/LingMeshX/pkg/errors"
)

// MessageType identifies a signaling message on the wire
type MessageType string

const (
	MessageTypeJoinRoom     MessageType = "join_room"
	MessageTypeLeaveRoom    MessageType = "leave_room"
	MessageTypeRoomQuery    MessageType = "room_query"
	MessageTypeRoomResponse MessageType = "room_response"
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice_candidate"
)

// SessionDescription represents an SDP offer/answer payload
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Candidate represents an ICE candidate payload
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *int    `json:"sdpMLineIndex"`
}

// SignalingMessage 信令消息，通过中继在参与者之间传递
// ToParticipantID 为空表示向房间内所有成员广播
type SignalingMessage struct {
	Type                MessageType         `json:"type"`
	RoomID              string              `json:"roomId"`
	FromParticipantID   string              `json:"fromParticipantId"`
	FromParticipantName string              `json:"fromParticipantName,omitempty"`
	ToParticipantID     string              `json:"toParticipantId,omitempty"`
	SDP                 *SessionDescription `json:"sdp,omitempty"`
	Candidate           *Candidate          `json:"candidate,omitempty"`
}

// IsBroadcast reports whether the message targets the whole room
func (m *SignalingMessage) IsBroadcast() bool {
	return m.ToParticipantID == ""
}

// IsAddressedTo reports whether the message should be handled by participantID
func (m *SignalingMessage) IsAddressedTo(participantID string) bool {
	return m.IsBroadcast() || m.ToParticipantID == participantID
}

// Encode serializes the message to JSON
func (m *SignalingMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode 解析并校验一条信令消息
// 结构非法时返回 INVALID_MESSAGE 错误，调用方应记录并丢弃
func Decode(data []byte) (*SignalingMessage, error) {
	var msg SignalingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapError(errors.ErrCodeInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks structural invariants of the message
func (m *SignalingMessage) Validate() error {
	switch m.Type {
	case MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypeRoomQuery, MessageTypeRoomResponse:
		// membership messages carry no payload
	case MessageTypeOffer, MessageTypeAnswer:
		if m.SDP == nil || m.SDP.SDP == "" {
			return errors.NewAppErrorf(errors.ErrCodeInvalidMessage, "%s message without sdp payload", m.Type)
		}
		if m.SDP.Type != "offer" && m.SDP.Type != "answer" {
			return errors.NewAppErrorf(errors.ErrCodeInvalidMessage, "unknown sdp type: %s", m.SDP.Type)
		}
		if m.ToParticipantID == "" {
			return errors.NewAppErrorf(errors.ErrCodeInvalidMessage, "%s message must be addressed", m.Type)
		}
	case MessageTypeICECandidate:
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return errors.NewAppError(errors.ErrCodeInvalidMessage, "ice_candidate message without candidate payload")
		}
	default:
		return errors.NewAppErrorf(errors.ErrCodeInvalidMessage, "unknown message type: %s", m.Type)
	}
	if m.RoomID == "" {
		return errors.NewAppError(errors.ErrCodeInvalidMessage, "missing roomId")
	}
	if m.FromParticipantID == "" {
		return errors.NewAppError(errors.ErrCodeInvalidMessage, "missing fromParticipantId")
	}
	return nil
}

// NewJoinRoom builds a broadcast join announcement
func NewJoinRoom(roomID, fromID, fromName string) *SignalingMessage {
	return &SignalingMessage{
		Type:                MessageTypeJoinRoom,
		RoomID:              roomID,
		FromParticipantID:   fromID,
		FromParticipantName: fromName,
	}
}

// NewLeaveRoom builds a broadcast leave announcement
func NewLeaveRoom(roomID, fromID string) *SignalingMessage {
	return &SignalingMessage{
		Type:              MessageTypeLeaveRoom,
		RoomID:            roomID,
		FromParticipantID: fromID,
	}
}

// NewRoomQuery builds a broadcast query for existing members
func NewRoomQuery(roomID, fromID, fromName string) *SignalingMessage {
	return &SignalingMessage{
		Type:                MessageTypeRoomQuery,
		RoomID:              roomID,
		FromParticipantID:   fromID,
		FromParticipantName: fromName,
	}
}

// NewRoomResponse builds a directed reply to a room query
func NewRoomResponse(roomID, fromID, fromName, toID string) *SignalingMessage {
	return &SignalingMessage{
		Type:                MessageTypeRoomResponse,
		RoomID:              roomID,
		FromParticipantID:   fromID,
		FromParticipantName: fromName,
		ToParticipantID:     toID,
	}
}

// NewOffer builds a directed offer message
func NewOffer(roomID, fromID, toID string, sdp SessionDescription) *SignalingMessage {
	return &SignalingMessage{
		Type:              MessageTypeOffer,
		RoomID:            roomID,
		FromParticipantID: fromID,
		ToParticipantID:   toID,
		SDP:               &sdp,
	}
}

// NewAnswer builds a directed answer message
func NewAnswer(roomID, fromID, toID string, sdp SessionDescription) *SignalingMessage {
	return &SignalingMessage{
		Type:              MessageTypeAnswer,
		RoomID:            roomID,
		FromParticipantID: fromID,
		ToParticipantID:   toID,
		SDP:               &sdp,
	}
}

// NewICECandidate builds a directed candidate message
func NewICECandidate(roomID, fromID, toID string, candidate Candidate) *SignalingMessage {
	return &SignalingMessage{
		Type:              MessageTypeICECandidate,
		RoomID:            roomID,
		FromParticipantID: fromID,
		ToParticipantID:   toID,
		Candidate:         &candidate,
	}
}
