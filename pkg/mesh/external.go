package mesh

import (
	"context"
	"sync"

	"github.com/carlmjohnson/requests"

	apperrors "github.com/LingByte/LingMeshX/pkg/errors"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"go.uber.org/zap"
)

// ServiceSession 托管通话服务发放的接入凭据
// 房间与轨道管理由服务完成，环境层拿着凭据接入服务 SDK
type ServiceSession struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
}

// serviceTokenRequest 令牌申请载荷
type serviceTokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

// ServiceCoordinator 托管服务通话路径的会话协调器
// 与网状 SessionCoordinator 二选一：这里不做 offer/answer，
// 只负责向令牌端点换取接入凭据并记录当前会话
type ServiceCoordinator struct {
	endpoint string
	local    Participant

	mu      sync.Mutex
	session *ServiceSession
}

// NewServiceCoordinator creates a coordinator that delegates calls to a managed service
func NewServiceCoordinator(endpoint string, local Participant) *ServiceCoordinator {
	return &ServiceCoordinator{
		endpoint: endpoint,
		local:    local,
	}
}

// Connect 向服务换取房间接入凭据
func (s *ServiceCoordinator) Connect(ctx context.Context, roomID string) (*ServiceSession, error) {
	if s.endpoint == "" {
		return nil, apperrors.NewAppError(apperrors.ErrCodeTransportUnavailable, "call service endpoint is not configured")
	}

	var session ServiceSession
	err := requests.
		URL(s.endpoint).
		BodyJSON(&serviceTokenRequest{
			RoomName:        roomID,
			ParticipantName: s.local.DisplayName,
		}).
		ToJSON(&session).
		Fetch(ctx)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeTransportUnavailable, err)
	}

	s.mu.Lock()
	s.session = &session
	s.mu.Unlock()

	logger.Info("call service session established",
		zap.String("roomName", session.RoomName),
		zap.String("participantId", s.local.ID))
	return &session, nil
}

// Session returns the active service session, if any
func (s *ServiceCoordinator) Session() (*ServiceSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.session != nil
}

// Disconnect 清除本地会话记录；服务端会话由服务自身回收
func (s *ServiceCoordinator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
}
