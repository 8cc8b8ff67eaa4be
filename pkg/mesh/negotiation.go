package mesh

import (
	"context"

	apperrors "github.com/LingByte/LingMeshX/pkg/errors"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"go.uber.org/zap"
)

// ElectRole 发起方选举：对参与者 id 做全序比较，较小者为发起方
// 两端只用本地可得的 id 即可算出一致的结果，无需服务端仲裁
func ElectRole(localID, remoteID string) Role {
	if localID < remoteID {
		return RoleInitiator
	}
	return RoleResponder
}

// NegotiatorHooks 协商引擎向上层回报的事件
type NegotiatorHooks struct {
	OnRemoteTrack    func(remote Participant, track RemoteTrack)
	OnTrackEnded     func(remote Participant, kind MediaKind)
	OnTransportState func(remote Participant, state TransportState)
}

// Negotiator 驱动每条对等链路的 offer/answer 交换
// 方法只在会话事件循环内调用；阻塞的媒体协商调用在独立 goroutine 中执行，
// 结果带着代次标记投递回循环，过期结果被丢弃
type Negotiator struct {
	transport SignalTransport
	connector PeerConnector
	registry  *LinkRegistry
	hooks     NegotiatorHooks

	// post schedules fn back onto the session event loop;
	// the scheduler drops fn when epoch no longer matches the session
	post func(epoch uint64, fn func())

	roomID      string
	local       Participant
	epoch       uint64
	iceServers  []string
	localTracks []LocalTrack
}

// NewNegotiator creates a negotiation engine over the given capabilities
func NewNegotiator(transport SignalTransport, connector PeerConnector, registry *LinkRegistry,
	hooks NegotiatorHooks, post func(epoch uint64, fn func())) *Negotiator {
	return &Negotiator{
		transport: transport,
		connector: connector,
		registry:  registry,
		hooks:     hooks,
		post:      post,
	}
}

// Bind 绑定当前会话参数，每次 connect 调用一次
func (n *Negotiator) Bind(roomID string, local Participant, epoch uint64, iceServers []string, tracks []LocalTrack) {
	n.roomID = roomID
	n.local = local
	n.epoch = epoch
	n.iceServers = iceServers
	n.localTracks = tracks
}

// EnsureLink 幂等地取得与 remote 的链路，必要时创建并接线
func (n *Negotiator) EnsureLink(remote Participant) (*PeerLink, error) {
	if link, ok := n.registry.Get(remote.ID); ok {
		return link, nil
	}

	pc, err := n.connector.NewPeerConnection(n.iceServers)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeNegotiationFailed, err)
	}

	role := ElectRole(n.local.ID, remote.ID)
	link, _ := n.registry.GetOrCreate(remote, role, n.epoch, pc)

	// 本地共享轨道挂到每条链路上
	for _, track := range n.localTracks {
		if err := pc.AddTrack(track); err != nil {
			logger.Warn("add local track failed",
				zap.String("participantId", remote.ID),
				zap.String("trackId", track.ID()),
				zap.Error(err))
		}
	}

	epoch := n.epoch
	roomID := n.roomID
	localID := n.local.ID

	pc.OnICECandidate(func(candidate protocol.Candidate) {
		n.post(epoch, func() {
			msg := protocol.NewICECandidate(roomID, localID, remote.ID, candidate)
			if err := n.transport.Send(msg); err != nil {
				logger.Warn("candidate send failed", zap.Error(err))
			}
		})
	})

	pc.OnTrack(func(track RemoteTrack) {
		n.post(epoch, func() {
			if n.hooks.OnRemoteTrack != nil {
				n.hooks.OnRemoteTrack(remote, track)
			}
		})
	})

	pc.OnTrackEnded(func(track RemoteTrack) {
		n.post(epoch, func() {
			if n.hooks.OnTrackEnded != nil {
				n.hooks.OnTrackEnded(remote, track.Kind())
			}
		})
	})

	pc.OnConnectionStateChange(func(state TransportState) {
		n.post(epoch, func() {
			if n.hooks.OnTransportState != nil {
				n.hooks.OnTransportState(remote, state)
			}
		})
	})

	return link, nil
}

// Begin 与新发现的参与者开始协商
// 只有选举出的发起方创建 offer；应答方等待对端的 offer 到来
func (n *Negotiator) Begin(remote Participant) {
	link, err := n.EnsureLink(remote)
	if err != nil {
		logger.Error("link setup failed", zap.String("participantId", remote.ID), zap.Error(err))
		return
	}
	if link.role != RoleInitiator {
		logger.Debug("awaiting offer from initiator", zap.String("participantId", remote.ID))
		return
	}
	if link.state != LinkStateNew {
		// 重复发现不重启已有协商
		return
	}

	link.transition(LinkStateNegotiating)
	link.offerOutstanding = true
	n.sendOffer(link, false)
}

// sendOffer 在循环外创建 offer 并设为本地描述，完成后投递发送
func (n *Negotiator) sendOffer(link *PeerLink, restart bool) {
	pc := link.pc
	remote := link.remote
	epoch := link.epoch

	go func() {
		var desc protocol.SessionDescription
		var err error
		if restart {
			desc, err = pc.RestartICE(context.Background())
		} else {
			desc, err = pc.CreateOffer(context.Background())
			if err == nil {
				err = pc.SetLocalDescription(desc)
			}
		}

		n.post(epoch, func() {
			if err != nil {
				n.failLink(link, apperrors.WrapError(apperrors.ErrCodeNegotiationFailed, err))
				return
			}
			msg := protocol.NewOffer(n.roomID, n.local.ID, remote.ID, desc)
			if sendErr := n.transport.Send(msg); sendErr != nil {
				n.failLink(link, apperrors.WrapError(apperrors.ErrCodeNegotiationFailed, sendErr))
				return
			}
			logger.Info("offer sent", zap.String("participantId", remote.ID), zap.Bool("iceRestart", restart))
		})
	}()
}

// HandleOffer 应答方处理入站 offer
func (n *Negotiator) HandleOffer(msg *protocol.SignalingMessage) {
	remote := Participant{ID: msg.FromParticipantID, DisplayName: msg.FromParticipantName}
	link, err := n.EnsureLink(remote)
	if err != nil {
		logger.Error("link setup failed", zap.String("participantId", remote.ID), zap.Error(err))
		return
	}

	// 选举结果是确定的：发起方不应收到 offer，收到即丢弃
	if link.role == RoleInitiator {
		logger.Warn("offer from elected responder discarded",
			zap.String("participantId", remote.ID))
		return
	}
	if link.state == LinkStateClosed {
		return
	}
	switch link.state {
	case LinkStateNew:
		link.transition(LinkStateNegotiating)
	case LinkStateFailed:
		// 重启 offer：链路重新进入协商，上一轮的远程描述作废
		link.transition(LinkStateNegotiating)
		link.remoteDescSet = false
	}

	pc := link.pc
	offer := *msg.SDP
	epoch := link.epoch

	go func() {
		err := pc.SetRemoteDescription(offer)
		var answer protocol.SessionDescription
		if err == nil {
			answer, err = pc.CreateAnswer(context.Background())
		}
		if err == nil {
			err = pc.SetLocalDescription(answer)
		}

		n.post(epoch, func() {
			if err != nil {
				n.failLink(link, apperrors.WrapError(apperrors.ErrCodeNegotiationFailed, err))
				return
			}
			// 远程描述就绪，冲刷缓冲的候选者
			link.markRemoteDescriptionSet()
			reply := protocol.NewAnswer(n.roomID, n.local.ID, link.remote.ID, answer)
			if sendErr := n.transport.Send(reply); sendErr != nil {
				n.failLink(link, apperrors.WrapError(apperrors.ErrCodeNegotiationFailed, sendErr))
				return
			}
			logger.Info("answer sent", zap.String("participantId", link.remote.ID))
		})
	}()
}

// HandleAnswer 发起方处理入站 answer
// 没有未应答 offer 的 answer 记录后丢弃，不影响链路状态
func (n *Negotiator) HandleAnswer(msg *protocol.SignalingMessage) {
	link, ok := n.registry.Get(msg.FromParticipantID)
	if !ok || link.state == LinkStateClosed {
		// 会话已拆除，静默忽略
		logger.Debug("answer for unknown or closed link ignored",
			zap.String("participantId", msg.FromParticipantID))
		return
	}
	if !link.offerOutstanding {
		logger.Warn("answer without outstanding offer discarded",
			zap.String("participantId", msg.FromParticipantID),
			zap.String("state", link.state.String()))
		return
	}
	link.offerOutstanding = false

	pc := link.pc
	answer := *msg.SDP
	epoch := link.epoch

	go func() {
		err := pc.SetRemoteDescription(answer)
		n.post(epoch, func() {
			if err != nil {
				n.failLink(link, apperrors.WrapError(apperrors.ErrCodeNegotiationFailed, err))
				return
			}
			link.markRemoteDescriptionSet()
			logger.Info("answer applied", zap.String("participantId", link.remote.ID))
		})
	}()
}

// HandleCandidate 处理入站候选者，交由链路缓冲或立即应用
func (n *Negotiator) HandleCandidate(msg *protocol.SignalingMessage) {
	link, ok := n.registry.Get(msg.FromParticipantID)
	if !ok {
		// 同一发送者的消息有序，offer 必先于候选者；没有链路即视为过期
		logger.Debug("candidate for unknown link ignored",
			zap.String("participantId", msg.FromParticipantID))
		return
	}
	link.EnqueueOrApply(*msg.Candidate)
}

// HandleTransportState 底层传输状态信号驱动链路状态机
func (n *Negotiator) HandleTransportState(remote Participant, state TransportState) {
	link, ok := n.registry.Get(remote.ID)
	if !ok {
		return
	}
	switch state {
	case TransportStateConnected:
		link.transition(LinkStateConnected)
	case TransportStateFailed:
		n.failLink(link, apperrors.NewAppError(apperrors.ErrCodeNegotiationFailed, "transport reported failure"))
	}
}

// failLink 标记链路失败，失败后自动尝试一次 ICE 重启
func (n *Negotiator) failLink(link *PeerLink, cause error) {
	if link.state == LinkStateClosed {
		return
	}
	logger.Error("link negotiation failed",
		zap.String("participantId", link.remote.ID),
		zap.Error(cause))
	link.transition(LinkStateFailed)

	if link.role == RoleInitiator && !link.restartAttempted {
		link.restartAttempted = true
		n.RestartICE(link.remote.ID)
	}
}

// RestartICE 显式发起 ICE 重启；自动重试消耗后由操作方触发
// 重启 offer 只能由选举出的发起方产生，应答方等待对端的重启 offer
func (n *Negotiator) RestartICE(participantID string) {
	link, ok := n.registry.Get(participantID)
	if !ok || link.state != LinkStateFailed {
		return
	}
	if link.role != RoleInitiator {
		logger.Debug("restart deferred to the elected initiator",
			zap.String("participantId", participantID))
		return
	}
	if !link.transition(LinkStateNegotiating) {
		return
	}
	link.offerOutstanding = true
	link.remoteDescSet = false
	n.sendOffer(link, true)
}
