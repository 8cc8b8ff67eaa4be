package mesh

import (
	"context"
	"sync"

	apperrors "github.com/LingByte/LingMeshX/pkg/errors"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"go.uber.org/zap"
)

// taskBuffer 事件循环任务队列容量
const taskBuffer = 256

// Snapshot 会话可观测状态
type Snapshot struct {
	RoomID  string
	Local   Participant
	Members []Participant
	// Links 每个成员的链路状态
	Links map[string]LinkState
	// Streams 每个成员的聚合媒体快照
	Streams map[string]*RemoteStreamBundle
}

// SessionCoordinator 会话协调器，排除在外的 UI 层只与它交互
// 所有信令消息、连接回调与公共操作都汇入单个事件循环逐一处理，
// 因此 Room 与 PeerLink 状态无并发写，不需要锁
type SessionCoordinator struct {
	transport SignalTransport
	connector PeerConnector
	devices   MediaDevices

	local       Participant
	iceServers  []string
	constraints MediaConstraints

	tasks chan task
	done  chan struct{}
	once  sync.Once

	// 以下状态只在事件循环内访问
	epoch       uint64
	membership  *Membership
	registry    *LinkRegistry
	negotiator  *Negotiator
	aggregator  *TrackAggregator
	media       LocalMedia
	unsubscribe func()
}

type task struct {
	epoch    uint64
	anyEpoch bool
	fn       func()
}

// CoordinatorOption 协调器可选配置
type CoordinatorOption struct {
	ICEServers  []string
	Constraints *MediaConstraints
	// OnStreamUpdate fires with a fresh bundle snapshot after every track change
	OnStreamUpdate func(*RemoteStreamBundle)
}

// NewSessionCoordinator 创建协调器并启动事件循环
func NewSessionCoordinator(local Participant, transport SignalTransport, connector PeerConnector,
	devices MediaDevices, opt CoordinatorOption) *SessionCoordinator {
	constraints := MediaConstraints{Audio: true, Video: true}
	if opt.Constraints != nil {
		constraints = *opt.Constraints
	}

	c := &SessionCoordinator{
		local:       local,
		transport:   transport,
		connector:   connector,
		devices:     devices,
		iceServers:  opt.ICEServers,
		constraints: constraints,
		tasks:       make(chan task, taskBuffer),
		done:        make(chan struct{}),
	}

	c.aggregator = NewTrackAggregator(opt.OnStreamUpdate)
	c.registry = NewLinkRegistry(func(link *PeerLink) {
		c.aggregator.Drop(link.remote.ID)
	})
	c.negotiator = NewNegotiator(transport, connector, c.registry, NegotiatorHooks{
		OnRemoteTrack: func(remote Participant, track RemoteTrack) {
			c.aggregator.UpsertTrack(remote, track)
		},
		OnTrackEnded: func(remote Participant, kind MediaKind) {
			c.aggregator.RemoveTrack(remote.ID, kind)
		},
		OnTransportState: c.handleTransportState,
	}, c.postEpoch)
	c.membership = NewMembership(transport,
		func(p Participant) { c.negotiator.Begin(p) },
		func(p Participant) { c.registry.Destroy(p.ID) },
	)

	go c.run()
	return c
}

// run 事件循环：串行执行所有任务，丢弃代次过期的任务
func (c *SessionCoordinator) run() {
	for {
		select {
		case <-c.done:
			return
		case t := <-c.tasks:
			if t.anyEpoch || t.epoch == c.epoch {
				t.fn()
			}
		}
	}
}

// postEpoch 把 fn 投递回事件循环；epoch 不再匹配时 fn 被丢弃
// 这是 disconnect 与在途异步结果之间的隔离手段
func (c *SessionCoordinator) postEpoch(epoch uint64, fn func()) {
	select {
	case c.tasks <- task{epoch: epoch, fn: fn}:
	case <-c.done:
	}
}

// do 在事件循环上同步执行 fn
func (c *SessionCoordinator) do(fn func()) {
	doneCh := make(chan struct{})
	select {
	case c.tasks <- task{anyEpoch: true, fn: func() {
		fn()
		close(doneCh)
	}}:
		<-doneCh
	case <-c.done:
	}
}

// Connect 加入房间并开始与已发现的参与者协商
// 摄像头/麦克风被拒返回 MEDIA_ACQUISITION_FAILED；
// 信令传输不可用返回 TRANSPORT_UNAVAILABLE
func (c *SessionCoordinator) Connect(ctx context.Context, roomID string) error {
	if !c.transport.Connected() {
		return apperrors.NewAppError(apperrors.ErrCodeTransportUnavailable, "signaling transport is not connected")
	}

	// 本地媒体采集是挂起点，在进入循环前完成
	media, err := c.devices.AcquireLocalMedia(ctx, c.constraints)
	if err != nil {
		return apperrors.WrapError(apperrors.ErrCodeMediaAcquisition, err)
	}

	var connectErr error
	c.do(func() {
		if c.membership.InRoom() {
			media.Close()
			connectErr = apperrors.NewAppErrorf(apperrors.ErrCodeConflict,
				"already connected to room %s", c.membership.RoomID())
			return
		}

		c.epoch++
		c.media = media
		c.negotiator.Bind(roomID, c.local, c.epoch, c.iceServers, media.Tracks())

		ch, cancel := c.transport.Subscribe()
		c.unsubscribe = cancel
		go c.pump(ch, c.epoch, c.local.ID)

		if err := c.membership.Join(roomID, c.local); err != nil {
			cancel()
			c.unsubscribe = nil
			c.media = nil
			media.Close()
			connectErr = err
			return
		}
	})
	return connectErr
}

// pump 把订阅到的信令消息搬运进事件循环
func (c *SessionCoordinator) pump(ch <-chan *protocol.SignalingMessage, epoch uint64, localID string) {
	for msg := range ch {
		// 发给他人的定向消息是纯过滤，不进循环
		if msg.FromParticipantID == localID || !msg.IsAddressedTo(localID) {
			continue
		}
		m := msg
		c.postEpoch(epoch, func() { c.dispatch(m) })
	}
}

// dispatch 按消息类型路由，只在事件循环内执行
func (c *SessionCoordinator) dispatch(msg *protocol.SignalingMessage) {
	if !c.membership.InRoom() || msg.RoomID != c.membership.RoomID() {
		return
	}

	switch msg.Type {
	case protocol.MessageTypeJoinRoom, protocol.MessageTypeLeaveRoom,
		protocol.MessageTypeRoomQuery, protocol.MessageTypeRoomResponse:
		c.membership.Handle(msg)
	case protocol.MessageTypeOffer:
		// 入站 offer 同样是对参与者的首次观察
		c.membership.Observe(Participant{ID: msg.FromParticipantID, DisplayName: msg.FromParticipantName})
		c.negotiator.HandleOffer(msg)
	case protocol.MessageTypeAnswer:
		c.negotiator.HandleAnswer(msg)
	case protocol.MessageTypeICECandidate:
		c.negotiator.HandleCandidate(msg)
	}
}

// handleTransportState 连接状态信号驱动链路状态机
func (c *SessionCoordinator) handleTransportState(remote Participant, state TransportState) {
	switch state {
	case TransportStateDisconnected:
		// 瞬时抖动，等待底层恢复或升级为 failed
		logger.Debug("link transport disconnected", zap.String("participantId", remote.ID))
	default:
		c.negotiator.HandleTransportState(remote, state)
	}
}

// Disconnect 离开房间并拆除所有链路，总是成功，可重复调用
// 协商进行中调用也安全：在途异步结果因代次不匹配而被丢弃
func (c *SessionCoordinator) Disconnect() {
	c.do(func() {
		if !c.membership.InRoom() && c.media == nil {
			return
		}

		if c.unsubscribe != nil {
			c.unsubscribe()
			c.unsubscribe = nil
		}
		if err := c.membership.Leave(); err != nil {
			logger.Warn("leave failed during disconnect", zap.Error(err))
		}
		c.registry.DestroyAll()
		// 所有链路已关闭，才能释放共享的本地媒体
		if c.media != nil {
			c.media.Close()
			c.media = nil
		}
		c.epoch++
		logger.Info("session disconnected")
	})
}

// ToggleAudio 翻转本地音频轨道的启用标志，返回新状态
// 启用标志是本地属性，所有链路同时可见，无需重新协商
func (c *SessionCoordinator) ToggleAudio() bool {
	return c.toggle(MediaKindAudio)
}

// ToggleVideo 翻转本地视频轨道的启用标志，返回新状态
func (c *SessionCoordinator) ToggleVideo() bool {
	return c.toggle(MediaKindVideo)
}

func (c *SessionCoordinator) toggle(kind MediaKind) bool {
	var enabled bool
	c.do(func() {
		if c.media == nil {
			return
		}
		for _, track := range c.media.Tracks() {
			if track.Kind() == kind {
				track.SetEnabled(!track.Enabled())
				enabled = track.Enabled()
				return
			}
		}
	})
	return enabled
}

// State 返回当前会话的可观测快照
func (c *SessionCoordinator) State() Snapshot {
	var snap Snapshot
	c.do(func() {
		snap = Snapshot{
			RoomID:  c.membership.RoomID(),
			Local:   c.membership.Local(),
			Members: c.membership.Members(),
			Links:   c.registry.States(),
			Streams: c.aggregator.Bundles(),
		}
	})
	return snap
}

// RestartICE 对失败的链路显式发起 ICE 重启
func (c *SessionCoordinator) RestartICE(participantID string) {
	c.do(func() {
		c.negotiator.RestartICE(participantID)
	})
}

// Close 断开会话并停止事件循环
func (c *SessionCoordinator) Close() {
	c.Disconnect()
	c.once.Do(func() {
		close(c.done)
	})
}
