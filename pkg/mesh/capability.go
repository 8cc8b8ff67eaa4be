package mesh

import (
	"context"

	"github.com/LingByte/LingMeshX/pkg/protocol"
)

// SignalTransport 信令传输能力
// 每个会话持有自己的订阅通道，不共享可变回调槽
// 投递契约：定向消息只送达目标参与者；广播消息送达除发送者外的所有房间成员
// 单个发送者的消息按发送顺序送达，不同发送者之间不保证顺序
type SignalTransport interface {
	// Send delivers one signaling message to the relay
	Send(msg *protocol.SignalingMessage) error
	// Subscribe returns a channel of inbound messages and a cancel func.
	// The channel is closed when the transport shuts down or cancel is called.
	Subscribe() (<-chan *protocol.SignalingMessage, func())
	// Connected reports whether the transport can currently deliver messages
	Connected() bool
}

// MediaConstraints 本地媒体采集约束
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaDevices 本地媒体采集能力（浏览器 getUserMedia 的注入形态）
type MediaDevices interface {
	AcquireLocalMedia(ctx context.Context, constraints MediaConstraints) (LocalMedia, error)
}

// LocalMedia 采集到的本地媒体句柄，所有对等链路共享同一份轨道
type LocalMedia interface {
	Tracks() []LocalTrack
	// Close releases the capture device. Must only be called once every
	// peer link using the tracks is closed.
	Close()
}

// LocalTrack 本地发送轨道，启用标志是纯本地属性，切换无需重新协商
type LocalTrack interface {
	ID() string
	Kind() MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
}

// RemoteTrack 远端接收轨道
type RemoteTrack interface {
	ID() string
	Kind() MediaKind
}

// PeerConnector 对等连接工厂能力
type PeerConnector interface {
	NewPeerConnection(iceServers []string) (PeerHandle, error)
}

// PeerHandle 单条对等连接的注入能力
// 回调必须在注册后、Close 前随时可触发；实现方保证 Close 后不再触发
type PeerHandle interface {
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)
	CreateAnswer(ctx context.Context) (protocol.SessionDescription, error)
	SetLocalDescription(desc protocol.SessionDescription) error
	SetRemoteDescription(desc protocol.SessionDescription) error
	AddICECandidate(candidate protocol.Candidate) error
	AddTrack(track LocalTrack) error
	// RestartICE 发起 ICE 重启，返回携带新 ufrag 的 offer
	RestartICE(ctx context.Context) (protocol.SessionDescription, error)

	OnICECandidate(fn func(protocol.Candidate))
	OnTrack(fn func(RemoteTrack))
	// OnTrackEnded 远端轨道结束（源停止或连接拆除）时触发
	OnTrackEnded(fn func(RemoteTrack))
	OnConnectionStateChange(fn func(TransportState))

	Close() error
}
