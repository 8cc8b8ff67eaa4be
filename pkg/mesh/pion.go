package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// PionConnector 基于 pion/webrtc 的对等连接工厂
type PionConnector struct{}

// NewPionConnector creates a PeerConnector backed by pion/webrtc
func NewPionConnector() *PionConnector {
	return &PionConnector{}
}

// NewPeerConnection 创建新的对等连接
func (pc *PionConnector) NewPeerConnection(iceServers []string) (PeerHandle, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	conn, err := webrtc.NewPeerConnection(config)
	if err != nil {
		logrus.WithError(err).Error("Failed to create peer connection")
		return nil, err
	}

	h := &pionHandle{pc: conn}
	h.registerEventHandlers()
	return h, nil
}

// pionHandle wraps *webrtc.PeerConnection behind the PeerHandle capability
type pionHandle struct {
	pc *webrtc.PeerConnection
	mu sync.RWMutex

	onCandidate   func(protocol.Candidate)
	onTrack       func(RemoteTrack)
	onTrackEnded  func(RemoteTrack)
	onStateChange func(TransportState)
	received      []RemoteTrack
	closed        bool
}

func (h *pionHandle) registerEventHandlers() {
	h.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		h.mu.RLock()
		fn := h.onCandidate
		closed := h.closed
		h.mu.RUnlock()
		if closed || fn == nil {
			return
		}
		logger.Debug("ICE candidate generated", zap.String("candidate", init.Candidate))
		fn(protocol.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: sdpMLineIndex(init.SDPMLineIndex),
		})
	})

	h.pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		track := &pionRemoteTrack{track: remoteTrack}
		h.mu.Lock()
		fn := h.onTrack
		closed := h.closed
		if !closed {
			h.received = append(h.received, track)
		}
		h.mu.Unlock()
		if closed || fn == nil {
			return
		}
		logrus.WithFields(logrus.Fields{
			"codec":    remoteTrack.Codec().MimeType,
			"ssrc":     remoteTrack.SSRC(),
			"streamID": remoteTrack.StreamID(),
			"kind":     remoteTrack.Kind().String(),
		}).Info("Received remote track")
		fn(track)
	})

	h.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Connection state changed", zap.String("state", state.String()))
		h.mu.RLock()
		fn := h.onStateChange
		ended := h.onTrackEnded
		closed := h.closed
		received := h.received
		h.mu.RUnlock()
		if closed {
			return
		}
		// pion 不单独回报轨道结束，连接终止时统一补发
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			if ended != nil {
				for _, track := range received {
					ended(track)
				}
			}
		}
		if fn != nil {
			fn(mapTransportState(state))
		}
	})
}

func mapTransportState(state webrtc.PeerConnectionState) TransportState {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return TransportStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportStateFailed
	case webrtc.PeerConnectionStateClosed:
		return TransportStateClosed
	default:
		return TransportStateConnecting
	}
}

func sdpMLineIndex(idx *uint16) *int {
	if idx == nil {
		return nil
	}
	v := int(*idx)
	return &v
}

// CreateOffer 创建Offer
func (h *pionHandle) CreateOffer(_ context.Context) (protocol.SessionDescription, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return protocol.SessionDescription{}, fmt.Errorf("peer connection is nil")
	}
	offer, err := h.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer 创建Answer
func (h *pionHandle) CreateAnswer(_ context.Context) (protocol.SessionDescription, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return protocol.SessionDescription{}, fmt.Errorf("peer connection is nil")
	}
	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetLocalDescription 设置本地描述
func (h *pionHandle) SetLocalDescription(desc protocol.SessionDescription) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return fmt.Errorf("peer connection is nil")
	}
	return h.pc.SetLocalDescription(toPionDescription(desc))
}

// SetRemoteDescription 设置远程描述
func (h *pionHandle) SetRemoteDescription(desc protocol.SessionDescription) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return fmt.Errorf("peer connection is nil")
	}
	return h.pc.SetRemoteDescription(toPionDescription(desc))
}

// AddICECandidate 添加ICE候选者
func (h *pionHandle) AddICECandidate(candidate protocol.Candidate) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return fmt.Errorf("peer connection is nil")
	}
	init := webrtc.ICECandidateInit{
		Candidate: candidate.Candidate,
		SDPMid:    candidate.SDPMid,
	}
	if candidate.SDPMLineIndex != nil {
		idx := uint16(*candidate.SDPMLineIndex)
		init.SDPMLineIndex = &idx
	}
	return h.pc.AddICECandidate(init)
}

// AddTrack 添加本地发送轨道
func (h *pionHandle) AddTrack(track LocalTrack) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return fmt.Errorf("peer connection is nil")
	}
	local, ok := track.(*pionLocalTrack)
	if !ok {
		return fmt.Errorf("track %s is not a pion local track", track.ID())
	}
	_, err := h.pc.AddTrack(local.track)
	return err
}

// RestartICE 发起ICE重启，返回带新凭据的offer
func (h *pionHandle) RestartICE(_ context.Context) (protocol.SessionDescription, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.pc == nil {
		return protocol.SessionDescription{}, fmt.Errorf("peer connection is nil")
	}
	offer, err := h.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := h.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, err
	}
	return protocol.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (h *pionHandle) OnICECandidate(fn func(protocol.Candidate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCandidate = fn
}

func (h *pionHandle) OnTrack(fn func(RemoteTrack)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTrack = fn
}

func (h *pionHandle) OnTrackEnded(fn func(RemoteTrack)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTrackEnded = fn
}

func (h *pionHandle) OnConnectionStateChange(fn func(TransportState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStateChange = fn
}

// Close 关闭连接
func (h *pionHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.pc != nil {
		err := h.pc.Close()
		h.pc = nil
		return err
	}
	return nil
}

func toPionDescription(desc protocol.SessionDescription) webrtc.SessionDescription {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == "answer" {
		sdpType = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
}

// pionRemoteTrack adapts *webrtc.TrackRemote to the RemoteTrack capability
type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string { return t.track.ID() }

func (t *pionRemoteTrack) Kind() MediaKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return MediaKindVideo
	}
	return MediaKindAudio
}

// pionLocalTrack wraps a sample track with a local enabled flag
// 启用标志是本地属性，切换不触发重新协商
type pionLocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    MediaKind
	mu      sync.RWMutex
	enabled bool
}

func (t *pionLocalTrack) ID() string      { return t.track.ID() }
func (t *pionLocalTrack) Kind() MediaKind { return t.kind }

func (t *pionLocalTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *pionLocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// PionMediaDevices 基于 pion 样本轨道的本地媒体实现
// 真实采集由上层喂入样本，这里只负责轨道的创建与生命周期
type PionMediaDevices struct {
	StreamID string
}

// AcquireLocalMedia 按约束创建本地音视频轨道
func (d *PionMediaDevices) AcquireLocalMedia(_ context.Context, constraints MediaConstraints) (LocalMedia, error) {
	streamID := d.StreamID
	if streamID == "" {
		streamID = "lingmeshx"
	}

	var tracks []LocalTrack
	if constraints.Audio {
		audioTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio",
			streamID,
		)
		if err != nil {
			logrus.WithError(err).Error("Failed to create audio track")
			return nil, err
		}
		tracks = append(tracks, &pionLocalTrack{track: audioTrack, kind: MediaKindAudio, enabled: true})
	}
	if constraints.Video {
		videoTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video",
			streamID,
		)
		if err != nil {
			logrus.WithError(err).Error("Failed to create video track")
			return nil, err
		}
		tracks = append(tracks, &pionLocalTrack{track: videoTrack, kind: MediaKindVideo, enabled: true})
	}

	return &pionLocalMedia{tracks: tracks}, nil
}

type pionLocalMedia struct {
	mu     sync.Mutex
	tracks []LocalTrack
	closed bool
}

func (m *pionLocalMedia) Tracks() []LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LocalTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *pionLocalMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, t := range m.tracks {
		t.SetEnabled(false)
	}
	m.tracks = nil
}
