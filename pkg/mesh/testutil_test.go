package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/LingByte/LingMeshX/pkg/protocol"
)

// fakeWire 进程内的信令中继，按投递契约在 fakeTransport 之间搬运消息
type fakeWire struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	// history 所有经过中继的消息，供断言使用
	history []*protocol.SignalingMessage
}

func newFakeWire() *fakeWire {
	return &fakeWire{transports: make(map[string]*fakeTransport)}
}

// transport 为参与者接一条传输
func (w *fakeWire) transport(participantID string) *fakeTransport {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := &fakeTransport{wire: w, participantID: participantID, connected: true}
	w.transports[participantID] = t
	return t
}

func (w *fakeWire) route(from string, msg *protocol.SignalingMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, msg)

	for id, t := range w.transports {
		if id == from {
			continue
		}
		if !msg.IsBroadcast() && msg.ToParticipantID != id {
			continue
		}
		t.deliverLocked(msg)
	}
}

// sentBy 统计某参与者发出的某类型消息数
func (w *fakeWire) sentBy(participantID string, msgType protocol.MessageType) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, msg := range w.history {
		if msg.FromParticipantID == participantID && msg.Type == msgType {
			count++
		}
	}
	return count
}

// fakeTransport 测试用 SignalTransport
type fakeTransport struct {
	wire          *fakeWire
	participantID string

	connected bool
	// failSends 连接看似健康但发送失败，模拟写入时才暴露的故障
	failSends   bool
	subscribers []chan *protocol.SignalingMessage
}

func (t *fakeTransport) Send(msg *protocol.SignalingMessage) error {
	t.wire.mu.Lock()
	connected := t.connected
	failSends := t.failSends
	t.wire.mu.Unlock()
	if !connected {
		return fmt.Errorf("transport is down")
	}
	if failSends {
		return fmt.Errorf("write: broken pipe")
	}
	t.wire.route(t.participantID, msg)
	return nil
}

func (t *fakeTransport) Subscribe() (<-chan *protocol.SignalingMessage, func()) {
	t.wire.mu.Lock()
	defer t.wire.mu.Unlock()
	ch := make(chan *protocol.SignalingMessage, 128)
	t.subscribers = append(t.subscribers, ch)
	return ch, func() {
		t.wire.mu.Lock()
		defer t.wire.mu.Unlock()
		for i, sub := range t.subscribers {
			if sub == ch {
				t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (t *fakeTransport) Connected() bool {
	t.wire.mu.Lock()
	defer t.wire.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) setConnected(connected bool) {
	t.wire.mu.Lock()
	defer t.wire.mu.Unlock()
	t.connected = connected
}

func (t *fakeTransport) setFailSends(fail bool) {
	t.wire.mu.Lock()
	defer t.wire.mu.Unlock()
	t.failSends = fail
}

func (t *fakeTransport) deliverLocked(msg *protocol.SignalingMessage) {
	for _, ch := range t.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// fakeConnector 记录创建的所有 fakeHandle
type fakeConnector struct {
	mu      sync.Mutex
	handles []*fakeHandle
	failing bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{}
}

func (c *fakeConnector) NewPeerConnection(iceServers []string) (PeerHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, fmt.Errorf("connector unavailable")
	}
	h := newFakeHandle(len(c.handles))
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *fakeConnector) handle(i int) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.handles) {
		return nil
	}
	return c.handles[i]
}

// fakeHandle 同步执行的 PeerHandle 实现
type fakeHandle struct {
	mu sync.Mutex

	seq        int
	localDesc  *protocol.SessionDescription
	remoteDesc *protocol.SessionDescription
	// applied 按应用顺序记录的候选者
	applied []string
	tracks  []string
	closed  bool

	onCandidate   func(protocol.Candidate)
	onTrack       func(RemoteTrack)
	onTrackEnded  func(RemoteTrack)
	onStateChange func(TransportState)

	failOffer  bool
	failAnswer bool
}

func newFakeHandle(seq int) *fakeHandle {
	return &fakeHandle{seq: seq}
}

func (h *fakeHandle) CreateOffer(context.Context) (protocol.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOffer {
		return protocol.SessionDescription{}, fmt.Errorf("offer creation failed")
	}
	return protocol.SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-sdp-%d", h.seq)}, nil
}

func (h *fakeHandle) CreateAnswer(context.Context) (protocol.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failAnswer {
		return protocol.SessionDescription{}, fmt.Errorf("answer creation failed")
	}
	return protocol.SessionDescription{Type: "answer", SDP: fmt.Sprintf("answer-sdp-%d", h.seq)}, nil
}

func (h *fakeHandle) SetLocalDescription(desc protocol.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.localDesc = &desc
	return nil
}

func (h *fakeHandle) SetRemoteDescription(desc protocol.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remoteDesc = &desc
	return nil
}

func (h *fakeHandle) AddICECandidate(candidate protocol.Candidate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if candidate.Candidate == "malformed" {
		return fmt.Errorf("invalid candidate")
	}
	h.applied = append(h.applied, candidate.Candidate)
	return nil
}

func (h *fakeHandle) AddTrack(track LocalTrack) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracks = append(h.tracks, track.ID())
	return nil
}

func (h *fakeHandle) RestartICE(context.Context) (protocol.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return protocol.SessionDescription{Type: "offer", SDP: fmt.Sprintf("restart-sdp-%d", h.seq)}, nil
}

func (h *fakeHandle) OnICECandidate(fn func(protocol.Candidate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCandidate = fn
}

func (h *fakeHandle) OnTrack(fn func(RemoteTrack)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTrack = fn
}

func (h *fakeHandle) OnTrackEnded(fn func(RemoteTrack)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTrackEnded = fn
}

func (h *fakeHandle) OnConnectionStateChange(fn func(TransportState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onStateChange = fn
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) fireCandidate(candidate string) {
	h.mu.Lock()
	fn := h.onCandidate
	h.mu.Unlock()
	if fn != nil {
		fn(protocol.Candidate{Candidate: candidate})
	}
}

func (h *fakeHandle) fireTrack(track RemoteTrack) {
	h.mu.Lock()
	fn := h.onTrack
	h.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (h *fakeHandle) fireState(state TransportState) {
	h.mu.Lock()
	fn := h.onStateChange
	h.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (h *fakeHandle) appliedCandidates() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.applied))
	copy(out, h.applied)
	return out
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeDevices 测试用本地媒体能力
type fakeDevices struct {
	mu      sync.Mutex
	denied  bool
	handles []*fakeMedia
}

func (d *fakeDevices) AcquireLocalMedia(_ context.Context, constraints MediaConstraints) (LocalMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, fmt.Errorf("permission denied")
	}
	m := &fakeMedia{}
	if constraints.Audio {
		m.tracks = append(m.tracks, &fakeLocalTrack{id: "local-audio", kind: MediaKindAudio, enabled: true})
	}
	if constraints.Video {
		m.tracks = append(m.tracks, &fakeLocalTrack{id: "local-video", kind: MediaKindVideo, enabled: true})
	}
	d.handles = append(d.handles, m)
	return m, nil
}

type fakeMedia struct {
	mu     sync.Mutex
	tracks []LocalTrack
	closed bool
}

func (m *fakeMedia) Tracks() []LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LocalTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, t := range m.tracks {
		t.SetEnabled(false)
	}
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeLocalTrack struct {
	id      string
	kind    MediaKind
	mu      sync.Mutex
	enabled bool
}

func (t *fakeLocalTrack) ID() string      { return t.id }
func (t *fakeLocalTrack) Kind() MediaKind { return t.kind }

func (t *fakeLocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeLocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// fakeRemoteTrack 测试用远端轨道
type fakeRemoteTrack struct {
	id   string
	kind MediaKind
}

func (t *fakeRemoteTrack) ID() string      { return t.id }
func (t *fakeRemoteTrack) Kind() MediaKind { return t.kind }
