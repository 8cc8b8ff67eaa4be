package mesh

// Participant 房间内的一个已知身份
// ID 在通话生命周期内保持稳定，并用于发起方选举的全序比较
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// MediaKind 媒体轨道类型
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// LinkState 对等链路协商状态
type LinkState int

const (
	LinkStateNew LinkState = iota
	LinkStateNegotiating
	LinkStateConnected
	LinkStateFailed
	LinkStateClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkStateNew:
		return "new"
	case LinkStateNegotiating:
		return "negotiating"
	case LinkStateConnected:
		return "connected"
	case LinkStateFailed:
		return "failed"
	case LinkStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role 协商角色
type Role int

const (
	RoleUndetermined Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "undetermined"
	}
}

// TransportState 底层对等连接的传输状态信号
type TransportState int

const (
	TransportStateConnecting TransportState = iota
	TransportStateConnected
	TransportStateDisconnected
	TransportStateFailed
	TransportStateClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportStateConnecting:
		return "connecting"
	case TransportStateConnected:
		return "connected"
	case TransportStateDisconnected:
		return "disconnected"
	case TransportStateFailed:
		return "failed"
	case TransportStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteStreamBundle 某个远端参与者的聚合媒体，按轨道类型最多保留一条
// 快照不可变：每次变更都返回新对象，观察方可以依赖引用相等做变更检测
type RemoteStreamBundle struct {
	Remote Participant
	Tracks map[MediaKind]RemoteTrack
}

// Track returns the track of the given kind, if present
func (b *RemoteStreamBundle) Track(kind MediaKind) (RemoteTrack, bool) {
	t, ok := b.Tracks[kind]
	return t, ok
}

// withTrack returns a copy of the bundle with the slot for track's kind replaced
func (b *RemoteStreamBundle) withTrack(track RemoteTrack) *RemoteStreamBundle {
	next := &RemoteStreamBundle{
		Remote: b.Remote,
		Tracks: make(map[MediaKind]RemoteTrack, len(b.Tracks)+1),
	}
	for kind, t := range b.Tracks {
		next.Tracks[kind] = t
	}
	next.Tracks[track.Kind()] = track
	return next
}

// withoutTrack returns a copy of the bundle with the given kind removed
func (b *RemoteStreamBundle) withoutTrack(kind MediaKind) *RemoteStreamBundle {
	next := &RemoteStreamBundle{
		Remote: b.Remote,
		Tracks: make(map[MediaKind]RemoteTrack, len(b.Tracks)),
	}
	for k, t := range b.Tracks {
		if k != kind {
			next.Tracks[k] = t
		}
	}
	return next
}
