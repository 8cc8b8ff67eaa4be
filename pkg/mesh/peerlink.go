package mesh

import (
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// candidateSeenCacheSize 每条链路记住的候选者数量，用于压制中继重放
const candidateSeenCacheSize = 128

// PeerLink 每个远端参与者对应的协商状态
// 状态只经由 transition 变更，只在协调器事件循环内访问
type PeerLink struct {
	remote Participant
	role   Role
	state  LinkState
	// epoch 标记创建该链路的会话代次，跨代的异步结果被丢弃
	epoch uint64

	pc PeerHandle

	// pendingCandidates 在远程描述就绪前按到达顺序缓冲
	pendingCandidates []protocol.Candidate
	seenCandidates    *lru.Cache[string, struct{}]
	remoteDescSet     bool

	// offerOutstanding 表示本端有一个未应答的 offer
	offerOutstanding bool
	// restartAttempted 表示自动 ICE 重启已消耗
	restartAttempted bool
}

func newPeerLink(remote Participant, role Role, epoch uint64, pc PeerHandle) *PeerLink {
	seen, _ := lru.New[string, struct{}](candidateSeenCacheSize)
	return &PeerLink{
		remote:         remote,
		role:           role,
		state:          LinkStateNew,
		epoch:          epoch,
		pc:             pc,
		seenCandidates: seen,
	}
}

// Remote returns the remote participant this link negotiates with
func (l *PeerLink) Remote() Participant { return l.remote }

// Role returns the elected negotiation role
func (l *PeerLink) Role() Role { return l.role }

// State returns the current connection state
func (l *PeerLink) State() LinkState { return l.state }

// Epoch returns the session generation the link belongs to
func (l *PeerLink) Epoch() uint64 { return l.epoch }

// transition 执行一次状态迁移；非法迁移只记录日志，不改变状态
func (l *PeerLink) transition(to LinkState) bool {
	if !transitionAllowed(l.state, to) {
		logger.Warn("illegal link state transition ignored",
			zap.String("participantId", l.remote.ID),
			zap.String("from", l.state.String()),
			zap.String("to", to.String()))
		return false
	}
	logger.Debug("link state transition",
		zap.String("participantId", l.remote.ID),
		zap.String("from", l.state.String()),
		zap.String("to", to.String()))
	l.state = to
	return true
}

// transitionAllowed 状态迁移合法性表
// Closed 为终态；任何状态都可以显式关闭
func transitionAllowed(from, to LinkState) bool {
	if from == LinkStateClosed {
		return false
	}
	if to == LinkStateClosed {
		return true
	}
	switch from {
	case LinkStateNew:
		return to == LinkStateNegotiating
	case LinkStateNegotiating:
		return to == LinkStateConnected || to == LinkStateFailed
	case LinkStateConnected:
		return to == LinkStateFailed
	case LinkStateFailed:
		return to == LinkStateNegotiating
	default:
		return false
	}
}

// EnqueueOrApply 处理一条入站候选者
// 远程描述未就绪时按 FIFO 缓冲；就绪后立即应用
// 重复或畸形的候选者记录日志后跳过，不关闭链路
func (l *PeerLink) EnqueueOrApply(candidate protocol.Candidate) {
	if l.state == LinkStateClosed {
		return
	}
	if _, replayed := l.seenCandidates.Get(candidate.Candidate); replayed {
		logger.Debug("duplicate candidate skipped",
			zap.String("participantId", l.remote.ID),
			zap.String("candidate", candidate.Candidate))
		return
	}
	l.seenCandidates.Add(candidate.Candidate, struct{}{})

	if !l.remoteDescSet {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return
	}
	l.applyCandidate(candidate)
}

// markRemoteDescriptionSet 远程描述就绪后按到达顺序冲刷缓冲
func (l *PeerLink) markRemoteDescriptionSet() {
	l.remoteDescSet = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	for _, candidate := range pending {
		l.applyCandidate(candidate)
	}
}

func (l *PeerLink) applyCandidate(candidate protocol.Candidate) {
	if err := l.pc.AddICECandidate(candidate); err != nil {
		// 非致命：单个候选者失败不影响链路
		logger.Warn("candidate apply failed",
			zap.String("participantId", l.remote.ID),
			zap.Error(err))
	}
}

// PendingCandidates returns the number of buffered candidates
func (l *PeerLink) PendingCandidates() int {
	return len(l.pendingCandidates)
}

// close 释放链路资源，Closed 为终态
func (l *PeerLink) close() {
	if l.state == LinkStateClosed {
		return
	}
	l.transition(LinkStateClosed)
	l.pendingCandidates = nil
	l.seenCandidates.Purge()
	if l.pc != nil {
		if err := l.pc.Close(); err != nil {
			logger.Warn("peer handle close failed",
				zap.String("participantId", l.remote.ID),
				zap.Error(err))
		}
	}
}
