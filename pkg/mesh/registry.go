package mesh

import (
	"github.com/LingByte/LingMeshX/pkg/logger"
	"go.uber.org/zap"
)

// LinkRegistry 对等链路登记表，参与者 id -> PeerLink
// 链路的创建与销毁只经由这里，保证每个远端恰好一条链路
type LinkRegistry struct {
	links map[string]*PeerLink

	// onDestroy fires after a link is closed and removed
	onDestroy func(*PeerLink)
}

// NewLinkRegistry creates an empty registry
func NewLinkRegistry(onDestroy func(*PeerLink)) *LinkRegistry {
	return &LinkRegistry{
		links:     make(map[string]*PeerLink),
		onDestroy: onDestroy,
	}
}

// Get returns the link for the given participant, if any
func (r *LinkRegistry) Get(participantID string) (*PeerLink, bool) {
	link, ok := r.links[participantID]
	return link, ok
}

// GetOrCreate 幂等获取：已存在的链路原样返回，重复的加入公告不会重建
func (r *LinkRegistry) GetOrCreate(remote Participant, role Role, epoch uint64, pc PeerHandle) (*PeerLink, bool) {
	if link, ok := r.links[remote.ID]; ok {
		return link, false
	}
	link := newPeerLink(remote, role, epoch, pc)
	r.links[remote.ID] = link
	logger.Debug("peer link created",
		zap.String("participantId", remote.ID),
		zap.String("role", role.String()))
	return link, true
}

// Destroy 关闭并移除链路；链路不存在时为空操作
func (r *LinkRegistry) Destroy(participantID string) {
	link, ok := r.links[participantID]
	if !ok {
		return
	}
	delete(r.links, participantID)
	link.close()
	if r.onDestroy != nil {
		r.onDestroy(link)
	}
}

// DestroyAll 关闭并移除所有链路
func (r *LinkRegistry) DestroyAll() {
	for id := range r.links {
		r.Destroy(id)
	}
}

// Len returns the number of active links
func (r *LinkRegistry) Len() int {
	return len(r.links)
}

// States returns a snapshot of per-participant link states
func (r *LinkRegistry) States() map[string]LinkState {
	out := make(map[string]LinkState, len(r.links))
	for id, link := range r.links {
		out[id] = link.state
	}
	return out
}
