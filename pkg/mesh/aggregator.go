package mesh

import (
	"github.com/LingByte/LingMeshX/pkg/logger"
	"go.uber.org/zap"
)

// TrackAggregator 按参与者聚合入站媒体轨道
// 每种轨道类型同一时刻最多一条：后到的轨道替换而不是追加
// 每次变更都发布新的不可变快照，观察方可用引用相等检测变化
type TrackAggregator struct {
	bundles map[string]*RemoteStreamBundle

	// onUpdate fires with the fresh snapshot after every publish
	onUpdate func(*RemoteStreamBundle)
}

// NewTrackAggregator creates an empty aggregator
func NewTrackAggregator(onUpdate func(*RemoteStreamBundle)) *TrackAggregator {
	return &TrackAggregator{
		bundles:  make(map[string]*RemoteStreamBundle),
		onUpdate: onUpdate,
	}
}

// UpsertTrack 设置某参与者某类型的轨道槽位，替换已有轨道
func (a *TrackAggregator) UpsertTrack(remote Participant, track RemoteTrack) *RemoteStreamBundle {
	bundle := a.bundleFor(remote)
	if existing, ok := bundle.Tracks[track.Kind()]; ok {
		logger.Debug("replacing track",
			zap.String("participantId", remote.ID),
			zap.String("kind", string(track.Kind())),
			zap.String("oldTrackId", existing.ID()),
			zap.String("newTrackId", track.ID()))
	}
	next := bundle.withTrack(track)
	a.publish(next)
	return next
}

// UpsertTracks 一次性设置多条轨道，只发布一次快照
// 观察方不会看到填了一半的 bundle
func (a *TrackAggregator) UpsertTracks(remote Participant, tracks []RemoteTrack) *RemoteStreamBundle {
	if len(tracks) == 0 {
		return a.bundleFor(remote)
	}
	next := a.bundleFor(remote)
	for _, track := range tracks {
		next = next.withTrack(track)
	}
	a.publish(next)
	return next
}

// RemoveTrack 轨道结束后移除对应槽位
func (a *TrackAggregator) RemoveTrack(participantID string, kind MediaKind) {
	bundle, ok := a.bundles[participantID]
	if !ok {
		return
	}
	if _, present := bundle.Tracks[kind]; !present {
		return
	}
	a.publish(bundle.withoutTrack(kind))
}

// Drop 链路销毁时拆除对应参与者的 bundle
func (a *TrackAggregator) Drop(participantID string) {
	delete(a.bundles, participantID)
}

// Bundle returns the current snapshot for a participant, if any
func (a *TrackAggregator) Bundle(participantID string) (*RemoteStreamBundle, bool) {
	bundle, ok := a.bundles[participantID]
	return bundle, ok
}

// Bundles returns the current snapshot map, keyed by participant id
func (a *TrackAggregator) Bundles() map[string]*RemoteStreamBundle {
	out := make(map[string]*RemoteStreamBundle, len(a.bundles))
	for id, bundle := range a.bundles {
		out[id] = bundle
	}
	return out
}

func (a *TrackAggregator) bundleFor(remote Participant) *RemoteStreamBundle {
	if bundle, ok := a.bundles[remote.ID]; ok {
		return bundle
	}
	return &RemoteStreamBundle{
		Remote: remote,
		Tracks: make(map[MediaKind]RemoteTrack),
	}
}

func (a *TrackAggregator) publish(bundle *RemoteStreamBundle) {
	a.bundles[bundle.Remote.ID] = bundle
	if a.onUpdate != nil {
		a.onUpdate(bundle)
	}
}
