package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetOrCreateIdempotent 同一个远端只建一条链路
func TestGetOrCreateIdempotent(t *testing.T) {
	registry := NewLinkRegistry(nil)
	remote := Participant{ID: "bob"}

	link1, created1 := registry.GetOrCreate(remote, RoleInitiator, 1, newFakeHandle(0))
	link2, created2 := registry.GetOrCreate(remote, RoleInitiator, 1, newFakeHandle(1))

	assert.True(t, created1)
	assert.False(t, created2)
	assert.Same(t, link1, link2)
	assert.Equal(t, 1, registry.Len())
}

// TestDestroyClosesAndNotifies 销毁链路会关闭句柄并触发回调
func TestDestroyClosesAndNotifies(t *testing.T) {
	var destroyed []string
	registry := NewLinkRegistry(func(link *PeerLink) {
		destroyed = append(destroyed, link.Remote().ID)
	})

	pc := newFakeHandle(0)
	registry.GetOrCreate(Participant{ID: "bob"}, RoleInitiator, 1, pc)

	registry.Destroy("bob")

	assert.True(t, pc.isClosed())
	assert.Equal(t, []string{"bob"}, destroyed)
	assert.Equal(t, 0, registry.Len())

	// 不存在的链路为空操作
	assert.NotPanics(t, func() { registry.Destroy("bob") })
	assert.NotPanics(t, func() { registry.Destroy("nobody") })
	assert.Equal(t, []string{"bob"}, destroyed)
}

// TestDestroyAll 拆除所有链路且每条都进入终态
func TestDestroyAll(t *testing.T) {
	registry := NewLinkRegistry(nil)
	handles := make([]*fakeHandle, 3)
	for i, id := range []string{"bob", "carol", "dave"} {
		handles[i] = newFakeHandle(i)
		link, created := registry.GetOrCreate(Participant{ID: id}, RoleInitiator, 1, handles[i])
		require.True(t, created)
		require.NotNil(t, link)
	}

	registry.DestroyAll()

	assert.Equal(t, 0, registry.Len())
	for _, pc := range handles {
		assert.True(t, pc.isClosed())
	}
}

// TestStatesSnapshot 状态快照反映每条链路的当前状态
func TestStatesSnapshot(t *testing.T) {
	registry := NewLinkRegistry(nil)
	bob, _ := registry.GetOrCreate(Participant{ID: "bob"}, RoleInitiator, 1, newFakeHandle(0))
	registry.GetOrCreate(Participant{ID: "carol"}, RoleResponder, 1, newFakeHandle(1))

	bob.transition(LinkStateNegotiating)

	states := registry.States()
	assert.Equal(t, LinkStateNegotiating, states["bob"])
	assert.Equal(t, LinkStateNew, states["carol"])
}
