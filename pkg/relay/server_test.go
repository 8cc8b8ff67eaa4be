package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LingByte/LingMeshX/pkg/protocol"
)

func startRelay(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(NewServer(hub, "test-secret").Router("test"))
	t.Cleanup(server.Close)
	return server, hub
}

func dialParticipant(t *testing.T, server *httptest.Server, roomID, participantID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + roomID + "?participantId=" + participantID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSignal(t *testing.T, conn *websocket.Conn) *protocol.SignalingMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

// TestRelayEndToEnd 两个参与者经真实 WebSocket 连接交换信令
func TestRelayEndToEnd(t *testing.T) {
	server, _ := startRelay(t)

	alice := dialParticipant(t, server, "room-1", "alice")
	bob := dialParticipant(t, server, "room-1", "bob")

	// 广播:加入公告到达对端
	announce, _ := protocol.NewJoinRoom("room-1", "alice", "Alice").Encode()
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, announce))

	got := readSignal(t, bob)
	assert.Equal(t, protocol.MessageTypeJoinRoom, got.Type)
	assert.Equal(t, "alice", got.FromParticipantID)

	// 定向:offer 只到达目标
	offer, _ := protocol.NewOffer("room-1", "bob", "alice",
		protocol.SessionDescription{Type: "offer", SDP: "v=0..."}).Encode()
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, offer))

	got = readSignal(t, alice)
	assert.Equal(t, protocol.MessageTypeOffer, got.Type)
	assert.Equal(t, "bob", got.FromParticipantID)
}

// TestRelayDropsSpoofedIdentity 中继不转发身份不符的消息
func TestRelayDropsSpoofedIdentity(t *testing.T) {
	server, _ := startRelay(t)

	alice := dialParticipant(t, server, "room-1", "alice")
	bob := dialParticipant(t, server, "room-1", "bob")

	// alice 的连接冒充 carol 发消息
	spoofed, _ := protocol.NewJoinRoom("room-1", "carol", "Carol").Encode()
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, spoofed))
	// 之后的合法消息照常转发
	valid, _ := protocol.NewJoinRoom("room-1", "alice", "Alice").Encode()
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, valid))

	got := readSignal(t, bob)
	assert.Equal(t, "alice", got.FromParticipantID, "spoofed message must not arrive first")
}

// TestRelaySynthesizesLeaveOnDrop 连接断开后剩余成员收到合成的 leave_room
func TestRelaySynthesizesLeaveOnDrop(t *testing.T) {
	server, _ := startRelay(t)

	alice := dialParticipant(t, server, "room-1", "alice")
	bob := dialParticipant(t, server, "room-1", "bob")

	// 确认双方都已注册后直接断开 alice
	announce, _ := protocol.NewJoinRoom("room-1", "alice", "Alice").Encode()
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, announce))
	readSignal(t, bob)

	alice.Close()

	got := readSignal(t, bob)
	assert.Equal(t, protocol.MessageTypeLeaveRoom, got.Type)
	assert.Equal(t, "alice", got.FromParticipantID)
}

// TestNewRoomEndpoint 房间号端点返回新的短房间号
func TestNewRoomEndpoint(t *testing.T) {
	server, _ := startRelay(t)

	resp, err := http.Get(server.URL + "/rooms/new")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.RoomID, roomIDLength)
}

// TestCallTokenEndpoint 令牌端点签发凭据并回显房间名
func TestCallTokenEndpoint(t *testing.T) {
	server, _ := startRelay(t)

	resp, err := http.Post(server.URL+"/call/token", "application/json",
		strings.NewReader(`{"roomName":"room-1","participantName":"Alice"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token    string `json:"token"`
		URL      string `json:"url"`
		RoomName string `json:"roomName"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "room-1", body.RoomName)
	assert.Contains(t, body.URL, "/ws/room-1")

	// 缺字段的申请被拒绝
	resp2, err := http.Post(server.URL+"/call/token", "application/json",
		strings.NewReader(`{"roomName":"room-1"}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

// TestHealthEndpoint 健康检查
func TestHealthEndpoint(t *testing.T) {
	server, _ := startRelay(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
