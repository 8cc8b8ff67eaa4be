package mesh

import (
	"sync"

	"github.com/LingByte/LingMeshX/pkg/constants"
	apperrors "github.com/LingByte/LingMeshX/pkg/errors"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSTransport 基于 WebSocket 中继的信令传输
// 每个订阅者持有独立通道；读泵解码入站消息并按订阅分发
type WSTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu          sync.RWMutex
	subscribers map[int]chan *protocol.SignalingMessage
	nextSubID   int
	closed      bool

	done chan struct{}
}

// DialRelay 连接信令中继并启动读泵
func DialRelay(url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeTransportUnavailable, err)
	}
	return NewWSTransport(conn), nil
}

// NewWSTransport wraps an established WebSocket connection
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		conn:        conn,
		subscribers: make(map[int]chan *protocol.SignalingMessage),
		done:        make(chan struct{}),
	}
	go t.readPump()
	return t
}

// Send delivers one signaling message to the relay
func (t *WSTransport) Send(msg *protocol.SignalingMessage) error {
	if !t.Connected() {
		return apperrors.NewAppError(apperrors.ErrCodeTransportUnavailable, "relay connection is closed")
	}
	data, err := msg.Encode()
	if err != nil {
		return apperrors.WrapError(apperrors.ErrCodeInvalidMessage, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe 注册一个入站消息订阅
func (t *WSTransport) Subscribe() (<-chan *protocol.SignalingMessage, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	ch := make(chan *protocol.SignalingMessage, constants.RelaySendBuffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.subscribers[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Connected reports whether the relay connection is usable
func (t *WSTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed
}

// Close 关闭传输并结束所有订阅
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
	t.mu.Unlock()

	return t.conn.Close()
}

// readPump 读取中继消息并分发给订阅者
func (t *WSTransport) readPump() {
	defer t.Close()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				logger.Warn("relay read failed", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// 结构非法的消息只记录不传播
			logger.Warn("dropping malformed signaling message", zap.Error(err))
			continue
		}

		t.mu.RLock()
		for _, ch := range t.subscribers {
			select {
			case ch <- msg:
			default:
				logger.Warn("subscriber channel full, dropping message",
					zap.String("type", string(msg.Type)),
					zap.String("from", msg.FromParticipantID))
			}
		}
		t.mu.RUnlock()
	}
}
