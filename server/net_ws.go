package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"koil/protocol"
)

const writeWait = 5 * time.Second

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewClientConn(ws *websocket.Conn, queue int) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// Send 将要发送的消息压入队列（非阻塞），Tick 线程从不因网络写阻塞
func (c *ClientConn) Send(b []byte) error {
	select {
	case <-c.done:
		return ErrPeerClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close 以 policy violation 关闭，可重复调用
func (c *ClientConn) Close() {
	_ = c.closeWith(websocket.ClosePolicyViolation, "")
}

func (c *ClientConn) closeWith(code int, reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// writePump 独立协程，负责从 send 队列写出到 WS（仅二进制帧）
func (c *ClientConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readPump 读取客户端消息，解码后注入世界。任何无法识别或方向不对的消息
// 都只关闭这一条连接。不设空闲超时，交给传输层保活
func (s *Server) readPump(c *ClientConn, sess *Session) {
	id := sess.Player.ID
	defer s.finish(c, sess)
	c.ws.SetReadLimit(s.cfg.Server.MaxMessageBytes)

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			s.metrics.IncBogus()
			Log.Warnw("non-binary frame", "id", id, "trace", sess.Trace)
			c.Close()
			return
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			s.metrics.IncBogus()
			Log.Warnw("bogus message", "id", id, "trace", sess.Trace, "len", len(payload), "err", err)
			c.Close()
			return
		}
		s.metrics.AddReceived(msg.Kind(), len(payload))
		switch msg.(type) {
		case protocol.AmmaMovingMsg, protocol.AmmaThrowingMsg, protocol.PingMsg:
			if !s.world.Deliver(id, msg) {
				return
			}
		default:
			s.metrics.IncViolation()
			Log.Warnw("unexpected message from client", "id", id, "trace", sess.Trace, "kind", msg.Kind().String())
			c.Close()
			return
		}
	}
}

// finish 读泵退出时：通知世界在 Tick 线程中移除该玩家，并归还准入名额
func (s *Server) finish(c *ClientConn, sess *Session) {
	c.Close()
	s.untrack(c)
	s.world.Leave(sess.Player.ID)
	s.admission.Release(sess.Origin)
}

// HandleWS WebSocket 接入。准入在握手之前判定，被拒绝的连接直接关闭；
// 通过后先把会话登记进世界，再启动读写协程
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	trace := uuid.NewString()
	origin := OriginOf(r, s.cfg.Admission.TrustForwardedFor)
	id, reason := s.admission.Admit(origin)
	if reason != Admitted {
		w.Header().Set("Connection", "close")
		http.Error(w, reason.String(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.admission.Release(origin)
		Log.Debugw("upgrade failed", "origin", origin, "trace", trace, "err", err)
		return
	}

	client := NewClientConn(ws, s.cfg.Server.SendQueue)
	sess := NewSession(id, client, origin, trace)
	if !s.world.Join(sess) {
		_ = client.closeWith(websocket.CloseGoingAway, "shutting down")
		s.admission.Release(origin)
		return
	}
	s.track(client)
	Log.Infow("connection accepted", "id", id, "origin", origin, "trace", trace)

	go client.writePump()
	go s.readPump(client, sess)
}

func (s *Server) track(c *ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c *ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}
