package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"koil/sim"
)

const (
	// PingInterval 在线时发送 Ping 的间隔
	PingInterval = time.Second
	writeWait    = 5 * time.Second
	incomingSize = 256
)

// Conn 一条到服务端的 WebSocket 连接。读协程把二进制帧放进 incoming，
// 读错误或非二进制帧放进 errc 后退出
type Conn struct {
	ws       *websocket.Conn
	incoming chan []byte
	errc     chan error
	done     chan struct{}
	once     sync.Once
	wmu      sync.Mutex
}

// Dial 建立连接并启动读协程
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:       ws,
		incoming: make(chan []byte, incomingSize),
		errc:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.errc <- err
			return
		}
		if mt != websocket.BinaryMessage {
			c.errc <- ErrNotBinary
			return
		}
		select {
		case c.incoming <- payload:
		case <-c.done:
			return
		}
	}
}

// Send 写出一帧二进制消息
func (c *Conn) Send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// Close 发送 close 帧并关闭底层连接，可重复调用
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wmu.Lock()
		err = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.wmu.Unlock()
		if err == websocket.ErrCloseSent {
			err = nil
		}
		err = multierr.Append(err, c.ws.Close())
	})
	return err
}

// Client 把 Reconciler 和连接组装成游戏循环用的一帧一调的驱动。
// 没有连接或连接出错时自动落回离线模拟
type Client struct {
	R *Reconciler

	log      *zap.SugaredLogger
	conn     *Conn
	lastPing time.Time
}

// NewClient log 为空时不输出日志
func NewClient(level *sim.Level, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{R: NewReconciler(level, nil), log: log}
}

// Connect 连接服务端；在收到 Hello 之前仍然按离线规则运行
func (c *Client) Connect(ctx context.Context, url string) error {
	conn, err := Dial(ctx, url)
	if err != nil {
		return err
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.lastPing = time.Now()
	c.log.Infow("connected", "url", url)
	return nil
}

// Connected 连接是否还在
func (c *Client) Connected() bool { return c.conn != nil }

// Frame 游戏循环每帧调用：先应用已到达的全部消息，再推进本地模拟。
// 任何解码或应用错误都关闭连接并切回离线，错误同时返回给调用方
func (c *Client) Frame(dt float64) (Events, error) {
	var err error
	if c.conn != nil {
		err = c.drain()
		if err == nil && c.R.Online() && time.Since(c.lastPing) >= PingInterval {
			c.lastPing = time.Now()
			err = c.conn.Send(c.R.PingMessage())
		}
		if err != nil {
			c.drop(err)
		}
	}
	return c.R.Step(dt), err
}

// drain 只处理调用时已排队的帧，服务端持续灌入也不会拖住一帧
func (c *Client) drain() error {
	for n := len(c.conn.incoming); n > 0; n-- {
		if err := c.R.Apply(<-c.conn.incoming); err != nil {
			return err
		}
	}
	// 读协程先放帧再报错，队列里还有帧时错误留到下一帧处理
	if len(c.conn.incoming) > 0 {
		return nil
	}
	select {
	case err := <-c.conn.errc:
		return err
	default:
		return nil
	}
}

func (c *Client) drop(err error) {
	c.log.Warnw("connection lost, playing offline", "err", err)
	if cerr := c.conn.Close(); cerr != nil {
		c.log.Debugw("close", "err", cerr)
	}
	c.conn = nil
	c.R.Disconnect()
}

// Move 在线时发给服务端，离线时改本地掩码
func (c *Client) Move(direction uint8, start bool) error {
	return c.send(c.R.Move(direction, start))
}

// Throw 在线时发给服务端，离线时本地投掷
func (c *Client) Throw() error {
	return c.send(c.R.Throw())
}

func (c *Client) send(b []byte) error {
	if b == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Send(b); err != nil {
		c.drop(err)
		return err
	}
	return nil
}

// Close 主动断开
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.R.Disconnect()
	return err
}
