package server

import (
	"errors"

	"koil/sim"
)

var (
	ErrPeerClosed = errors.New("peer closed")
	ErrQueueFull  = errors.New("send queue full")
)

// Peer 会话的发送端。Send 不阻塞：对端已关闭返回 ErrPeerClosed，
// 发送队列满返回 ErrQueueFull
type Peer interface {
	Send(b []byte) error
	Close()
}

// Session 一条存活连接及其玩家实体（服务端权威状态）。
// Player.Moving 是已广播的移动掩码，只由广播步骤修改；
// NewMoving 是最近一次请求的掩码，入站消息只写这里，保证每 Tick 至多一次变更通知
type Session struct {
	Player    sim.Player
	NewMoving uint8

	Conn   Peer
	Origin string
	Trace  string

	// 本 Tick 内收到过 AmmaThrowing
	throwing bool
	// 本 Tick 内已因发送失败关闭，等待离开事件
	dropped bool
}

// NewSession 位置、朝向、色相在加入世界时生成
func NewSession(id uint32, conn Peer, origin, trace string) *Session {
	return &Session{
		Player: sim.Player{ID: id},
		Conn:   conn,
		Origin: origin,
		Trace:  trace,
	}
}
