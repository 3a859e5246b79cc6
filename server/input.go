package server

import "koil/protocol"

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventMessage
)

// event 入站事件（加入 / 离开 / 客户端消息），由 Tick 线程统一解释。
// 同一连接的事件经同一个通道按序到达，因此加入总在它的第一条消息之前处理
type event struct {
	kind    eventKind
	id      uint32
	session *Session
	msg     protocol.Message
}
