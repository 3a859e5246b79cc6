package server

import (
	"errors"

	"koil/protocol"
	"koil/sim"
)

// Broadcast 按固定顺序组装并发送本 Tick 的增量。
// 发送都是即发即忘；单个对端失败只关闭它自己，不影响其余步骤
func (w *World) Broadcast(d *Delta) {
	sessions := w.reg.Sessions()

	// 1. 新玩家：Hello + 全量名册 + 物品快照只发给本人；其余玩家收到只含新人的 PlayersJoined
	if joined := w.reg.Joined(); len(joined) > 0 {
		roster := make([]protocol.Player, len(sessions))
		for i, s := range sessions {
			roster[i] = s.Player.Record()
		}
		rosterBuf := protocol.PlayersJoinedMsg{Players: roster}.Marshal()
		itemsBuf := protocol.ItemsSpawnedMsg{Items: sim.AliveRecords(w.level.Items)}.Marshal()

		isNew := make(map[uint32]bool, len(joined))
		fresh := make([]protocol.Player, 0, len(joined))
		for _, id := range joined {
			s, ok := w.reg.Get(id)
			if !ok {
				continue
			}
			isNew[id] = true
			p := &s.Player
			w.send(s, protocol.HelloMsg{
				ID:        p.ID,
				X:         float32(p.Position.X),
				Y:         float32(p.Position.Y),
				Direction: float32(p.Direction),
				Hue:       p.Hue,
			}.Marshal())
			w.send(s, rosterBuf)
			w.send(s, itemsBuf)
			fresh = append(fresh, p.Record())
		}

		buf := protocol.PlayersJoinedMsg{Players: fresh}.Marshal()
		for _, s := range sessions {
			if !isNew[s.Player.ID] {
				w.send(s, buf)
			}
		}
	}

	// 2. 离开
	if left := w.reg.Left(); len(left) > 0 {
		w.sendAll(sessions, protocol.PlayersLeftMsg{IDs: left}.Marshal())
	}

	// 3. 移动掩码变化：提升 NewMoving，合成一条发给所有人（包括本人）
	var moved []protocol.Player
	for _, s := range sessions {
		if s.NewMoving == s.Player.Moving {
			continue
		}
		s.Player.Moving = s.NewMoving
		moved = append(moved, s.Player.Record())
	}
	if len(moved) > 0 {
		w.sendAll(sessions, protocol.PlayersMovingMsg{Players: moved}.Marshal())
	}

	// 4. 本 Tick 投出的炸弹
	for _, m := range d.Spawned {
		w.sendAll(sessions, m.Marshal())
	}

	// 5. 本 Tick 被拾取的物品
	if len(d.Collected) > 0 {
		w.sendAll(sessions, protocol.ItemsCollectedMsg{Indices: d.Collected}.Marshal())
	}

	// 6. 本 Tick 爆炸的炸弹
	for _, m := range d.Exploded {
		w.sendAll(sessions, m.Marshal())
	}

	// 7. Pong 只回给发 Ping 的人
	for id, ts := range w.reg.Pings() {
		if s, ok := w.reg.Get(id); ok {
			w.send(s, protocol.PongMsg{Timestamp: ts}.Marshal())
		}
	}
}

func (w *World) sendAll(sessions []*Session, b []byte) {
	for _, s := range sessions {
		w.send(s, b)
	}
}

// send 队列满说明对端跟不上，直接关闭它，保证其余人看到的消息序列完整
func (w *World) send(s *Session, b []byte) {
	if s.dropped {
		return
	}
	err := s.Conn.Send(b)
	switch {
	case err == nil:
		w.metrics.AddSent(protocol.Kind(b[0]), len(b))
	case errors.Is(err, ErrQueueFull):
		s.dropped = true
		w.metrics.IncSlowPeer()
		Log.Warnw("closing slow peer", "id", s.Player.ID, "trace", s.Trace)
		s.Conn.Close()
	default:
		s.dropped = true
	}
}
