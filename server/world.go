package server

import (
	"math"
	"math/rand"
	"time"

	"koil/protocol"
	"koil/sim"
)

const inboxSize = 4096

// World 权威世界：状态维护在内存，单线程 Tick 推进。
// 入站事件只经 inbox 进入，Tick 开头统一解释，从不在网络协程里直接改状态
type World struct {
	level   *sim.Level
	terrain sim.Terrain
	reg     *Registry
	metrics *Metrics
	rng     *rand.Rand

	// Spawn 为新玩家选出生点，默认在场景里随机挑可站立的格子
	Spawn func(rng *rand.Rand) sim.Vector2

	inbox chan event
	done  chan struct{}

	tickSeq uint64
}

// Delta 本 Tick 模拟产生的物品/炸弹事件，加入/离开/Ping 在 Registry 里
type Delta struct {
	Spawned   []protocol.BombSpawnedMsg
	Collected []uint32
	// 爆炸时刻的快照，之后同一槽可能在本 Tick 内被重新投出
	Exploded []protocol.BombExplodedMsg
}

// NewWorld terrain 为空时使用关卡自带场景
func NewWorld(level *sim.Level, terrain sim.Terrain, m *Metrics) *World {
	if terrain == nil {
		terrain = level.Scene
	}
	w := &World{
		level:   level,
		terrain: terrain,
		reg:     NewRegistry(),
		metrics: m,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		inbox:   make(chan event, inboxSize),
		done:    make(chan struct{}),
	}
	w.Spawn = func(rng *rand.Rand) sim.Vector2 {
		size := w.terrain.Size()
		if level.Scene != nil {
			return level.Scene.RandomSpawn(rng)
		}
		return sim.Vector2{X: size.X / 2, Y: size.Y / 2}
	}
	return w
}

func (w *World) Registry() *Registry { return w.reg }
func (w *World) Level() *sim.Level   { return w.level }

// Join 请求在 Tick 线程中加入玩家；须在该连接的任何消息之前调用
func (w *World) Join(s *Session) bool {
	return w.enqueue(event{kind: eventJoin, session: s})
}

// Leave 请求在 Tick 线程中移除玩家
func (w *World) Leave(id uint32) bool {
	return w.enqueue(event{kind: eventLeave, id: id})
}

// Deliver 入站消息（不立即改变状态），仅记录意图，等下一次 Tick 处理
func (w *World) Deliver(id uint32, msg protocol.Message) bool {
	return w.enqueue(event{kind: eventMessage, id: id, msg: msg})
}

// 阻塞写入：慢的只是发消息的那条连接的读协程，Tick 不受影响
func (w *World) enqueue(ev event) bool {
	select {
	case w.inbox <- ev:
		return true
	case <-w.done:
		return false
	}
}

// ProcessInbox 只处理 Tick 开始时已在队列中的事件，持续灌入的客户端无法拖住 Tick
func (w *World) ProcessInbox() {
	for n := len(w.inbox); n > 0; n-- {
		w.apply(<-w.inbox)
	}
}

func (w *World) apply(ev event) {
	switch ev.kind {
	case eventJoin:
		s := ev.session
		s.Player.Position = w.Spawn(w.rng)
		s.Player.Direction = w.rng.Float64() * 2 * math.Pi
		s.Player.Hue = uint8(w.rng.Intn(256))
		w.reg.Add(s)
		w.metrics.IncJoined()
		Log.Infow("player joined", "id", s.Player.ID, "origin", s.Origin, "trace", s.Trace)
	case eventLeave:
		s, ok := w.reg.Remove(ev.id)
		if !ok {
			return
		}
		s.Conn.Close()
		w.metrics.IncLeft()
		Log.Infow("player left", "id", ev.id, "trace", s.Trace)
	case eventMessage:
		s, ok := w.reg.Get(ev.id)
		if !ok {
			return
		}
		switch m := ev.msg.(type) {
		case protocol.AmmaMovingMsg:
			s.NewMoving = sim.SetMoving(s.NewMoving, m.Direction, m.Start)
		case protocol.AmmaThrowingMsg:
			s.throwing = true
		case protocol.PingMsg:
			w.reg.RecordPing(ev.id, m.Timestamp)
		}
	}
}

// Simulate 推进一步。移动使用上一次已广播的掩码（Player.Moving），
// NewMoving 的提升发生在本 Tick 稍后的广播步骤，即一 Tick 的输入延迟
func (w *World) Simulate(dt float64) *Delta {
	d := &Delta{}
	sessions := w.reg.Sessions()
	players := make([]*sim.Player, len(sessions))
	for i, s := range sessions {
		sim.UpdatePlayer(&s.Player, w.terrain, dt)
		players[i] = &s.Player
	}

	d.Collected = sim.CollectItems(players, w.level.Items)

	var exploded map[int]bool
	for i := range w.level.Bombs {
		b := &w.level.Bombs[i]
		if sim.UpdateBomb(b, w.terrain, dt) {
			d.Exploded = append(d.Exploded, b.ExplodedMsg(i))
			if exploded == nil {
				exploded = make(map[int]bool)
			}
			exploded[i] = true
		}
	}

	// 投掷放在积分之后，广播出去的就是本 Tick 结束时的状态；
	// 本 Tick 爆炸的槽不参与分配，否则客户端会先收到新炸弹再收到旧炸弹的爆炸
	for _, s := range sessions {
		if !s.throwing {
			continue
		}
		s.throwing = false
		if i, ok := sim.ThrowBombExcept(&s.Player, w.level.Bombs, exploded); ok {
			d.Spawned = append(d.Spawned, w.level.Bombs[i].SpawnedMsg(i))
		}
	}
	return d
}

// Tick 处理输入 → 更新世界 → 广播结果 → 清空本 Tick 集合
func (w *World) Tick(dt float64) {
	w.tickSeq++
	w.ProcessInbox()
	d := w.Simulate(dt)
	w.Broadcast(d)
	w.reg.Drain()
}
