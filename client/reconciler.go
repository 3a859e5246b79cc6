package client

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"koil/protocol"
	"koil/sim"
)

var (
	ErrUnknownPlayer  = errors.New("client: update for unknown player")
	ErrItemOutOfRange = errors.New("client: item index out of range")
	ErrBombOutOfRange = errors.New("client: bomb index out of range")
	ErrUnexpectedKind = errors.New("client: unexpected message kind from server")
	ErrNotBinary      = errors.New("client: non-binary frame")
)

// Events 本地一步中发生的拾取与爆炸，供渲染和音效使用
type Events struct {
	Collected []uint32
	Exploded  []int
}

// Reconciler 客户端状态机：在线时应用服务端增量，离线时在本地跑同一套模拟规则。
// 不做 IO，所有方法只能在同一个协程里调用
type Reconciler struct {
	Level   *sim.Level
	Terrain sim.Terrain
	// Me 指向 Players 中自己的条目；离线时是唯一条目
	Me      *sim.Player
	Players map[uint32]*sim.Player
	// RTT 最近一次 Pong 算出的往返时延
	RTT time.Duration

	online bool
	start  time.Time
}

// NewReconciler terrain 为空时使用关卡自带场景；初始为离线，玩家站在随机出生点
func NewReconciler(level *sim.Level, terrain sim.Terrain) *Reconciler {
	if terrain == nil {
		terrain = level.Scene
	}
	r := &Reconciler{
		Level:   level,
		Terrain: terrain,
		start:   time.Now(),
	}
	me := &sim.Player{}
	if level.Scene != nil {
		me.Position = level.Scene.RandomSpawn(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	r.Me = me
	r.Players = map[uint32]*sim.Player{me.ID: me}
	return r
}

// Online 是否已收到 Hello 且连接仍然存活
func (r *Reconciler) Online() bool { return r.online }

// Disconnect 切回离线：保留自己和关卡状态，其他玩家不再可信，直接丢弃
func (r *Reconciler) Disconnect() {
	r.online = false
	r.Me.Moving = 0
	r.Players = map[uint32]*sim.Player{r.Me.ID: r.Me}
}

// Apply 解码并应用一帧。返回错误时调用方应关闭连接
func (r *Reconciler) Apply(b []byte) error {
	msg, err := protocol.Decode(b)
	if err != nil {
		return err
	}
	return r.ApplyMessage(msg)
}

// ApplyMessage 应用一条已解码的服务端消息
func (r *Reconciler) ApplyMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.HelloMsg:
		r.hello(m)
	case protocol.PlayersJoinedMsg:
		for _, rec := range m.Players {
			p, ok := r.Players[rec.ID]
			if !ok {
				p = &sim.Player{}
				r.Players[rec.ID] = p
			}
			p.ApplyRecord(rec)
		}
	case protocol.PlayersLeftMsg:
		for _, id := range m.IDs {
			if id != r.Me.ID {
				delete(r.Players, id)
			}
		}
	case protocol.PlayersMovingMsg:
		for _, rec := range m.Players {
			p, ok := r.Players[rec.ID]
			if !ok {
				return fmt.Errorf("%w: id=%d", ErrUnknownPlayer, rec.ID)
			}
			p.ApplyRecord(rec)
		}
	case protocol.ItemsSpawnedMsg:
		for _, it := range m.Items {
			if int(it.Index) >= len(r.Level.Items) {
				return fmt.Errorf("%w: %d", ErrItemOutOfRange, it.Index)
			}
			item := &r.Level.Items[it.Index]
			item.Kind = sim.ItemKind(it.Kind)
			item.Alive = true
			item.Position = sim.Vector2{X: float64(it.X), Y: float64(it.Y)}
		}
	case protocol.ItemsCollectedMsg:
		for _, i := range m.Indices {
			if int(i) >= len(r.Level.Items) {
				return fmt.Errorf("%w: %d", ErrItemOutOfRange, i)
			}
			sim.CollectItem(r.Level.Items, int(i))
		}
	case protocol.BombSpawnedMsg:
		if int(m.Index) >= len(r.Level.Bombs) {
			return fmt.Errorf("%w: %d", ErrBombOutOfRange, m.Index)
		}
		r.Level.Bombs[m.Index].ApplySpawned(m)
	case protocol.BombExplodedMsg:
		if int(m.Index) >= len(r.Level.Bombs) {
			return fmt.Errorf("%w: %d", ErrBombOutOfRange, m.Index)
		}
		r.Level.Bombs[m.Index].ApplyExploded(m)
	case protocol.PongMsg:
		r.RTT = time.Duration(r.now()-m.Timestamp) * time.Millisecond
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, msg.Kind())
	}
	return nil
}

// hello 服务端快照整体覆盖本地状态：名册清空，物品全部置死等 ItemsSpawned 复活，炸弹熄灭
func (r *Reconciler) hello(m protocol.HelloMsg) {
	r.Me = &sim.Player{
		ID:        m.ID,
		Position:  sim.Vector2{X: float64(m.X), Y: float64(m.Y)},
		Direction: float64(m.Direction),
		Hue:       m.Hue,
	}
	r.Players = map[uint32]*sim.Player{m.ID: r.Me}
	for i := range r.Level.Items {
		r.Level.Items[i].Alive = false
	}
	for i := range r.Level.Bombs {
		r.Level.Bombs[i].Lifetime = 0
	}
	r.online = true
}

// Step 推进一步本地模拟。
// 在线：按最后收到的掩码外推所有玩家，炸弹只做显示用的积分，拾取和爆炸以服务端为准；
// 离线：自己移动、拾取、炸弹完整生命周期都在本地完成
func (r *Reconciler) Step(dt float64) Events {
	var ev Events
	if r.online {
		for _, p := range r.Players {
			sim.UpdatePlayer(p, r.Terrain, dt)
		}
		for i := range r.Level.Bombs {
			sim.UpdateBomb(&r.Level.Bombs[i], r.Terrain, dt)
		}
		return ev
	}

	sim.UpdatePlayer(r.Me, r.Terrain, dt)
	ev.Collected = sim.CollectItems([]*sim.Player{r.Me}, r.Level.Items)
	for i := range r.Level.Bombs {
		if sim.UpdateBomb(&r.Level.Bombs[i], r.Terrain, dt) {
			ev.Exploded = append(ev.Exploded, i)
		}
	}
	return ev
}

// Move 在线时返回要发给服务端的 AmmaMoving，本地掩码等服务端回 PlayersMoving 再改；
// 离线时直接改本地掩码，返回 nil
func (r *Reconciler) Move(direction uint8, start bool) []byte {
	if r.online {
		return protocol.AmmaMovingMsg{Direction: direction, Start: start}.Marshal()
	}
	r.Me.Moving = sim.SetMoving(r.Me.Moving, direction, start)
	return nil
}

// Throw 在线时返回 AmmaThrowing；离线时在本地投出一颗
func (r *Reconciler) Throw() []byte {
	if r.online {
		return protocol.AmmaThrowingMsg{}.Marshal()
	}
	sim.ThrowBomb(r.Me, r.Level.Bombs)
	return nil
}

// PingMessage 携带本地毫秒时钟，Pong 原样带回
func (r *Reconciler) PingMessage() []byte {
	return protocol.PingMsg{Timestamp: r.now()}.Marshal()
}

func (r *Reconciler) now() uint32 {
	return uint32(time.Since(r.start).Milliseconds())
}
