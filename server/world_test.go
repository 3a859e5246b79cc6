package server

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koil/protocol"
	"koil/sim"
)

// fakePeer 记录发出的帧
type fakePeer struct {
	sent   [][]byte
	closed bool
	full   bool
}

func (p *fakePeer) Send(b []byte) error {
	if p.closed {
		return ErrPeerClosed
	}
	if p.full {
		return ErrQueueFull
	}
	p.sent = append(p.sent, b)
	return nil
}

func (p *fakePeer) Close() { p.closed = true }

func (p *fakePeer) kinds() []protocol.Kind {
	out := make([]protocol.Kind, len(p.sent))
	for i, b := range p.sent {
		out[i] = protocol.Kind(b[0])
	}
	return out
}

func (p *fakePeer) count(k protocol.Kind) int {
	n := 0
	for _, got := range p.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

func (p *fakePeer) decode(t *testing.T, i int) protocol.Message {
	t.Helper()
	m, err := protocol.Decode(p.sent[i])
	require.NoError(t, err)
	return m
}

func (p *fakePeer) reset() { p.sent = nil }

// openField 没有墙的 100x100 场地
type openField struct{}

func (openField) CanOccupy(sim.Vector2) bool { return true }
func (openField) Solid(sim.Vector2) bool     { return false }
func (openField) Size() sim.Vector2          { return sim.Vector2{X: 100, Y: 100} }

func newTestWorld() *World {
	w := NewWorld(sim.DefaultLevel(), openField{}, NewMetrics())
	w.Spawn = func(*rand.Rand) sim.Vector2 { return sim.Vector2{X: 50, Y: 50} }
	return w
}

func join(t *testing.T, w *World) (*Session, *fakePeer) {
	t.Helper()
	peer := &fakePeer{}
	s := NewSession(nextPlayerID(), peer, "127.0.0.1", "trace")
	require.True(t, w.Join(s))
	return s, peer
}

const dt = 1.0 / 60

func TestJoinDeliversHelloRosterItems(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	w.Tick(dt)

	require.Equal(t, []protocol.Kind{protocol.KindHello, protocol.KindPlayersJoined, protocol.KindItemsSpawned}, pa.kinds())
	hello := pa.decode(t, 0).(protocol.HelloMsg)
	assert.Equal(t, a.Player.ID, hello.ID)
	assert.Equal(t, float32(50), hello.X)
	roster := pa.decode(t, 1).(protocol.PlayersJoinedMsg)
	require.Len(t, roster.Players, 1)
	assert.Equal(t, a.Player.ID, roster.Players[0].ID)
	items := pa.decode(t, 2).(protocol.ItemsSpawnedMsg)
	assert.Len(t, items.Items, len(w.Level().Items))

	pa.reset()
	b, pb := join(t, w)
	w.Tick(dt)

	require.Equal(t, []protocol.Kind{protocol.KindHello, protocol.KindPlayersJoined, protocol.KindItemsSpawned}, pb.kinds())
	roster = pb.decode(t, 1).(protocol.PlayersJoinedMsg)
	assert.Len(t, roster.Players, 2)

	require.Equal(t, []protocol.Kind{protocol.KindPlayersJoined}, pa.kinds())
	announce := pa.decode(t, 0).(protocol.PlayersJoinedMsg)
	require.Len(t, announce.Players, 1)
	assert.Equal(t, b.Player.ID, announce.Players[0].ID)
}

func TestJoinAndLeaveSameTick(t *testing.T) {
	w := newTestWorld()
	_, pa := join(t, w)
	w.Tick(dt)
	pa.reset()

	c, pc := join(t, w)
	require.True(t, w.Leave(c.Player.ID))
	w.Tick(dt)

	assert.Empty(t, pa.sent, "no PlayersJoined or PlayersLeft for a same-tick visitor")
	assert.Empty(t, pc.sent)
	assert.True(t, pc.closed)
	assert.Equal(t, 1, w.Registry().Len())
	assert.Empty(t, w.Registry().Left())
}

func TestLeaveBroadcast(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	b, pb := join(t, w)
	w.Tick(dt)
	pa.reset()
	pb.reset()

	require.True(t, w.Leave(b.Player.ID))
	require.True(t, w.Leave(b.Player.ID))
	w.Tick(dt)

	require.Equal(t, []protocol.Kind{protocol.KindPlayersLeft}, pa.kinds())
	assert.Equal(t, []uint32{b.Player.ID}, pa.decode(t, 0).(protocol.PlayersLeftMsg).IDs)
	assert.Empty(t, pb.sent)
	_, ok := w.Registry().Get(a.Player.ID)
	assert.True(t, ok)

	pa.reset()
	w.Tick(dt)
	assert.Empty(t, pa.sent, "sets are drained after each tick")
}

func TestMovingOneTickLagAndSingleBroadcast(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	_, pb := join(t, w)
	w.Tick(dt)
	a.Player.Direction = 0.4
	pa.reset()
	pb.reset()

	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.MovingForward, Start: true})
	x0, y0 := a.Player.Position.X, a.Player.Position.Y
	w.Tick(dt)

	assert.Equal(t, x0, a.Player.Position.X, "movement uses the previously broadcast mask")
	assert.Equal(t, 1, pa.count(protocol.KindPlayersMoving))
	assert.Equal(t, 1, pb.count(protocol.KindPlayersMoving))
	moving := pa.decode(t, 0).(protocol.PlayersMovingMsg)
	require.Len(t, moving.Players, 1)
	assert.Equal(t, a.Player.ID, moving.Players[0].ID)
	assert.Equal(t, uint8(1<<protocol.MovingForward), moving.Players[0].Moving)

	pa.reset()
	pb.reset()
	w.Tick(dt)
	assert.InDelta(t, x0+sim.PlayerSpeed*dt*math.Cos(0.4), a.Player.Position.X, 1e-6)
	assert.InDelta(t, y0+sim.PlayerSpeed*dt*math.Sin(0.4), a.Player.Position.Y, 1e-6)

	for i := 0; i < 10; i++ {
		w.Tick(dt)
	}
	assert.Zero(t, pa.count(protocol.KindPlayersMoving))
	assert.Zero(t, pb.count(protocol.KindPlayersMoving))
}

func TestMovingRequestsCoalescePerTick(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	w.Tick(dt)
	pa.reset()

	for i := 0; i < 5; i++ {
		w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.TurningLeft, Start: true})
		w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.TurningLeft, Start: false})
	}
	w.Tick(dt)
	assert.Zero(t, pa.count(protocol.KindPlayersMoving))

	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.TurningLeft, Start: true})
	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.TurningRight, Start: true})
	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.TurningRight, Start: true})
	w.Tick(dt)
	assert.Equal(t, 1, pa.count(protocol.KindPlayersMoving))
	assert.Equal(t, uint8(0b1100), a.Player.Moving)
}

func TestPingKeepsLatestTimestamp(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	_, pb := join(t, w)
	w.Tick(dt)
	pa.reset()
	pb.reset()

	w.Deliver(a.Player.ID, protocol.PingMsg{Timestamp: 10})
	w.Deliver(a.Player.ID, protocol.PingMsg{Timestamp: 20})
	w.Tick(dt)

	require.Equal(t, []protocol.Kind{protocol.KindPong}, pa.kinds())
	assert.Equal(t, uint32(20), pa.decode(t, 0).(protocol.PongMsg).Timestamp)
	assert.Empty(t, pb.sent)
}

func TestItemCollectedOnce(t *testing.T) {
	w := newTestWorld()
	_, pa := join(t, w)
	_, pb := join(t, w)
	w.Tick(dt)
	pa.reset()
	pb.reset()

	w.Level().Items[3].Position = sim.Vector2{X: 50.1, Y: 50}
	w.Tick(dt)
	require.Equal(t, []protocol.Kind{protocol.KindItemsCollected}, pa.kinds())
	assert.Equal(t, []uint32{3}, pa.decode(t, 0).(protocol.ItemsCollectedMsg).Indices)
	assert.Equal(t, 1, pb.count(protocol.KindItemsCollected))

	pa.reset()
	w.Tick(dt)
	assert.Empty(t, pa.sent)

	// 新玩家的物品快照不再包含它
	_, pc := join(t, w)
	w.Tick(dt)
	items := pc.decode(t, 2).(protocol.ItemsSpawnedMsg)
	for _, it := range items.Items {
		assert.NotEqual(t, uint32(3), it.Index)
	}
}

func TestBombThrowAndExplode(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	w.Tick(dt)
	pa.reset()

	w.Deliver(a.Player.ID, protocol.AmmaThrowingMsg{})
	w.Tick(dt)
	require.Equal(t, []protocol.Kind{protocol.KindBombSpawned}, pa.kinds())
	spawned := pa.decode(t, 0).(protocol.BombSpawnedMsg)
	assert.Equal(t, uint32(0), spawned.Index)
	assert.Equal(t, float32(sim.BombLifetime), spawned.Lifetime)

	pa.reset()
	lifetime := w.Level().Bombs[0].Lifetime
	w.Tick(0.25)
	assert.InDelta(t, lifetime-0.25, w.Level().Bombs[0].Lifetime, 1e-9)

	for i := 0; i < 20; i++ {
		w.Tick(0.25)
	}
	assert.Equal(t, 1, pa.count(protocol.KindBombExploded))
	assert.Zero(t, pa.count(protocol.KindBombSpawned))
	assert.False(t, w.Level().Bombs[0].Active())

	pa.reset()
	w.Deliver(a.Player.ID, protocol.AmmaThrowingMsg{})
	w.Tick(dt)
	assert.Equal(t, uint32(0), pa.decode(t, 0).(protocol.BombSpawnedMsg).Index, "slot reused after explosion")
}

func TestThrowInExplodingTickUsesAnotherSlot(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	w.Tick(dt)
	w.Deliver(a.Player.ID, protocol.AmmaThrowingMsg{})
	w.Tick(dt)
	require.True(t, w.Level().Bombs[0].Active())

	w.Tick(sim.BombLifetime - 0.05)
	require.True(t, w.Level().Bombs[0].Active())
	old := w.Level().Bombs[0]
	require.True(t, sim.UpdateBomb(&old, openField{}, 0.1))
	want := old.ExplodedMsg(0)

	pa.reset()
	w.Deliver(a.Player.ID, protocol.AmmaThrowingMsg{})
	w.Tick(0.1)

	require.Equal(t, []protocol.Kind{protocol.KindBombSpawned, protocol.KindBombExploded}, pa.kinds())
	spawned := pa.decode(t, 0).(protocol.BombSpawnedMsg)
	assert.Equal(t, uint32(1), spawned.Index)
	assert.Equal(t, want, pa.decode(t, 1).(protocol.BombExplodedMsg))
	assert.False(t, w.Level().Bombs[0].Active())
	assert.True(t, w.Level().Bombs[1].Active())

	// 客户端按收到的顺序应用后与服务端一致
	mirror := make([]sim.Bomb, sim.BombCapacity)
	mirror[0].Lifetime = 1
	for i := range pa.sent {
		switch m := pa.decode(t, i).(type) {
		case protocol.BombSpawnedMsg:
			mirror[m.Index].ApplySpawned(m)
		case protocol.BombExplodedMsg:
			mirror[m.Index].ApplyExploded(m)
		}
	}
	for i := range mirror {
		assert.Equal(t, w.Level().Bombs[i].Active(), mirror[i].Active(), "slot %d", i)
	}
}

func TestBroadcastStepOrder(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	_, pb := join(t, w)
	c, _ := join(t, w)
	w.Tick(dt)
	pa.reset()
	pb.reset()

	w.Level().Bombs[1] = sim.Bomb{Position: sim.Vector3{X: 10, Y: 10, Z: 0.5}, Lifetime: dt / 2}
	w.Level().Items[2].Position = sim.Vector2{X: 50.2, Y: 50}
	w.Deliver(a.Player.ID, protocol.PingMsg{Timestamp: 77})
	w.Deliver(a.Player.ID, protocol.AmmaThrowingMsg{})
	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.MovingForward, Start: true})
	require.True(t, w.Leave(c.Player.ID))
	_, pd := join(t, w)
	w.Tick(dt)

	deltas := []protocol.Kind{
		protocol.KindPlayersLeft,
		protocol.KindPlayersMoving,
		protocol.KindBombSpawned,
		protocol.KindItemsCollected,
		protocol.KindBombExploded,
	}
	assert.Equal(t, append(append([]protocol.Kind{protocol.KindPlayersJoined}, deltas...), protocol.KindPong), pa.kinds())
	assert.Equal(t, append([]protocol.Kind{protocol.KindPlayersJoined}, deltas...), pb.kinds())
	assert.Equal(t, append([]protocol.Kind{protocol.KindHello, protocol.KindPlayersJoined, protocol.KindItemsSpawned}, deltas...), pd.kinds())

	assert.Equal(t, uint32(0), pa.decode(t, 3).(protocol.BombSpawnedMsg).Index)
	assert.Equal(t, []uint32{2}, pa.decode(t, 4).(protocol.ItemsCollectedMsg).Indices)
	assert.Equal(t, uint32(1), pa.decode(t, 5).(protocol.BombExplodedMsg).Index)
	assert.Equal(t, uint32(77), pa.decode(t, 6).(protocol.PongMsg).Timestamp)
}

// slowField 每次占用检测都耗时，让一次 Tick 占掉周期的一部分
type slowField struct{ openField }

func (slowField) CanOccupy(sim.Vector2) bool {
	time.Sleep(4 * time.Millisecond)
	return true
}

func TestRunSelfCorrectsAndMeasuresDeltaTime(t *testing.T) {
	w := NewWorld(sim.DefaultLevel(), slowField{}, NewMetrics())
	w.Spawn = func(*rand.Rand) sim.Vector2 { return sim.Vector2{X: 50, Y: 50} }
	s := NewSession(nextPlayerID(), &fakePeer{}, "127.0.0.1", "")
	s.Player.Moving = 1 << protocol.MovingForward
	s.NewMoving = s.Player.Moving
	require.True(t, w.Join(s))

	const tickRate = 50
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	start := time.Now()
	w.Run(ctx, tickRate, 0)
	elapsed := time.Since(start).Seconds()

	// 每 Tick 约 8ms，按 max(0, 20ms - 耗时) 补齐后仍是约 20ms 一次
	ticks := atomic.LoadInt64(&w.metrics.TickCount)
	assert.GreaterOrEqual(t, ticks, int64(17))
	assert.LessOrEqual(t, ticks, int64(23))

	// 位移 / 速度 = 各 Tick 实测 deltaTime 之和
	travelled := math.Sqrt(s.Player.Position.SqrDistance(sim.Vector2{X: 50, Y: 50}))
	sumDt := travelled / sim.PlayerSpeed
	assert.LessOrEqual(t, sumDt, elapsed)
	assert.Greater(t, sumDt, elapsed-0.1)

	assert.False(t, w.Join(NewSession(nextPlayerID(), &fakePeer{}, "127.0.0.1", "")), "world stopped")
}

func TestSlowPeerClosedOthersServed(t *testing.T) {
	w := newTestWorld()
	a, pa := join(t, w)
	_, pb := join(t, w)
	w.Tick(dt)
	pa.reset()
	pb.reset()

	pb.full = true
	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.MovingForward, Start: true})
	w.Deliver(a.Player.ID, protocol.AmmaThrowingMsg{})
	w.Tick(dt)

	assert.True(t, pb.closed)
	assert.Equal(t, int64(1), atomic.LoadInt64(&w.metrics.SlowPeers))
	assert.Equal(t, []protocol.Kind{protocol.KindPlayersMoving, protocol.KindBombSpawned}, pa.kinds())
}

func TestClosedPeerIsNotSlow(t *testing.T) {
	w := newTestWorld()
	a, _ := join(t, w)
	_, pb := join(t, w)
	w.Tick(dt)
	pb.Close()
	w.Deliver(a.Player.ID, protocol.AmmaMovingMsg{Direction: protocol.MovingForward, Start: true})
	w.Tick(dt)
	assert.Zero(t, atomic.LoadInt64(&w.metrics.SlowPeers))
}

func TestMessageForUnknownSessionIgnored(t *testing.T) {
	w := newTestWorld()
	w.Deliver(12345, protocol.AmmaThrowingMsg{})
	w.Leave(12345)
	assert.NotPanics(t, func() { w.Tick(dt) })
	assert.Equal(t, 0, w.Registry().Len())
}
