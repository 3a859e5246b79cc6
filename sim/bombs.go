package sim

import (
	"math"

	"koil/protocol"
)

// Bomb 炸弹槽。Lifetime > 0 为激活态；降到 <= 0 即爆炸，之后冻结直到再次投掷。
// 从未投掷过的槽 Lifetime 为 0，与已爆炸的槽一样可复用。
type Bomb struct {
	Position Vector3
	Velocity Vector3
	Lifetime float64
}

// Active 是否处于飞行中
func (b *Bomb) Active() bool { return b.Lifetime > 0 }

// ThrowBomb 取第一个空闲槽，从玩家位置沿朝向抛出；没有空闲槽返回 false
func ThrowBomb(p *Player, bombs []Bomb) (int, bool) {
	return ThrowBombExcept(p, bombs, nil)
}

// ThrowBombExcept 同 ThrowBomb，但跳过 skip 中的槽。
// 本步刚爆炸的槽要等爆炸消息发出之后才能复用
func ThrowBombExcept(p *Player, bombs []Bomb, skip map[int]bool) (int, bool) {
	for i := range bombs {
		b := &bombs[i]
		if b.Active() || skip[i] {
			continue
		}
		b.Position = Vector3{X: p.Position.X, Y: p.Position.Y, Z: bombThrowHeight}
		b.Velocity = Vector3{
			X: math.Cos(p.Direction),
			Y: math.Sin(p.Direction),
			Z: 0.5,
		}.Scale(BombThrowVelocity)
		b.Lifetime = BombLifetime
		return i, true
	}
	return 0, false
}

// UpdateBomb 积分一步抛物线。撞墙时反向对应水平分量，碰地板/天花板时反向竖直分量，
// 每次反弹整体速度乘以 BombDamp。返回本步是否跨过寿命 0 点（爆炸）。
func UpdateBomb(b *Bomb, t Terrain, dt float64) bool {
	if !b.Active() {
		return false
	}
	b.Lifetime -= dt
	b.Velocity.Z -= BombGravity * dt

	nx := b.Position.X + b.Velocity.X*dt
	ny := b.Position.Y + b.Velocity.Y*dt
	if t.Solid(Vector2{X: nx, Y: ny}) {
		if math.Floor(b.Position.X) != math.Floor(nx) {
			b.Velocity.X = -b.Velocity.X
		}
		if math.Floor(b.Position.Y) != math.Floor(ny) {
			b.Velocity.Y = -b.Velocity.Y
		}
		b.Velocity = b.Velocity.Scale(BombDamp)
	} else {
		size := t.Size()
		b.Position.X = ProperMod(nx, size.X)
		b.Position.Y = ProperMod(ny, size.Y)
	}

	nz := b.Position.Z + b.Velocity.Z*dt
	if nz < BombFloor || nz > BombCeiling {
		b.Velocity.Z = -b.Velocity.Z
		b.Velocity = b.Velocity.Scale(BombDamp)
	} else {
		b.Position.Z = nz
	}

	return b.Lifetime <= 0
}

// SpawnedMsg 当前状态的 BombSpawned 消息
func (b *Bomb) SpawnedMsg(index int) protocol.BombSpawnedMsg {
	return protocol.BombSpawnedMsg{
		Index:    uint32(index),
		X:        float32(b.Position.X),
		Y:        float32(b.Position.Y),
		Z:        float32(b.Position.Z),
		DX:       float32(b.Velocity.X),
		DY:       float32(b.Velocity.Y),
		DZ:       float32(b.Velocity.Z),
		Lifetime: float32(b.Lifetime),
	}
}

// ExplodedMsg 爆炸位置
func (b *Bomb) ExplodedMsg(index int) protocol.BombExplodedMsg {
	return protocol.BombExplodedMsg{
		Index: uint32(index),
		X:     float32(b.Position.X),
		Y:     float32(b.Position.Y),
		Z:     float32(b.Position.Z),
	}
}

// ApplySpawned 用服务端消息覆盖炸弹槽
func (b *Bomb) ApplySpawned(m protocol.BombSpawnedMsg) {
	b.Position = Vector3{X: float64(m.X), Y: float64(m.Y), Z: float64(m.Z)}
	b.Velocity = Vector3{X: float64(m.DX), Y: float64(m.DY), Z: float64(m.DZ)}
	b.Lifetime = float64(m.Lifetime)
}

// ApplyExploded 冻结在爆炸位置
func (b *Bomb) ApplyExploded(m protocol.BombExplodedMsg) {
	b.Position = Vector3{X: float64(m.X), Y: float64(m.Y), Z: float64(m.Z)}
	b.Lifetime = 0
}
