package sim

import (
	"math"

	"koil/protocol"
)

const (
	PlayerSpeed  = 2.0
	TurnSpeed    = math.Pi
	PlayerSize   = 0.5
	PlayerRadius = 0.5

	BombCapacity      = 20
	BombLifetime      = 2.0
	BombThrowVelocity = 5.0
	BombGravity       = 10.0
	BombDamp          = 0.8
	BombFloor         = 0.25
	BombCeiling       = 1.0
	bombThrowHeight   = 0.6
)

// Player 玩家实体，Moving 为 4 位移动掩码
type Player struct {
	ID        uint32
	Position  Vector2
	Direction float64
	Moving    uint8
	Hue       uint8
}

// IsMoving 检查掩码中的某一位
func (p *Player) IsMoving(bit uint8) bool { return p.Moving&(1<<bit) != 0 }

// SetMoving 置位或清位，返回新掩码
func SetMoving(mask, bit uint8, start bool) uint8 {
	if start {
		return mask | 1<<bit
	}
	return mask &^ (1 << bit)
}

// UpdatePlayer 按当前掩码积分一步：速度取转向前的朝向，随后更新朝向，
// 位置对世界尺寸取模回绕，每个轴单独做占用检测
func UpdatePlayer(p *Player, t Terrain, dt float64) {
	var vel Vector2
	var angular float64
	if p.IsMoving(protocol.MovingForward) {
		vel = vel.Add(Polar(PlayerSpeed, p.Direction))
	}
	if p.IsMoving(protocol.MovingBackward) {
		vel = vel.Sub(Polar(PlayerSpeed, p.Direction))
	}
	if p.IsMoving(protocol.TurningLeft) {
		angular -= TurnSpeed
	}
	if p.IsMoving(protocol.TurningRight) {
		angular += TurnSpeed
	}
	p.Direction = ProperMod(p.Direction+angular*dt, 2*math.Pi)

	size := t.Size()
	nx := ProperMod(p.Position.X+vel.X*dt, size.X)
	if t.CanOccupy(Vector2{X: nx, Y: p.Position.Y}) {
		p.Position.X = nx
	}
	ny := ProperMod(p.Position.Y+vel.Y*dt, size.Y)
	if t.CanOccupy(Vector2{X: p.Position.X, Y: ny}) {
		p.Position.Y = ny
	}
}

// Record 转为线上记录（32 位浮点）
func (p *Player) Record() protocol.Player {
	return protocol.Player{
		ID:        p.ID,
		X:         float32(p.Position.X),
		Y:         float32(p.Position.Y),
		Direction: float32(p.Direction),
		Hue:       p.Hue,
		Moving:    p.Moving,
	}
}

// ApplyRecord 用线上记录覆盖本地状态
func (p *Player) ApplyRecord(r protocol.Player) {
	p.ID = r.ID
	p.Position = Vector2{X: float64(r.X), Y: float64(r.Y)}
	p.Direction = float64(r.Direction)
	p.Hue = r.Hue
	p.Moving = r.Moving
}
