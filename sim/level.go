package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// Terrain 模拟对关卡几何的全部依赖，碰撞细节由实现方决定
type Terrain interface {
	// CanOccupy 玩家身体能否停在 p
	CanOccupy(p Vector2) bool
	// Solid p 所在的格子是否是墙
	Solid(p Vector2) bool
	// Size 世界尺寸，位置按它取模回绕
	Size() Vector2
}

// Scene 网格关卡，'#' 为墙
type Scene struct {
	Width  int
	Height int
	walls  []bool
}

// ParseScene 从等宽字符行解析网格
func ParseScene(rows []string) (*Scene, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("scene: no rows")
	}
	s := &Scene{Width: len(rows[0]), Height: len(rows)}
	s.walls = make([]bool, s.Width*s.Height)
	for y, row := range rows {
		if len(row) != s.Width {
			return nil, fmt.Errorf("scene: row %d has width %d, want %d", y, len(row), s.Width)
		}
		for x, c := range row {
			switch c {
			case '#':
				s.walls[y*s.Width+x] = true
			case '.':
			default:
				return nil, fmt.Errorf("scene: unexpected %q at %d,%d", c, x, y)
			}
		}
	}
	return s, nil
}

// Size 实现 Terrain
func (s *Scene) Size() Vector2 { return Vector2{X: float64(s.Width), Y: float64(s.Height)} }

// Solid 坐标先回绕再查格子
func (s *Scene) Solid(p Vector2) bool {
	x := int(math.Floor(ProperMod(p.X, float64(s.Width))))
	y := int(math.Floor(ProperMod(p.Y, float64(s.Height))))
	return s.walls[y*s.Width+x]
}

// CanOccupy 以 p 为中心、边长 PlayerSize 的正方形四角都不在墙里
func (s *Scene) CanOccupy(p Vector2) bool {
	h := PlayerSize / 2
	for _, c := range [4]Vector2{
		{X: p.X - h, Y: p.Y - h},
		{X: p.X + h, Y: p.Y - h},
		{X: p.X - h, Y: p.Y + h},
		{X: p.X + h, Y: p.Y + h},
	} {
		if s.Solid(c) {
			return false
		}
	}
	return true
}

// RandomSpawn 随机挑一个能站下的格子中心
func (s *Scene) RandomSpawn(rng *rand.Rand) Vector2 {
	for attempt := 0; attempt < 64; attempt++ {
		p := Vector2{
			X: float64(rng.Intn(s.Width)) + 0.5,
			Y: float64(rng.Intn(s.Height)) + 0.5,
		}
		if s.CanOccupy(p) {
			return p
		}
	}
	for i, wall := range s.walls {
		if !wall {
			return Vector2{X: float64(i%s.Width) + 0.5, Y: float64(i/s.Width) + 0.5}
		}
	}
	return Vector2{}
}

// Level 一局游戏的全部可变世界状态：场景 + 物品槽 + 炸弹槽
type Level struct {
	Scene *Scene
	Items []Item
	Bombs []Bomb
}

var defaultScene = []string{
	"..###..",
	".....#.",
	"#....#.",
	"#....#.",
	"#......",
	".###...",
	".......",
}

// DefaultLevel 每次返回一份独立副本
func DefaultLevel() *Level {
	scene, err := ParseScene(defaultScene)
	if err != nil {
		panic(err)
	}
	return &Level{
		Scene: scene,
		Items: []Item{
			{Kind: ItemBomb, Alive: true, Position: Vector2{X: 1.5, Y: 3.5}},
			{Kind: ItemKey, Alive: true, Position: Vector2{X: 2.5, Y: 1.5}},
			{Kind: ItemKey, Alive: true, Position: Vector2{X: 3, Y: 1.5}},
			{Kind: ItemKey, Alive: true, Position: Vector2{X: 3.5, Y: 1.5}},
			{Kind: ItemKey, Alive: true, Position: Vector2{X: 4, Y: 1.5}},
			{Kind: ItemKey, Alive: true, Position: Vector2{X: 4.5, Y: 1.5}},
		},
		Bombs: make([]Bomb, BombCapacity),
	}
}
