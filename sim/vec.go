package sim

import "math"

// Vector2 平面坐标
type Vector2 struct {
	X, Y float64
}

// Polar 由长度和角度构造向量
func Polar(length, angle float64) Vector2 {
	return Vector2{X: math.Cos(angle) * length, Y: math.Sin(angle) * length}
}

func (v Vector2) Add(o Vector2) Vector2     { return Vector2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vector2) Sub(o Vector2) Vector2     { return Vector2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vector2) Scale(s float64) Vector2   { return Vector2{X: v.X * s, Y: v.Y * s} }
func (v Vector2) SqrDistance(o Vector2) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return dx*dx + dy*dy
}

// Vector3 炸弹使用的三维坐标，Z 为离地高度
type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) Scale(s float64) Vector3 { return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// ProperMod 结果总在 [0, m) 内，用于环形世界回绕
func ProperMod(a, m float64) float64 {
	r := math.Mod(a, m)
	if r < 0 {
		r += m
	}
	// -tiny + m 可能舍入成 m
	if r >= m {
		r = 0
	}
	return r
}
