package protocol

import (
	"encoding/binary"
	"math"
)

// 所有多字节字段均为小端、无填充，偏移在定义时一次性算好

// U8 单字节字段
type U8 struct{ Off int }

func (f U8) Get(b []byte) uint8    { return b[f.Off] }
func (f U8) Set(b []byte, v uint8) { b[f.Off] = v }

// U16 双字节字段
type U16 struct{ Off int }

func (f U16) Get(b []byte) uint16    { return binary.LittleEndian.Uint16(b[f.Off:]) }
func (f U16) Set(b []byte, v uint16) { binary.LittleEndian.PutUint16(b[f.Off:], v) }

// U32 四字节无符号字段（id、计数、时间戳）
type U32 struct{ Off int }

func (f U32) Get(b []byte) uint32    { return binary.LittleEndian.Uint32(b[f.Off:]) }
func (f U32) Set(b []byte, v uint32) { binary.LittleEndian.PutUint32(b[f.Off:], v) }

// F32 32 位浮点字段
type F32 struct{ Off int }

func (f F32) Get(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[f.Off:]))
}

func (f F32) Set(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b[f.Off:], math.Float32bits(v))
}

// Layout 按声明顺序分配字段偏移
type Layout struct{ Size int }

func (l *Layout) U8() U8 {
	f := U8{Off: l.Size}
	l.Size++
	return f
}

func (l *Layout) U16() U16 {
	f := U16{Off: l.Size}
	l.Size += 2
	return f
}

func (l *Layout) U32() U32 {
	f := U32{Off: l.Size}
	l.Size += 4
	return f
}

func (l *Layout) F32() F32 {
	f := F32{Off: l.Size}
	l.Size += 4
	return f
}

// Fixed 定长消息：kind 标签 + 固定字段
type Fixed struct {
	Tag  Kind
	Size int
}

// Fixed 以当前累计长度收尾一个定长消息
func (l *Layout) Fixed(tag Kind) Fixed { return Fixed{Tag: tag, Size: l.Size} }

// Verify 精确长度 + 首字节标签
func (f Fixed) Verify(b []byte) bool {
	return len(b) == f.Size && Kind(b[0]) == f.Tag
}

// Alloc 分配缓冲并写入标签
func (f Fixed) Alloc() []byte {
	b := make([]byte, f.Size)
	b[0] = byte(f.Tag)
	return b
}

// Batch 为 "头部 + N 个定长记录" 的消息
type Batch struct {
	Tag    Kind
	Header int
	Item   int
}

// Verify 标签匹配且 (len-header) 能被记录长度整除
// 余数检查同时就是结构合法性检查
func (m Batch) Verify(b []byte) bool {
	return len(b) >= m.Header && Kind(b[0]) == m.Tag && (len(b)-m.Header)%m.Item == 0
}

// Count 返回记录数，调用前须已 Verify
func (m Batch) Count(b []byte) int { return (len(b) - m.Header) / m.Item }

// Alloc 分配可容纳 n 个记录的缓冲并写入标签
func (m Batch) Alloc(n int) []byte {
	b := make([]byte, m.Header+n*m.Item)
	b[0] = byte(m.Tag)
	return b
}

// At 返回第 i 个记录的子切片，记录字段偏移相对于它
func (m Batch) At(b []byte, i int) []byte {
	off := m.Header + i*m.Item
	return b[off : off+m.Item]
}
