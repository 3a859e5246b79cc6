package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty 空帧，连标签都读不到
	ErrEmpty = errors.New("protocol: empty frame")
	// ErrBogus 任何已知布局都校验不过的帧
	ErrBogus = errors.New("protocol: bogus message")
)

// 移动掩码位
const (
	MovingForward uint8 = iota
	MovingBackward
	TurningLeft
	TurningRight
	MovingCount
)

// Message 解码后的带标签联合
type Message interface {
	Kind() Kind
	// Marshal 按固定布局编码，返回新分配的缓冲
	Marshal() []byte
}

// Player 是 PlayersJoined / PlayersMoving 中的嵌入记录
type Player struct {
	ID        uint32
	X         float32
	Y         float32
	Direction float32
	Hue       uint8
	Moving    uint8
}

// Item 是 ItemsSpawned 中的记录
type Item struct {
	Kind  uint8
	Index uint32
	X     float32
	Y     float32
}

type HelloMsg struct {
	ID        uint32
	X         float32
	Y         float32
	Direction float32
	Hue       uint8
}

type PlayersJoinedMsg struct{ Players []Player }

type PlayersLeftMsg struct{ IDs []uint32 }

type PlayersMovingMsg struct{ Players []Player }

type AmmaMovingMsg struct {
	Direction uint8
	Start     bool
}

type AmmaThrowingMsg struct{}

type PingMsg struct{ Timestamp uint32 }

type PongMsg struct{ Timestamp uint32 }

type ItemsSpawnedMsg struct{ Items []Item }

type ItemsCollectedMsg struct{ Indices []uint32 }

type BombSpawnedMsg struct {
	Index      uint32
	X, Y, Z    float32
	DX, DY, DZ float32
	Lifetime   float32
}

type BombExplodedMsg struct {
	Index   uint32
	X, Y, Z float32
}

func (HelloMsg) Kind() Kind          { return KindHello }
func (PlayersJoinedMsg) Kind() Kind  { return KindPlayersJoined }
func (PlayersLeftMsg) Kind() Kind    { return KindPlayersLeft }
func (PlayersMovingMsg) Kind() Kind  { return KindPlayersMoving }
func (AmmaMovingMsg) Kind() Kind     { return KindAmmaMoving }
func (AmmaThrowingMsg) Kind() Kind   { return KindAmmaThrowing }
func (PingMsg) Kind() Kind           { return KindPing }
func (PongMsg) Kind() Kind           { return KindPong }
func (ItemsSpawnedMsg) Kind() Kind   { return KindItemsSpawned }
func (ItemsCollectedMsg) Kind() Kind { return KindItemsCollected }
func (BombSpawnedMsg) Kind() Kind    { return KindBombSpawned }
func (BombExplodedMsg) Kind() Kind   { return KindBombExploded }

func (m HelloMsg) Marshal() []byte {
	b := Hello.Alloc()
	Hello.ID.Set(b, m.ID)
	Hello.X.Set(b, m.X)
	Hello.Y.Set(b, m.Y)
	Hello.Direction.Set(b, m.Direction)
	Hello.Hue.Set(b, m.Hue)
	return b
}

func writePlayers(layout Batch, players []Player) []byte {
	b := layout.Alloc(len(players))
	for i, p := range players {
		rec := layout.At(b, i)
		PlayerRecord.ID.Set(rec, p.ID)
		PlayerRecord.X.Set(rec, p.X)
		PlayerRecord.Y.Set(rec, p.Y)
		PlayerRecord.Direction.Set(rec, p.Direction)
		PlayerRecord.Hue.Set(rec, p.Hue)
		PlayerRecord.Moving.Set(rec, p.Moving)
	}
	return b
}

func readPlayers(layout Batch, b []byte) []Player {
	n := layout.Count(b)
	players := make([]Player, n)
	for i := 0; i < n; i++ {
		rec := layout.At(b, i)
		players[i] = Player{
			ID:        PlayerRecord.ID.Get(rec),
			X:         PlayerRecord.X.Get(rec),
			Y:         PlayerRecord.Y.Get(rec),
			Direction: PlayerRecord.Direction.Get(rec),
			Hue:       PlayerRecord.Hue.Get(rec),
			Moving:    PlayerRecord.Moving.Get(rec),
		}
	}
	return players
}

func (m PlayersJoinedMsg) Marshal() []byte { return writePlayers(PlayersJoined, m.Players) }
func (m PlayersMovingMsg) Marshal() []byte { return writePlayers(PlayersMoving, m.Players) }

func (m PlayersLeftMsg) Marshal() []byte {
	b := PlayersLeft.Alloc(len(m.IDs))
	for i, id := range m.IDs {
		PlayerID.ID.Set(PlayersLeft.At(b, i), id)
	}
	return b
}

func (m AmmaMovingMsg) Marshal() []byte {
	b := AmmaMoving.Alloc()
	AmmaMoving.Direction.Set(b, m.Direction)
	if m.Start {
		AmmaMoving.Start.Set(b, 1)
	}
	return b
}

func (AmmaThrowingMsg) Marshal() []byte { return AmmaThrowing.Alloc() }

func (m PingMsg) Marshal() []byte {
	b := Ping.Alloc()
	Ping.Timestamp.Set(b, m.Timestamp)
	return b
}

func (m PongMsg) Marshal() []byte {
	b := Pong.Alloc()
	Pong.Timestamp.Set(b, m.Timestamp)
	return b
}

func (m ItemsSpawnedMsg) Marshal() []byte {
	b := ItemsSpawned.Alloc(len(m.Items))
	for i, it := range m.Items {
		rec := ItemsSpawned.At(b, i)
		ItemSpawned.ItemKind.Set(rec, it.Kind)
		ItemSpawned.Index.Set(rec, it.Index)
		ItemSpawned.X.Set(rec, it.X)
		ItemSpawned.Y.Set(rec, it.Y)
	}
	return b
}

func (m ItemsCollectedMsg) Marshal() []byte {
	b := ItemsCollected.Alloc(len(m.Indices))
	for i, idx := range m.Indices {
		ItemCollected.Index.Set(ItemsCollected.At(b, i), idx)
	}
	return b
}

func (m BombSpawnedMsg) Marshal() []byte {
	b := BombSpawned.Alloc()
	BombSpawned.Index.Set(b, m.Index)
	BombSpawned.X.Set(b, m.X)
	BombSpawned.Y.Set(b, m.Y)
	BombSpawned.Z.Set(b, m.Z)
	BombSpawned.DX.Set(b, m.DX)
	BombSpawned.DY.Set(b, m.DY)
	BombSpawned.DZ.Set(b, m.DZ)
	BombSpawned.Lifetime.Set(b, m.Lifetime)
	return b
}

func (m BombExplodedMsg) Marshal() []byte {
	b := BombExploded.Alloc()
	BombExploded.Index.Set(b, m.Index)
	BombExploded.X.Set(b, m.X)
	BombExploded.Y.Set(b, m.Y)
	BombExploded.Z.Set(b, m.Z)
	return b
}

// PeekKind 只读首字节标签
func PeekKind(b []byte) (Kind, error) {
	if len(b) == 0 {
		return 0, ErrEmpty
	}
	return Kind(b[0]), nil
}

// Decode 先读标签，再只校验并解码匹配的那一种负载
func Decode(b []byte) (Message, error) {
	kind, err := PeekKind(b)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindHello:
		if !Hello.Verify(b) {
			break
		}
		return HelloMsg{
			ID:        Hello.ID.Get(b),
			X:         Hello.X.Get(b),
			Y:         Hello.Y.Get(b),
			Direction: Hello.Direction.Get(b),
			Hue:       Hello.Hue.Get(b),
		}, nil
	case KindPlayersJoined:
		if !PlayersJoined.Verify(b) {
			break
		}
		return PlayersJoinedMsg{Players: readPlayers(PlayersJoined, b)}, nil
	case KindPlayersLeft:
		if !PlayersLeft.Verify(b) {
			break
		}
		n := PlayersLeft.Count(b)
		ids := make([]uint32, n)
		for i := range ids {
			ids[i] = PlayerID.ID.Get(PlayersLeft.At(b, i))
		}
		return PlayersLeftMsg{IDs: ids}, nil
	case KindPlayersMoving:
		if !PlayersMoving.Verify(b) {
			break
		}
		return PlayersMovingMsg{Players: readPlayers(PlayersMoving, b)}, nil
	case KindAmmaMoving:
		if !AmmaMoving.Verify(b) || AmmaMoving.Direction.Get(b) >= MovingCount {
			break
		}
		return AmmaMovingMsg{
			Direction: AmmaMoving.Direction.Get(b),
			Start:     AmmaMoving.Start.Get(b) != 0,
		}, nil
	case KindAmmaThrowing:
		if !AmmaThrowing.Verify(b) {
			break
		}
		return AmmaThrowingMsg{}, nil
	case KindPing:
		if !Ping.Verify(b) {
			break
		}
		return PingMsg{Timestamp: Ping.Timestamp.Get(b)}, nil
	case KindPong:
		if !Pong.Verify(b) {
			break
		}
		return PongMsg{Timestamp: Pong.Timestamp.Get(b)}, nil
	case KindItemsSpawned:
		if !ItemsSpawned.Verify(b) {
			break
		}
		n := ItemsSpawned.Count(b)
		items := make([]Item, n)
		for i := range items {
			rec := ItemsSpawned.At(b, i)
			items[i] = Item{
				Kind:  ItemSpawned.ItemKind.Get(rec),
				Index: ItemSpawned.Index.Get(rec),
				X:     ItemSpawned.X.Get(rec),
				Y:     ItemSpawned.Y.Get(rec),
			}
		}
		return ItemsSpawnedMsg{Items: items}, nil
	case KindItemsCollected:
		if !ItemsCollected.Verify(b) {
			break
		}
		n := ItemsCollected.Count(b)
		indices := make([]uint32, n)
		for i := range indices {
			indices[i] = ItemCollected.Index.Get(ItemsCollected.At(b, i))
		}
		return ItemsCollectedMsg{Indices: indices}, nil
	case KindBombSpawned:
		if !BombSpawned.Verify(b) {
			break
		}
		return BombSpawnedMsg{
			Index:    BombSpawned.Index.Get(b),
			X:        BombSpawned.X.Get(b),
			Y:        BombSpawned.Y.Get(b),
			Z:        BombSpawned.Z.Get(b),
			DX:       BombSpawned.DX.Get(b),
			DY:       BombSpawned.DY.Get(b),
			DZ:       BombSpawned.DZ.Get(b),
			Lifetime: BombSpawned.Lifetime.Get(b),
		}, nil
	case KindBombExploded:
		if !BombExploded.Verify(b) {
			break
		}
		return BombExplodedMsg{
			Index: BombExploded.Index.Get(b),
			X:     BombExploded.X.Get(b),
			Y:     BombExploded.Y.Get(b),
			Z:     BombExploded.Z.Get(b),
		}, nil
	}
	return nil, fmt.Errorf("%w: kind=%d len=%d", ErrBogus, kind, len(b))
}
