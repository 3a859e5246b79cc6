package protocol

// Kind 消息首字节标签
type Kind uint8

const (
	KindHello Kind = iota
	KindPlayersJoined
	KindPlayersLeft
	KindPlayersMoving
	KindAmmaMoving
	KindAmmaThrowing
	KindPing
	KindPong
	KindItemsSpawned
	KindItemsCollected
	KindBombSpawned
	KindBombExploded
	kindCount
)

var kindNames = [...]string{
	KindHello:          "Hello",
	KindPlayersJoined:  "PlayersJoined",
	KindPlayersLeft:    "PlayersLeft",
	KindPlayersMoving:  "PlayersMoving",
	KindAmmaMoving:     "AmmaMoving",
	KindAmmaThrowing:   "AmmaThrowing",
	KindPing:           "Ping",
	KindPong:           "Pong",
	KindItemsSpawned:   "ItemsSpawned",
	KindItemsCollected: "ItemsCollected",
	KindBombSpawned:    "BombSpawned",
	KindBombExploded:   "BombExploded",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "Bogus"
}

// 批量消息的头部只有 kind 一个字节
const batchHeaderSize = 1

type HelloLayout struct {
	Fixed
	ID        U32
	X         F32
	Y         F32
	Direction F32
	Hue       U8
}

type PlayerRecordLayout struct {
	ID        U32
	X         F32
	Y         F32
	Direction F32
	Hue       U8
	Moving    U8
	Size      int
}

type PlayerIDLayout struct {
	ID   U32
	Size int
}

type AmmaMovingLayout struct {
	Fixed
	Direction U8
	Start     U8
}

type PingLayout struct {
	Fixed
	Timestamp U32
}

type ItemSpawnedLayout struct {
	ItemKind U8
	Index    U32
	X        F32
	Y        F32
	Size     int
}

type ItemCollectedLayout struct {
	Index U32
	Size  int
}

type BombSpawnedLayout struct {
	Fixed
	Index    U32
	X        F32
	Y        F32
	Z        F32
	DX       F32
	DY       F32
	DZ       F32
	Lifetime F32
}

type BombExplodedLayout struct {
	Fixed
	Index U32
	X     F32
	Y     F32
	Z     F32
}

var Hello = func() (m HelloLayout) {
	var l Layout
	l.U8()
	m.ID = l.U32()
	m.X = l.F32()
	m.Y = l.F32()
	m.Direction = l.F32()
	m.Hue = l.U8()
	m.Fixed = l.Fixed(KindHello)
	return m
}()

var PlayerRecord = func() (m PlayerRecordLayout) {
	var l Layout
	m.ID = l.U32()
	m.X = l.F32()
	m.Y = l.F32()
	m.Direction = l.F32()
	m.Hue = l.U8()
	m.Moving = l.U8()
	m.Size = l.Size
	return m
}()

var PlayerID = func() (m PlayerIDLayout) {
	var l Layout
	m.ID = l.U32()
	m.Size = l.Size
	return m
}()

var AmmaMoving = func() (m AmmaMovingLayout) {
	var l Layout
	l.U8()
	m.Direction = l.U8()
	m.Start = l.U8()
	m.Fixed = l.Fixed(KindAmmaMoving)
	return m
}()

var AmmaThrowing = func() Fixed {
	var l Layout
	l.U8()
	return l.Fixed(KindAmmaThrowing)
}()

func pingLayout(tag Kind) (m PingLayout) {
	var l Layout
	l.U8()
	m.Timestamp = l.U32()
	m.Fixed = l.Fixed(tag)
	return m
}

var (
	Ping = pingLayout(KindPing)
	Pong = pingLayout(KindPong)
)

var ItemSpawned = func() (m ItemSpawnedLayout) {
	var l Layout
	m.ItemKind = l.U8()
	m.Index = l.U32()
	m.X = l.F32()
	m.Y = l.F32()
	m.Size = l.Size
	return m
}()

var ItemCollected = func() (m ItemCollectedLayout) {
	var l Layout
	m.Index = l.U32()
	m.Size = l.Size
	return m
}()

var BombSpawned = func() (m BombSpawnedLayout) {
	var l Layout
	l.U8()
	m.Index = l.U32()
	m.X = l.F32()
	m.Y = l.F32()
	m.Z = l.F32()
	m.DX = l.F32()
	m.DY = l.F32()
	m.DZ = l.F32()
	m.Lifetime = l.F32()
	m.Fixed = l.Fixed(KindBombSpawned)
	return m
}()

var BombExploded = func() (m BombExplodedLayout) {
	var l Layout
	l.U8()
	m.Index = l.U32()
	m.X = l.F32()
	m.Y = l.F32()
	m.Z = l.F32()
	m.Fixed = l.Fixed(KindBombExploded)
	return m
}()

var (
	PlayersJoined  = Batch{Tag: KindPlayersJoined, Header: batchHeaderSize, Item: PlayerRecord.Size}
	PlayersLeft    = Batch{Tag: KindPlayersLeft, Header: batchHeaderSize, Item: PlayerID.Size}
	PlayersMoving  = Batch{Tag: KindPlayersMoving, Header: batchHeaderSize, Item: PlayerRecord.Size}
	ItemsSpawned   = Batch{Tag: KindItemsSpawned, Header: batchHeaderSize, Item: ItemSpawned.Size}
	ItemsCollected = Batch{Tag: KindItemsCollected, Header: batchHeaderSize, Item: ItemCollected.Size}
)
