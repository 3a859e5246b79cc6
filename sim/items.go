package sim

import "koil/protocol"

// ItemKind 物品类型
type ItemKind uint8

const (
	ItemKey ItemKind = iota
	ItemBomb
)

// Item 物品槽，下标即 id，进程内稳定
type Item struct {
	Kind     ItemKind
	Alive    bool
	Position Vector2
}

// CollectItems 对每个存活物品按玩家顺序检测距离，第一个进入半径的玩家拾取。
// 玩家顺序由调用方决定，同帧多人同时在范围内时结果依赖该顺序。
// 已死亡的物品直接跳过，所以重复调用不会产生重复记录。
func CollectItems(players []*Player, items []Item) []uint32 {
	var collected []uint32
	for i := range items {
		item := &items[i]
		if !item.Alive {
			continue
		}
		for _, p := range players {
			if p.Position.SqrDistance(item.Position) < PlayerRadius*PlayerRadius {
				item.Alive = false
				collected = append(collected, uint32(i))
				break
			}
		}
	}
	return collected
}

// CollectItem 把单个物品标记为死亡，已死亡返回 false
func CollectItem(items []Item, index int) bool {
	if index < 0 || index >= len(items) || !items[index].Alive {
		return false
	}
	items[index].Alive = false
	return true
}

// AliveRecords 存活物品的线上记录，用于新玩家的物品快照
func AliveRecords(items []Item) []protocol.Item {
	records := make([]protocol.Item, 0, len(items))
	for i, it := range items {
		if !it.Alive {
			continue
		}
		records = append(records, protocol.Item{
			Kind:  uint8(it.Kind),
			Index: uint32(i),
			X:     float32(it.Position.X),
			Y:     float32(it.Position.Y),
		})
	}
	return records
}
