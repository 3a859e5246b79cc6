package server

// Registry 存活会话 + 本 Tick 的 Joined / Left / PendingPing 集合。
// 只在 Tick 线程内访问；三个集合在广播消费后清空，不会带到下一 Tick
type Registry struct {
	sessions map[uint32]*Session
	// 保持加入顺序，遍历结果稳定
	order []uint32

	joined []uint32
	left   []uint32
	pings  map[uint32]uint32
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint32]*Session),
		pings:    make(map[uint32]uint32),
	}
}

// Add 登记会话并记入 Joined
func (r *Registry) Add(s *Session) {
	id := s.Player.ID
	if _, ok := r.sessions[id]; ok {
		return
	}
	r.sessions[id] = s
	r.order = append(r.order, id)
	r.joined = append(r.joined, id)
}

// Remove 移除会话。同一 Tick 内加入又离开的会话只从 Joined 中删掉，
// 不产生 Left；重复移除无副作用
func (r *Registry) Remove(id uint32) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	delete(r.pings, id)
	r.order = removeID(r.order, id)
	if joined := removeID(r.joined, id); len(joined) < len(r.joined) {
		r.joined = joined
		return s, true
	}
	r.left = append(r.left, id)
	return s, true
}

func (r *Registry) Get(id uint32) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int { return len(r.sessions) }

// Sessions 按加入顺序返回
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// RecordPing 同一 Tick 多次 Ping 只保留最后一次时间戳
func (r *Registry) RecordPing(id, timestamp uint32) {
	if _, ok := r.sessions[id]; ok {
		r.pings[id] = timestamp
	}
}

func (r *Registry) Joined() []uint32         { return r.joined }
func (r *Registry) Left() []uint32           { return r.left }
func (r *Registry) Pings() map[uint32]uint32 { return r.pings }

// Drain 清空本 Tick 的集合
func (r *Registry) Drain() {
	r.joined = r.joined[:0]
	r.left = r.left[:0]
	for id := range r.pings {
		delete(r.pings, id)
	}
}

func removeID(ids []uint32, id uint32) []uint32 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
