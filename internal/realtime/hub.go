package realtime

import (
	"sort"
	"sync"

	"communities/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 是实时协调核心的唯一状态持有者：
//   - 在线登记表：用户 -> 当前连接（后来者覆盖，旧连接不强踢）
//   - 房间订阅：房间 -> 传输层连接集合，人数以此为准
//   - 成员簿记：房间 -> 用户集合，只用于断开时清理
//
// 所有方法持同一把锁短暂互斥执行，发送走各连接的缓冲 channel，
// 永不阻塞；缓冲满或目标不在线时静默丢弃（尽力投递，不排队不重试）。
type Hub struct {
	mu sync.Mutex

	clients   map[*Client]struct{}
	byUser    map[uint]*Client
	roomConns map[uint]map[*Client]struct{}
	roomUsers map[uint]map[uint]struct{}

	// 用户的成员簿记归属于哪个房间、哪条连接。迟到的旧连接断开
	// 不允许清掉新连接写下的记录。
	userRoom map[uint]roomEntry
}

type roomEntry struct {
	room  uint
	owner *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		byUser:    make(map[uint]*Client),
		roomConns: make(map[uint]map[*Client]struct{}),
		roomUsers: make(map[uint]map[uint]struct{}),
		userRoom:  make(map[uint]roomEntry),
	}
}

// Attach 登记一条新连接。带身份的连接覆盖该用户之前的登记；
// 匿名连接照常接入，只是不进在线名单。
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	metrics.WsConnections.Inc()
	if c.userID != 0 {
		h.byUser[c.userID] = c
		metrics.OnlineUsers.Set(float64(len(h.byUser)))
	}
	// 全量在线名单推给所有人，新连接也借此拿到当前名单。
	h.broadcastPresenceLocked()
}

// Detach 在连接关闭时同步清理房间订阅和在线登记。
// 若该用户已被更新的连接覆盖，登记表保持不动（容忍迟到的断开）。
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WsConnections.Dec()

	if room, left := h.leaveRoomLocked(c); left {
		h.broadcastRoomLocked(room, EvtOnlineCount, OnlineCount{RoomID: room, Count: h.occupancyLocked(room)}, nil)
	}

	if c.userID != 0 {
		// 登记表按连接 ID 判定归属：被更新连接覆盖过的旧连接，
		// 迟到的断开不清除登记。
		if cur, ok := h.byUser[c.userID]; ok && cur.id == c.id {
			delete(h.byUser, c.userID)
			metrics.OnlineUsers.Set(float64(len(h.byUser)))
			h.broadcastPresenceLocked()
		}
	}
}

// Join 把连接切换到指定房间。一条连接同时只订阅一间房：换房时
// 先退出旧房并广播旧房人数，再进新房广播新房人数，最后单播确认。
// 匿名连接允许订阅（能收到广播、计入人数），但不进成员簿记。
func (h *Hub) Join(c *Client, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if roomID == 0 {
		log.Debug().Str("conn_id", c.id.String()).Uint("user_id", c.userID).Msg("join with empty room id ignored")
		return
	}

	if c.room == roomID {
		// 重复加入同一房间：幂等，重发人数与确认。
		h.broadcastRoomLocked(roomID, EvtOnlineCount, OnlineCount{RoomID: roomID, Count: h.occupancyLocked(roomID)}, nil)
		h.sendLocked(c, EvtRoomJoined, RoomJoined{RoomID: roomID, Success: true})
		return
	}

	if prev, left := h.leaveRoomLocked(c); left {
		h.broadcastRoomLocked(prev, EvtOnlineCount, OnlineCount{RoomID: prev, Count: h.occupancyLocked(prev)}, nil)
	}

	conns := h.roomConns[roomID]
	if conns == nil {
		conns = make(map[*Client]struct{})
		h.roomConns[roomID] = conns
	}
	conns[c] = struct{}{}
	c.room = roomID

	if c.userID != 0 {
		// 一个用户同一时刻至多出现在一间房的成员簿记里。
		if e, ok := h.userRoom[c.userID]; ok {
			h.dropRoomUserLocked(e.room, c.userID)
		}
		users := h.roomUsers[roomID]
		if users == nil {
			users = make(map[uint]struct{})
			h.roomUsers[roomID] = users
		}
		users[c.userID] = struct{}{}
		h.userRoom[c.userID] = roomEntry{room: roomID, owner: c}
	}

	h.broadcastRoomLocked(roomID, EvtOnlineCount, OnlineCount{RoomID: roomID, Count: h.occupancyLocked(roomID)}, nil)
	h.sendLocked(c, EvtRoomJoined, RoomJoined{RoomID: roomID, Success: true})
}

// Leave 显式退出房间。连接没有订阅这间房时是 no-op。
func (h *Hub) Leave(c *Client, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if roomID == 0 || c.room != roomID {
		return
	}
	if room, left := h.leaveRoomLocked(c); left {
		h.broadcastRoomLocked(room, EvtOnlineCount, OnlineCount{RoomID: room, Count: h.occupancyLocked(room)}, nil)
	}
}

// Typing 把打字信号转给房间内除发送者外的所有连接。
// 不落库、不确认、不去重；匿名连接的信号直接丢弃。
func (h *Hub) Typing(c *Client, roomID uint, displayName string, isTyping bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if roomID == 0 || c.userID == 0 {
		return
	}
	if displayName == "" {
		displayName = c.username
	}
	h.broadcastRoomLocked(roomID, EvtUserTyping, UserTyping{
		UserID:      c.userID,
		DisplayName: displayName,
		IsTyping:    isTyping,
		RoomID:      roomID,
	}, c)
}

// NotifyRoom 供 CRUD 层调用：把事件广播给订阅该房间的全部连接。
// 调用方必须先完成持久化再调用，避免把库里还不存在的状态广播出去。
func (h *Hub) NotifyRoom(roomID uint, event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastRoomLocked(roomID, event, data, nil)
}

// NotifyUser 供 CRUD 层调用：定向投递给某个用户的当前连接。
// 用户不在线时静默丢弃。
func (h *Hub) NotifyUser(userID uint, event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.byUser[userID]
	if !ok {
		return
	}
	h.sendLocked(c, event, data)
}

// Occupancy 返回房间当前的传输层连接数，供 REST 接口复用。
func (h *Hub) Occupancy(roomID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.occupancyLocked(roomID)
}

// OnlineUserIDs 返回当前在线（非匿名）用户的有序快照。
func (h *Hub) OnlineUserIDs() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlineUserIDsLocked()
}

// RoomUserIDs 返回房间成员簿记的有序快照，仅测试与诊断使用；
// 人数一律以 Occupancy 为准。
func (h *Hub) RoomUserIDs(roomID uint) []uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	users := h.roomUsers[roomID]
	ids := make([]uint, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- 以下方法都要求调用方已持有 h.mu ---

func (h *Hub) occupancyLocked(roomID uint) int {
	return len(h.roomConns[roomID])
}

func (h *Hub) onlineUserIDsLocked() []uint {
	ids := make([]uint, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// leaveRoomLocked 把连接从当前房间摘掉，返回原房间号。
// 成员簿记只有写下这条记录的连接本人才能清除。
func (h *Hub) leaveRoomLocked(c *Client) (uint, bool) {
	if c.room == 0 {
		return 0, false
	}
	room := c.room
	c.room = 0

	if conns, ok := h.roomConns[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.roomConns, room)
		}
	}

	if c.userID != 0 {
		if e, ok := h.userRoom[c.userID]; ok && e.owner.id == c.id {
			h.dropRoomUserLocked(e.room, c.userID)
			delete(h.userRoom, c.userID)
		}
	}
	return room, true
}

func (h *Hub) dropRoomUserLocked(roomID, userID uint) {
	if users, ok := h.roomUsers[roomID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(h.roomUsers, roomID)
		}
	}
}

func (h *Hub) broadcastPresenceLocked() {
	b, err := encode(EvtOnlineUsers, h.onlineUserIDsLocked())
	if err != nil {
		log.Warn().Err(err).Msg("encode presence snapshot")
		return
	}
	metrics.EventsBroadcastTotal.WithLabelValues(EvtOnlineUsers).Inc()
	for c := range h.clients {
		h.deliverLocked(c, b)
	}
}

// broadcastRoomLocked 向房间内所有连接投递，except 不为空时跳过它。
func (h *Hub) broadcastRoomLocked(roomID uint, event string, data interface{}, except *Client) {
	conns := h.roomConns[roomID]
	if len(conns) == 0 {
		return
	}
	b, err := encode(event, data)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("encode room broadcast")
		return
	}
	metrics.EventsBroadcastTotal.WithLabelValues(event).Inc()
	for c := range conns {
		if c == except {
			continue
		}
		h.deliverLocked(c, b)
	}
}

func (h *Hub) sendLocked(c *Client, event string, data interface{}) {
	b, err := encode(event, data)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("encode unicast")
		return
	}
	metrics.EventsBroadcastTotal.WithLabelValues(event).Inc()
	h.deliverLocked(c, b)
}

func (h *Hub) deliverLocked(c *Client, b []byte) {
	select {
	case c.send <- b:
	default:
		// 消费慢的连接直接丢消息，不能让 hub 卡住。
		log.Debug().Str("conn_id", c.id.String()).Uint("user_id", c.userID).Msg("send buffer full, event dropped")
	}
}
