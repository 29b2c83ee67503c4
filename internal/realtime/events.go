package realtime

import "encoding/json"

// 线格式：双向统一 {"event": <名字>, "data": <负载>} 信封，
// CRUD 层透传的负载对 hub 来说是不透明的。

// 客户端上行事件。
const (
	EvtJoinRoom  = "joinCommunityRoom"
	EvtLeaveRoom = "leaveCommunityRoom"
	EvtTyping    = "communityTyping"
)

// 服务端下行事件。
const (
	EvtOnlineUsers = "getOnlineUsers"
	EvtOnlineCount = "communityOnlineCount"
	EvtRoomJoined  = "roomJoined"
	EvtUserTyping  = "communityUserTyping"
)

// CRUD 层通过 NotifyRoom/NotifyUser 透传的事件。
const (
	EvtNewMessage       = "newCommunityMessage"
	EvtMessageDeleted   = "communityMessageDeleted"
	EvtReactionUpdate   = "messageReactionUpdate"
	EvtCommunityCreated = "newCommunityCreated"
	EvtMessagePinned    = "communityMessagePinned"
	EvtMessageUnpinned  = "communityMessageUnpinned"
	EvtCommunityDeleted = "communityDeleted"
)

// Envelope 是上行消息的外壳，data 延迟解析。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	RoomID uint `json:"roomId"`
}

type typingPayload struct {
	RoomID      uint   `json:"roomId"`
	IsTyping    bool   `json:"isTyping"`
	DisplayName string `json:"displayName"`
}

// OnlineCount 在每次影响房间人数的加入/离开/断开后广播给房间内所有连接。
type OnlineCount struct {
	RoomID uint `json:"roomId"`
	Count  int  `json:"count"`
}

// RoomJoined 单播给发起加入的连接作为确认。
type RoomJoined struct {
	RoomID  uint `json:"roomId"`
	Success bool `json:"success"`
}

// UserTyping 转发给房间内除发送者外的所有连接。
type UserTyping struct {
	UserID      uint   `json:"userId"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
	RoomID      uint   `json:"roomId"`
}

type outEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outEnvelope{Event: event, Data: data})
}
