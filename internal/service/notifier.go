package service

// Notifier 是业务层向实时层推送事件的出口，*realtime.Hub 实现它。
// 业务操作一律先写库、提交成功后再通知，保证广播出去的状态在库里可查。
type Notifier interface {
	NotifyRoom(roomID uint, event string, data interface{})
	NotifyUser(userID uint, event string, data interface{})
}
