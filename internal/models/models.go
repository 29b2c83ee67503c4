package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Community 对应一个群聊房间，成员关系持久化在 CommunityMember。
// 置顶消息全群只保留一条，换新自动覆盖旧的。
type Community struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Locked    bool   `gorm:"not null;default:false"`
	CreatedBy uint   `gorm:"index;not null"`

	PinnedMessageID *uint
	PinnedBy        *uint
	PinnedAt        *time.Time

	// 删除投票：管理员发起后记录时间，过了冷静期才能取消。
	DeleteVoteStartedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommunityMember 是持久化的成员名单，负责鉴权；在线状态由 realtime 包单独维护。
type CommunityMember struct {
	CommunityID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID      uint `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt    time.Time
}

type Message struct {
	ID          uint `gorm:"primaryKey"`
	CommunityID uint `gorm:"index:idx_msg_community_id;not null"`
	SenderID    uint `gorm:"index;not null"`

	// 群内展示用的匿名马甲，与真实用户名解耦。
	SenderDisplayName  string `gorm:"size:64;not null"`
	SenderDisplayEmoji string `gorm:"size:16;not null;default:'🐶'"`

	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// Reaction 同一用户对同一消息的同一 emoji 只能有一条，再点就是取消。
type Reaction struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex:uniq_reaction,priority:1;not null"`
	UserID    uint   `gorm:"uniqueIndex:uniq_reaction,priority:2;not null"`
	Emoji     string `gorm:"uniqueIndex:uniq_reaction,priority:3;size:16;not null"`
	CreatedAt time.Time
}

// Report 每人对一条消息只能举报一次，数量达到阈值后消息被自动删除。
type Report struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex:uniq_report,priority:1;not null"`
	UserID    uint   `gorm:"uniqueIndex:uniq_report,priority:2;not null"`
	Reason    string `gorm:"size:32;not null"`
	CreatedAt time.Time
}

// DeleteVote 记录赞成解散社区的成员，占比过半即解散。
type DeleteVote struct {
	CommunityID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID      uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
}

type MessageSeen struct {
	MessageID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	SeenAt    time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
