package anon

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// 群内发言用随机马甲展示，真实用户名只出现在成员管理里。

var adjectives = []string{
	"Mysterious", "Curious", "Sneaky", "Whispering", "Silent", "Hidden",
	"Secret", "Shadow", "Midnight", "Cosmic", "Electric", "Neon",
	"Digital", "Phantom", "Mystic", "Enigmatic", "Stealthy", "Invisible",
	"Anonymous", "Unknown", "Wandering", "Lost", "Confused", "Wise",
	"Clever", "Funny", "Witty", "Sassy", "Bold", "Shy",
	"Quiet", "Loud", "Crazy", "Chill", "Cool",
}

var nouns = []string{
	"Cat", "Fox", "Wolf", "Owl", "Raven", "Tiger", "Lion", "Bear",
	"Eagle", "Dolphin", "Whale", "Shark", "Butterfly", "Dragon",
	"Phoenix", "Unicorn", "Ghost", "Spirit", "Angel", "Demon",
	"Ninja", "Warrior", "Knight", "Wizard", "Hacker", "Coder",
	"Gamer", "Artist", "Dreamer", "Thinker", "Wanderer", "Explorer",
	"Adventurer", "Rebel", "Hero", "Villain", "Joker", "Clown",
}

var avatarColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9", "#F8C471", "#82E0AA",
	"#F1948A", "#D7BDE2", "#A3E4D7", "#F9E79F", "#D5A6BD",
}

var avatarIcons = []string{
	"🎭", "👤", "🎪", "🎨", "🎯", "🎲", "🎸", "🎹", "🎺", "🎷",
	"🌟", "⭐", "✨", "🔥", "💫", "🌙", "☀️", "🌈", "⚡", "💎",
	"🦄", "🐺", "🦊", "🐱", "🐭", "🐰", "🐼", "🐻", "🦁", "🐯",
}

// Avatar 是前端绘制马甲头像需要的全部信息。
type Avatar struct {
	BackgroundColor string `json:"backgroundColor"`
	Icon            string `json:"icon"`
	TextColor       string `json:"textColor"`
}

// Identity 是一套完整的匿名马甲。
type Identity struct {
	Name   string
	Avatar Avatar
}

// NewIdentity 生成形如 "Mysterious Fox42" 的马甲和配套头像。
func NewIdentity() Identity {
	name := fmt.Sprintf("%s %s%d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(999)+1,
	)
	return Identity{
		Name: name,
		Avatar: Avatar{
			BackgroundColor: avatarColors[rand.IntN(len(avatarColors))],
			Icon:            avatarIcons[rand.IntN(len(avatarIcons))],
			TextColor:       "#FFFFFF",
		},
	}
}

// ParseAvatar 解析存储的头像 JSON，解析失败时退回默认头像。
func ParseAvatar(s string) Avatar {
	var a Avatar
	if err := json.Unmarshal([]byte(s), &a); err != nil || a.Icon == "" {
		return Avatar{BackgroundColor: "#4ECDC4", Icon: "👤", TextColor: "#FFFFFF"}
	}
	return a
}

// DefaultEmoji 是消息未携带马甲头像时的兜底。
const DefaultEmoji = "🐶"
