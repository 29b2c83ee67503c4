package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrCommunityNotFound = errors.New("community not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotMember         = errors.New("not a community member")
	ErrAlreadyMember     = errors.New("already a member")
	ErrCommunityLocked   = errors.New("community is locked")
	ErrNotAdmin          = errors.New("admin only")
	ErrNotAllowed        = errors.New("not allowed")
	ErrCreatorCantLeave  = errors.New("creator cannot leave community")

	ErrInvalidReason   = errors.New("invalid report reason")
	ErrAlreadyReported = errors.New("message already reported by this user")

	ErrVoteAlreadyActive = errors.New("delete vote already active")
	ErrNoActiveVote      = errors.New("no active delete vote")
	ErrVoteWindowActive  = errors.New("delete vote cannot be cancelled yet")

	ErrNothingPinned = errors.New("no pinned message")
)
