package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"communities/internal/auth"
	"communities/internal/realtime"
	"communities/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc      *service.UserService
	communitySvc *service.CommunityService
	msgSvc       *service.MessageService
	hub          *realtime.Hub
}

func NewHandler(userSvc *service.UserService, communitySvc *service.CommunityService, msgSvc *service.MessageService, hub *realtime.Hub) *Handler {
	return &Handler{userSvc: userSvc, communitySvc: communitySvc, msgSvc: msgSvc, hub: hub}
}

// fail 把业务错误映射为 HTTP 状态码，未识别的错误记日志并回 500。
func fail(c *gin.Context, err error, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrCommunityNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrNothingPinned):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrNotAdmin),
		errors.Is(err, service.ErrNotAllowed),
		errors.Is(err, service.ErrCreatorCantLeave),
		errors.Is(err, service.ErrCommunityLocked):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyMember),
		errors.Is(err, service.ErrAlreadyReported),
		errors.Is(err, service.ErrVoteAlreadyActive),
		errors.Is(err, service.ErrVoteWindowActive):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidReason),
		errors.Is(err, service.ErrNoActiveVote):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// Me 返回当前登录用户，前端用它校验 token 是否仍然有效。
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": gin.H{
		"id":       auth.GetUserID(c),
		"username": auth.GetUsername(c),
	}})
}

// CreateCommunity 创建社区，请求体可带初始成员。
func (h *Handler) CreateCommunity(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Members []uint `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid community name"})
		return
	}
	dto, err := h.communitySvc.Create(auth.GetUserID(c), req.Name, req.Members)
	if err != nil {
		fail(c, err, "create community")
		return
	}
	c.JSON(http.StatusOK, gin.H{"community": dto})
}

// MyCommunities 返回当前用户加入的社区。
func (h *Handler) MyCommunities(c *gin.Context) {
	out, err := h.communitySvc.Mine(auth.GetUserID(c))
	if err != nil {
		fail(c, err, "list communities")
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": out})
}

// Suggestions 返回当前用户未加入的社区。
func (h *Handler) Suggestions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	out, err := h.communitySvc.Suggestions(auth.GetUserID(c), limit)
	if err != nil {
		fail(c, err, "community suggestions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"communities": out})
}

// CommunityProfile 返回社区详情和当前在线连接数。
func (h *Handler) CommunityProfile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	dto, err := h.communitySvc.Profile(id)
	if err != nil {
		fail(c, err, "community profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"community": dto, "online": h.hub.Occupancy(id)})
}

// UpdateSettings 由管理员修改社区设置。
func (h *Handler) UpdateSettings(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name   *string `json:"name"`
		Locked *bool   `json:"locked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.communitySvc.UpdateSettings(id, auth.GetUserID(c), req.Name, req.Locked)
	if err != nil {
		fail(c, err, "update settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"community": dto})
}

// AddMembers 成员拉人入群。
func (h *Handler) AddMembers(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Members []uint `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Members) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	added, err := h.communitySvc.AddMembers(id, auth.GetUserID(c), req.Members)
	if err != nil {
		fail(c, err, "add members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// JoinCommunity 用户主动加入社区。
func (h *Handler) JoinCommunity(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.communitySvc.Join(id, auth.GetUserID(c)); err != nil {
		fail(c, err, "join community")
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true})
}

// LeaveCommunity 用户退出社区。
func (h *Handler) LeaveCommunity(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.communitySvc.Leave(id, auth.GetUserID(c)); err != nil {
		fail(c, err, "leave community")
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// StartDeleteVote 管理员发起解散投票。
func (h *Handler) StartDeleteVote(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	status, err := h.communitySvc.StartDeleteVote(id, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "start delete vote")
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote": status})
}

// CancelDeleteVote 管理员取消解散投票（过了冷静期才允许）。
func (h *Handler) CancelDeleteVote(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.communitySvc.CancelDeleteVote(id, auth.GetUserID(c)); err != nil {
		fail(c, err, "cancel delete vote")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// VoteDelete 成员表态，重复调用撤票。
func (h *Handler) VoteDelete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	status, err := h.communitySvc.VoteDelete(id, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "vote delete")
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote": status})
}

// SendMessage 以匿名马甲发消息。
func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content      string `json:"content"`
		DisplayName  string `json:"displayName"`
		DisplayEmoji string `json:"displayEmoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || len(req.Content) > 4096 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid content"})
		return
	}
	dto, err := h.msgSvc.Send(id, auth.GetUserID(c), req.Content, req.DisplayName, req.DisplayEmoji)
	if err != nil {
		fail(c, err, "send message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": dto})
}

// ListMessages 分页查询社区消息。
func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.List(id, auth.GetUserID(c), limit, beforeID)
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// DeleteMessage 删除自己发的消息。
func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.msgSvc.Delete(id, auth.GetUserID(c)); err != nil {
		fail(c, err, "delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ToggleReaction 对消息点/取消一个 emoji。
func (h *Handler) ToggleReaction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Emoji == "" || len(req.Emoji) > 16 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.msgSvc.ToggleReaction(id, auth.GetUserID(c), req.Emoji)
	if err != nil {
		fail(c, err, "toggle reaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": dto})
}

// ReportMessage 举报消息。
func (h *Handler) ReportMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.msgSvc.Report(id, auth.GetUserID(c), req.Reason)
	if err != nil {
		fail(c, err, "report message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": result})
}

// PinMessage 置顶消息。
func (h *Handler) PinMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		MessageID uint `json:"messageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MessageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	dto, err := h.msgSvc.Pin(id, req.MessageID, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "pin message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": dto})
}

// UnpinMessage 取消置顶。
func (h *Handler) UnpinMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.msgSvc.Unpin(id, auth.GetUserID(c)); err != nil {
		fail(c, err, "unpin message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unpinned": true})
}

// MarkSeen 标记消息已读。
func (h *Handler) MarkSeen(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.msgSvc.MarkSeen(id, auth.GetUserID(c)); err != nil {
		fail(c, err, "mark seen")
		return
	}
	c.JSON(http.StatusOK, gin.H{"seen": true})
}

// UnseenCount 统计未读消息数。
func (h *Handler) UnseenCount(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	count, err := h.msgSvc.UnseenCount(id, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "unseen count")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unseen": count})
}
