package service

import (
	"errors"
	"time"

	"communities/internal/anon"
	"communities/internal/config"
	"communities/internal/metrics"
	"communities/internal/models"
	"communities/internal/realtime"

	"gorm.io/gorm"
)

// MessageService 封装消息相关的业务逻辑：发送、删除、表情回应、
// 举报自动删除、置顶和已读。每个写操作先落库，成功后再广播。
type MessageService struct {
	db     *gorm.DB
	cfg    config.Config
	notify Notifier
}

func NewMessageService(db *gorm.DB, cfg config.Config, notify Notifier) *MessageService {
	return &MessageService{db: db, cfg: cfg, notify: notify}
}

// validReasons 是举报理由白名单。
var validReasons = map[string]struct{}{
	"spam":          {},
	"inappropriate": {},
	"harassment":    {},
	"fake":          {},
	"other":         {},
}

// MessageDTO 是对外输出的消息数据，广播与 REST 共用。
type MessageDTO struct {
	ID                 uint              `json:"id"`
	CommunityID        uint              `json:"communityId"`
	SenderID           uint              `json:"senderId"`
	SenderDisplayName  string            `json:"senderDisplayName"`
	SenderDisplayEmoji string            `json:"senderDisplayEmoji"`
	Content            string            `json:"content"`
	Reactions          map[string][]uint `json:"reactions"`
	Pinned             bool              `json:"pinned"`
	CreatedAt          time.Time         `json:"createdAt"`
}

func (s *MessageService) findMessage(messageID uint) (*models.Message, error) {
	var m models.Message
	if err := s.db.First(&m, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MessageService) findCommunity(communityID uint) (*models.Community, error) {
	var c models.Community
	if err := s.db.First(&c, communityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommunityNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *MessageService) requireMember(communityID, userID uint) error {
	var count int64
	err := s.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotMember
	}
	return nil
}

// reactionsFor 批量查询一组消息的回应，按 emoji 归并出用户列表。
func (s *MessageService) reactionsFor(messageIDs []uint) (map[uint]map[string][]uint, error) {
	out := make(map[uint]map[string][]uint, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var reactions []models.Reaction
	if err := s.db.Where("message_id IN ?", messageIDs).Order("id").Find(&reactions).Error; err != nil {
		return nil, err
	}
	for _, r := range reactions {
		byEmoji := out[r.MessageID]
		if byEmoji == nil {
			byEmoji = make(map[string][]uint)
			out[r.MessageID] = byEmoji
		}
		byEmoji[r.Emoji] = append(byEmoji[r.Emoji], r.UserID)
	}
	return out, nil
}

func (s *MessageService) toDTO(m *models.Message, reactions map[string][]uint, pinnedID *uint) MessageDTO {
	if reactions == nil {
		reactions = map[string][]uint{}
	}
	return MessageDTO{
		ID:                 m.ID,
		CommunityID:        m.CommunityID,
		SenderID:           m.SenderID,
		SenderDisplayName:  m.SenderDisplayName,
		SenderDisplayEmoji: m.SenderDisplayEmoji,
		Content:            m.Content,
		Reactions:          reactions,
		Pinned:             pinnedID != nil && *pinnedID == m.ID,
		CreatedAt:          m.CreatedAt,
	}
}

// refreshDTO 重新读出消息的完整视图，用于回应变化后的广播。
func (s *MessageService) refreshDTO(messageID uint) (*MessageDTO, error) {
	m, err := s.findMessage(messageID)
	if err != nil {
		return nil, err
	}
	c, err := s.findCommunity(m.CommunityID)
	if err != nil {
		return nil, err
	}
	reactions, err := s.reactionsFor([]uint{m.ID})
	if err != nil {
		return nil, err
	}
	dto := s.toDTO(m, reactions[m.ID], c.PinnedMessageID)
	return &dto, nil
}

// Send 以成员的匿名马甲身份发消息。马甲未指定时现场生成一套。
// 落库成功后向房间广播完整消息。
func (s *MessageService) Send(communityID, senderID uint, content, displayName, displayEmoji string) (*MessageDTO, error) {
	if _, err := s.findCommunity(communityID); err != nil {
		return nil, err
	}
	if err := s.requireMember(communityID, senderID); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = anon.NewIdentity().Name
	}
	if displayEmoji == "" {
		displayEmoji = anon.DefaultEmoji
	}

	m := models.Message{
		CommunityID:        communityID,
		SenderID:           senderID,
		SenderDisplayName:  displayName,
		SenderDisplayEmoji: displayEmoji,
		Content:            content,
	}
	if err := s.db.Create(&m).Error; err != nil {
		return nil, err
	}
	metrics.MessagesTotal.Inc()

	dto := s.toDTO(&m, nil, nil)
	s.notify.NotifyRoom(communityID, realtime.EvtNewMessage, dto)
	return &dto, nil
}

// List 分页查询社区消息（成员可见），按 id 升序返回并附带回应。
func (s *MessageService) List(communityID, userID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	c, err := s.findCommunity(communityID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(communityID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.Where("community_id = ?", communityID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	reactions, err := s.reactionsFor(ids)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, s.toDTO(&msgs[i], reactions[msgs[i].ID], c.PinnedMessageID))
	}
	return out, nil
}

// Delete 删除自己发的消息并广播。非发送者一律拒绝。
func (s *MessageService) Delete(messageID, userID uint) error {
	m, err := s.findMessage(messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return ErrNotAllowed
	}
	if err := s.remove(m); err != nil {
		return err
	}
	s.notify.NotifyRoom(m.CommunityID, realtime.EvtMessageDeleted, map[string]uint{
		"messageId":   m.ID,
		"communityId": m.CommunityID,
	})
	return nil
}

// ToggleReaction 对消息点一个 emoji，已点过则取消。
// 变化后的完整消息广播给房间。
func (s *MessageService) ToggleReaction(messageID, userID uint, emoji string) (*MessageDTO, error) {
	m, err := s.findMessage(messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(m.CommunityID, userID); err != nil {
		return nil, err
	}

	var existing models.Reaction
	err = s.db.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&existing).Error
	switch {
	case err == nil:
		if err := s.db.Delete(&existing).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		r := models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
		if err := s.db.Create(&r).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	dto, err := s.refreshDTO(messageID)
	if err != nil {
		return nil, err
	}
	s.notify.NotifyRoom(m.CommunityID, realtime.EvtReactionUpdate, dto)
	return dto, nil
}

// ReportResult 是一次举报后的状态。
type ReportResult struct {
	MessageID uint  `json:"messageId"`
	Reports   int64 `json:"reports"`
	Deleted   bool  `json:"deleted"`
}

// Report 举报消息，每人一次。举报数达到阈值时消息被删除并广播。
func (s *MessageService) Report(messageID, userID uint, reason string) (*ReportResult, error) {
	if _, ok := validReasons[reason]; !ok {
		return nil, ErrInvalidReason
	}
	m, err := s.findMessage(messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(m.CommunityID, userID); err != nil {
		return nil, err
	}

	var existing int64
	if err := s.db.Model(&models.Report{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrAlreadyReported
	}
	r := models.Report{MessageID: messageID, UserID: userID, Reason: reason}
	if err := s.db.Create(&r).Error; err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.Model(&models.Report{}).Where("message_id = ?", messageID).Count(&total).Error; err != nil {
		return nil, err
	}
	result := &ReportResult{MessageID: messageID, Reports: total}
	if total < int64(s.cfg.ReportAutoDeleteThreshold) {
		return result, nil
	}

	if err := s.remove(m); err != nil {
		return nil, err
	}
	result.Deleted = true
	s.notify.NotifyRoom(m.CommunityID, realtime.EvtMessageDeleted, map[string]uint{
		"messageId":   m.ID,
		"communityId": m.CommunityID,
	})
	return result, nil
}

// Pin 由成员置顶社区内的消息。全群只保留一条，换新覆盖旧的。
func (s *MessageService) Pin(communityID, messageID, userID uint) (*MessageDTO, error) {
	c, err := s.findCommunity(communityID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(communityID, userID); err != nil {
		return nil, err
	}
	m, err := s.findMessage(messageID)
	if err != nil {
		return nil, err
	}
	if m.CommunityID != communityID {
		return nil, ErrMessageNotFound
	}

	now := time.Now()
	if err := s.db.Model(c).Updates(map[string]interface{}{
		"pinned_message_id": messageID,
		"pinned_by":         userID,
		"pinned_at":         now,
	}).Error; err != nil {
		return nil, err
	}

	reactions, err := s.reactionsFor([]uint{messageID})
	if err != nil {
		return nil, err
	}
	dto := s.toDTO(m, reactions[messageID], &messageID)
	s.notify.NotifyRoom(communityID, realtime.EvtMessagePinned, map[string]interface{}{
		"communityId": communityID,
		"pinnedBy":    userID,
		"message":     dto,
	})
	return &dto, nil
}

// Unpin 取消置顶，仅管理员、置顶者或消息发送者可操作。
func (s *MessageService) Unpin(communityID, userID uint) error {
	c, err := s.findCommunity(communityID)
	if err != nil {
		return err
	}
	if c.PinnedMessageID == nil {
		return ErrNothingPinned
	}

	allowed := c.CreatedBy == userID
	if !allowed && c.PinnedBy != nil && *c.PinnedBy == userID {
		allowed = true
	}
	if !allowed {
		if m, err := s.findMessage(*c.PinnedMessageID); err == nil && m.SenderID == userID {
			allowed = true
		}
	}
	if !allowed {
		return ErrNotAllowed
	}

	if err := s.clearPin(s.db, communityID); err != nil {
		return err
	}
	s.notify.NotifyRoom(communityID, realtime.EvtMessageUnpinned, map[string]uint{"communityId": communityID})
	return nil
}

// MarkSeen 记录用户读到了这条消息，重复标记幂等。
func (s *MessageService) MarkSeen(messageID, userID uint) error {
	m, err := s.findMessage(messageID)
	if err != nil {
		return err
	}
	if err := s.requireMember(m.CommunityID, userID); err != nil {
		return err
	}
	var count int64
	if err := s.db.Model(&models.MessageSeen{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	seen := models.MessageSeen{MessageID: messageID, UserID: userID, SeenAt: time.Now()}
	return s.db.Create(&seen).Error
}

// UnseenCount 统计社区内用户还没读过的别人的消息数。
func (s *MessageService) UnseenCount(communityID, userID uint) (int64, error) {
	if _, err := s.findCommunity(communityID); err != nil {
		return 0, err
	}
	if err := s.requireMember(communityID, userID); err != nil {
		return 0, err
	}
	seen := s.db.Model(&models.MessageSeen{}).
		Select("message_id").
		Where("user_id = ?", userID)
	var count int64
	err := s.db.Model(&models.Message{}).
		Where("community_id = ? AND sender_id <> ?", communityID, userID).
		Where("id NOT IN (?)", seen).
		Count(&count).Error
	return count, err
}

// remove 删除一条消息及其关联行，若正被置顶则顺带撤销置顶。
func (s *MessageService) remove(m *models.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, rel := range []interface{}{&models.Reaction{}, &models.Report{}, &models.MessageSeen{}} {
			if err := tx.Where("message_id = ?", m.ID).Delete(rel).Error; err != nil {
				return err
			}
		}
		var c models.Community
		if err := tx.First(&c, m.CommunityID).Error; err == nil {
			if c.PinnedMessageID != nil && *c.PinnedMessageID == m.ID {
				if err := s.clearPin(tx, c.ID); err != nil {
					return err
				}
			}
		}
		return tx.Delete(&models.Message{}, m.ID).Error
	})
}

func (s *MessageService) clearPin(db *gorm.DB, communityID uint) error {
	return db.Model(&models.Community{}).Where("id = ?", communityID).Updates(map[string]interface{}{
		"pinned_message_id": nil,
		"pinned_by":         nil,
		"pinned_at":         nil,
	}).Error
}
