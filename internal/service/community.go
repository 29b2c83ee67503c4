package service

import (
	"errors"
	"time"

	"communities/internal/config"
	"communities/internal/models"
	"communities/internal/realtime"

	"gorm.io/gorm"
)

// CommunityService 封装社区（群聊房间）相关的业务逻辑：
// 创建、成员管理、设置以及过半数投票解散。
type CommunityService struct {
	db     *gorm.DB
	cfg    config.Config
	notify Notifier
}

func NewCommunityService(db *gorm.DB, cfg config.Config, notify Notifier) *CommunityService {
	return &CommunityService{db: db, cfg: cfg, notify: notify}
}

// CommunityDTO 是对外输出的社区数据。
type CommunityDTO struct {
	ID              uint       `json:"id"`
	Name            string     `json:"name"`
	Locked          bool       `json:"locked"`
	CreatedBy       uint       `json:"createdBy"`
	MemberCount     int64      `json:"memberCount"`
	PinnedMessageID *uint      `json:"pinnedMessageId,omitempty"`
	DeleteVoteAt    *time.Time `json:"deleteVoteStartedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func (s *CommunityService) toDTO(c *models.Community) (*CommunityDTO, error) {
	var count int64
	if err := s.db.Model(&models.CommunityMember{}).Where("community_id = ?", c.ID).Count(&count).Error; err != nil {
		return nil, err
	}
	return &CommunityDTO{
		ID:              c.ID,
		Name:            c.Name,
		Locked:          c.Locked,
		CreatedBy:       c.CreatedBy,
		MemberCount:     count,
		PinnedMessageID: c.PinnedMessageID,
		DeleteVoteAt:    c.DeleteVoteStartedAt,
		CreatedAt:       c.CreatedAt,
	}, nil
}

func (s *CommunityService) find(communityID uint) (*models.Community, error) {
	var c models.Community
	if err := s.db.First(&c, communityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommunityNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *CommunityService) isMember(communityID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&count).Error
	return count > 0, err
}

// existingUserIDs 过滤出库里真实存在的用户，顺便去重。
func (s *CommunityService) existingUserIDs(ids []uint) ([]uint, error) {
	seen := make(map[uint]struct{}, len(ids))
	deduped := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	if len(deduped) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.Select("id").Where("id IN ?", deduped).Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out, nil
}

// Create 建立新社区，创建者自动入群，受邀成员入群并各收到一条定向通知。
func (s *CommunityService) Create(creatorID uint, name string, memberIDs []uint) (*CommunityDTO, error) {
	invitees, err := s.existingUserIDs(memberIDs)
	if err != nil {
		return nil, err
	}

	community := models.Community{Name: name, CreatedBy: creatorID}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&community).Error; err != nil {
			return err
		}
		now := time.Now()
		members := []models.CommunityMember{{CommunityID: community.ID, UserID: creatorID, JoinedAt: now}}
		for _, id := range invitees {
			if id == creatorID {
				continue
			}
			members = append(members, models.CommunityMember{CommunityID: community.ID, UserID: id, JoinedAt: now})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}

	dto, err := s.toDTO(&community)
	if err != nil {
		return nil, err
	}
	for _, id := range invitees {
		if id == creatorID {
			continue
		}
		s.notify.NotifyUser(id, realtime.EvtCommunityCreated, dto)
	}
	return dto, nil
}

// Suggestions 返回用户尚未加入的社区，供发现页使用。
func (s *CommunityService) Suggestions(userID uint, limit int) ([]CommunityDTO, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var communities []models.Community
	sub := s.db.Model(&models.CommunityMember{}).
		Select("community_id").
		Where("user_id = ?", userID)
	if err := s.db.Where("id NOT IN (?)", sub).Order("id desc").Limit(limit).Find(&communities).Error; err != nil {
		return nil, err
	}
	out := make([]CommunityDTO, 0, len(communities))
	for i := range communities {
		dto, err := s.toDTO(&communities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *dto)
	}
	return out, nil
}

// Mine 返回用户已加入的社区列表。
func (s *CommunityService) Mine(userID uint) ([]CommunityDTO, error) {
	var communities []models.Community
	sub := s.db.Model(&models.CommunityMember{}).
		Select("community_id").
		Where("user_id = ?", userID)
	if err := s.db.Where("id IN (?)", sub).Order("id desc").Find(&communities).Error; err != nil {
		return nil, err
	}
	out := make([]CommunityDTO, 0, len(communities))
	for i := range communities {
		dto, err := s.toDTO(&communities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *dto)
	}
	return out, nil
}

// Profile 返回单个社区的详情。
func (s *CommunityService) Profile(communityID uint) (*CommunityDTO, error) {
	c, err := s.find(communityID)
	if err != nil {
		return nil, err
	}
	return s.toDTO(c)
}

// UpdateSettings 由管理员修改社区名称或锁定状态，nil 表示不改。
func (s *CommunityService) UpdateSettings(communityID, userID uint, name *string, locked *bool) (*CommunityDTO, error) {
	c, err := s.find(communityID)
	if err != nil {
		return nil, err
	}
	if c.CreatedBy != userID {
		return nil, ErrNotAdmin
	}
	updates := map[string]interface{}{}
	if name != nil && *name != "" {
		updates["name"] = *name
	}
	if locked != nil {
		updates["locked"] = *locked
	}
	if len(updates) > 0 {
		if err := s.db.Model(c).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.toDTO(c)
}

// AddMembers 由现有成员拉人入群，已在群内或不存在的用户跳过，
// 新成员各收到一条定向通知。返回实际新增的用户 ID。
func (s *CommunityService) AddMembers(communityID, userID uint, newIDs []uint) ([]uint, error) {
	c, err := s.find(communityID)
	if err != nil {
		return nil, err
	}
	ok, err := s.isMember(communityID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	candidates, err := s.existingUserIDs(newIDs)
	if err != nil {
		return nil, err
	}
	added := make([]uint, 0, len(candidates))
	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range candidates {
			var count int64
			if err := tx.Model(&models.CommunityMember{}).
				Where("community_id = ? AND user_id = ?", communityID, id).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			m := models.CommunityMember{CommunityID: communityID, UserID: id, JoinedAt: now}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			added = append(added, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		dto, err := s.toDTO(c)
		if err != nil {
			return nil, err
		}
		for _, id := range added {
			s.notify.NotifyUser(id, realtime.EvtCommunityCreated, dto)
		}
	}
	return added, nil
}

// Join 用户主动加入未锁定的社区。
func (s *CommunityService) Join(communityID, userID uint) error {
	c, err := s.find(communityID)
	if err != nil {
		return err
	}
	if c.Locked {
		return ErrCommunityLocked
	}
	ok, err := s.isMember(communityID, userID)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyMember
	}
	m := models.CommunityMember{CommunityID: communityID, UserID: userID, JoinedAt: time.Now()}
	return s.db.Create(&m).Error
}

// Leave 退出社区。创建者不能退出，只能走解散投票。
func (s *CommunityService) Leave(communityID, userID uint) error {
	c, err := s.find(communityID)
	if err != nil {
		return err
	}
	if c.CreatedBy == userID {
		return ErrCreatorCantLeave
	}
	ok, err := s.isMember(communityID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.CommunityMember{CommunityID: communityID, UserID: userID}).Error; err != nil {
			return err
		}
		// 已投的解散票随人一起失效。
		return tx.Delete(&models.DeleteVote{CommunityID: communityID, UserID: userID}).Error
	})
}

// VoteStatus 是一次投票操作后的结果快照。
type VoteStatus struct {
	CommunityID uint  `json:"communityId"`
	Votes       int64 `json:"votes"`
	Members     int64 `json:"members"`
	Voted       bool  `json:"voted"`
	Deleted     bool  `json:"deleted"`
}

// StartDeleteVote 由管理员发起解散投票，发起即投下第一票。
func (s *CommunityService) StartDeleteVote(communityID, userID uint) (*VoteStatus, error) {
	c, err := s.find(communityID)
	if err != nil {
		return nil, err
	}
	if c.CreatedBy != userID {
		return nil, ErrNotAdmin
	}
	if c.DeleteVoteStartedAt != nil {
		return nil, ErrVoteAlreadyActive
	}
	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(c).Update("delete_vote_started_at", now).Error; err != nil {
			return err
		}
		return tx.Create(&models.DeleteVote{CommunityID: communityID, UserID: userID, CreatedAt: now}).Error
	})
	if err != nil {
		return nil, err
	}
	c.DeleteVoteStartedAt = &now
	return s.settleVote(c)
}

// CancelDeleteVote 由管理员取消投票，冷静期内不允许反悔。
func (s *CommunityService) CancelDeleteVote(communityID, userID uint) error {
	c, err := s.find(communityID)
	if err != nil {
		return err
	}
	if c.CreatedBy != userID {
		return ErrNotAdmin
	}
	if c.DeleteVoteStartedAt == nil {
		return ErrNoActiveVote
	}
	window := time.Duration(s.cfg.DeleteVoteCancelHours) * time.Hour
	if time.Since(*c.DeleteVoteStartedAt) < window {
		return ErrVoteWindowActive
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(c).Update("delete_vote_started_at", nil).Error; err != nil {
			return err
		}
		return tx.Where("community_id = ?", communityID).Delete(&models.DeleteVote{}).Error
	})
}

// VoteDelete 成员对解散投票表态，重复调用即撤票。
// 赞成人数达到成员数一半及以上时社区连同数据一并删除并广播。
func (s *CommunityService) VoteDelete(communityID, userID uint) (*VoteStatus, error) {
	c, err := s.find(communityID)
	if err != nil {
		return nil, err
	}
	if c.DeleteVoteStartedAt == nil {
		return nil, ErrNoActiveVote
	}
	ok, err := s.isMember(communityID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	var existing int64
	if err := s.db.Model(&models.DeleteVote{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		if err := s.db.Delete(&models.DeleteVote{CommunityID: communityID, UserID: userID}).Error; err != nil {
			return nil, err
		}
	} else {
		v := models.DeleteVote{CommunityID: communityID, UserID: userID, CreatedAt: time.Now()}
		if err := s.db.Create(&v).Error; err != nil {
			return nil, err
		}
	}
	return s.settleVote(c)
}

// settleVote 统计票数，过半即执行删除并广播结果。
func (s *CommunityService) settleVote(c *models.Community) (*VoteStatus, error) {
	var votes, members int64
	if err := s.db.Model(&models.DeleteVote{}).Where("community_id = ?", c.ID).Count(&votes).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.CommunityMember{}).Where("community_id = ?", c.ID).Count(&members).Error; err != nil {
		return nil, err
	}

	status := &VoteStatus{CommunityID: c.ID, Votes: votes, Members: members}
	if members == 0 || votes*2 < members {
		return status, nil
	}

	if err := s.purge(c.ID); err != nil {
		return nil, err
	}
	status.Deleted = true
	s.notify.NotifyRoom(c.ID, realtime.EvtCommunityDeleted, map[string]uint{"communityId": c.ID})
	return status, nil
}

// purge 删除社区及其全部关联数据。
func (s *CommunityService) purge(communityID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var messageIDs []uint
		if err := tx.Model(&models.Message{}).
			Where("community_id = ?", communityID).
			Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			for _, m := range []interface{}{&models.Reaction{}, &models.Report{}, &models.MessageSeen{}} {
				if err := tx.Where("message_id IN ?", messageIDs).Delete(m).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("id IN ?", messageIDs).Delete(&models.Message{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("community_id = ?", communityID).Delete(&models.DeleteVote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("community_id = ?", communityID).Delete(&models.CommunityMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Community{}, communityID).Error
	})
}
