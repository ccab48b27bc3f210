package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/Gopher0727/TeamLoom/internal/models"
)

type GroupRepository struct {
	db *gorm.DB
}

// Create 创建小组，调用方负责在同一事务中写入 leader 成员
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	return translate(r.db.WithContext(ctx).Create(group).Error)
}

func (r *GroupRepository) Get(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	if err := r.db.WithContext(ctx).Preload("Leader").First(&group, id).Error; err != nil {
		return nil, translate(err)
	}
	return &group, nil
}

// GetForUpdate loads the group row and, on postgres, locks it until the
// surrounding transaction ends. Capacity decisions are taken under this lock.
func (r *GroupRepository) GetForUpdate(ctx context.Context, id uint) (*models.Group, error) {
	var group models.Group
	if err := lockForUpdate(r.db.WithContext(ctx)).First(&group, id).Error; err != nil {
		return nil, translate(err)
	}
	return &group, nil
}

func (r *GroupRepository) UpdateStatus(ctx context.Context, id uint, status models.GroupStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByMember 获取用户所在的全部小组
func (r *GroupRepository) ListByMember(ctx context.Context, userID uint) ([]models.Group, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error; err != nil {
		return nil, translate(err)
	}
	if len(ids) == 0 {
		return []models.Group{}, nil
	}

	var groups []models.Group
	if err := r.db.WithContext(ctx).Preload("Leader").
		Where("id IN ?", ids).
		Order("created_at DESC").
		Find(&groups).Error; err != nil {
		return nil, translate(err)
	}
	return groups, nil
}

func (r *GroupRepository) AddMember(ctx context.Context, m *models.Membership) error {
	return translate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *GroupRepository) GetMembership(ctx context.Context, groupID, userID uint) (*models.Membership, error) {
	var m models.Membership
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// IsMember 检查用户是否为小组成员
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, translate(err)
}

// CountMembers is the only source of a group's member count.
func (r *GroupRepository) CountMembers(ctx context.Context, groupID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("group_id = ?", groupID).
		Count(&count).Error
	return count, translate(err)
}

// MemberCounts counts members for several groups in one query.
func (r *GroupRepository) MemberCounts(ctx context.Context, groupIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(groupIDs))
	if len(groupIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		GroupID uint
		N       int64
	}
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Select("group_id, COUNT(*) AS n").
		Where("group_id IN ?", groupIDs).
		Group("group_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, row := range rows {
		counts[row.GroupID] = row.N
	}
	return counts, nil
}

func (r *GroupRepository) ListMembers(ctx context.Context, groupID uint) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.WithContext(ctx).Preload("User").
		Where("group_id = ?", groupID).
		Order("joined_at ASC").
		Find(&members).Error
	return members, translate(err)
}

// DeleteMembership returns ErrNotFound when no row matched.
func (r *GroupRepository) DeleteMembership(ctx context.Context, groupID, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.Membership{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
