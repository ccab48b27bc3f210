package repositories

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/TeamLoom/internal/models"
)

type ActivityRepository struct {
	db *gorm.DB
}

// Record stores an activity once per EventID; redelivered events are ignored.
func (r *ActivityRepository) Record(ctx context.Context, a *models.GroupActivity) error {
	return translate(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(a).Error)
}

func (r *ActivityRepository) ListByGroup(ctx context.Context, groupID uint, limit int) ([]models.GroupActivity, error) {
	var list []models.GroupActivity
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("occurred_at DESC").Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, translate(err)
}
