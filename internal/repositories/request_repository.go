package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/TeamLoom/internal/models"
)

type RequestRepository struct {
	db *gorm.DB
}

// Resolution is the outcome written when a pending request is reviewed.
type Resolution struct {
	Status          models.RequestStatus
	ReviewerID      uint
	ResponseMessage string
	At              time.Time
}

func (r *RequestRepository) CreateJoin(ctx context.Context, req *models.JoinRequest) error {
	return translate(r.db.WithContext(ctx).Create(req).Error)
}

func (r *RequestRepository) GetJoin(ctx context.Context, id uint) (*models.JoinRequest, error) {
	var req models.JoinRequest
	if err := r.db.WithContext(ctx).Preload("User").First(&req, id).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *RequestRepository) HasPendingJoin(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.JoinRequest{}).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, models.StatusPending).
		Count(&count).Error
	return count > 0, translate(err)
}

// ListJoinByGroup lists a group's join requests, optionally filtered by status.
func (r *RequestRepository) ListJoinByGroup(ctx context.Context, groupID uint, status models.RequestStatus) ([]models.JoinRequest, error) {
	q := r.db.WithContext(ctx).Preload("User").Where("group_id = ?", groupID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []models.JoinRequest
	err := q.Order("created_at DESC").Find(&reqs).Error
	return reqs, translate(err)
}

func (r *RequestRepository) ListJoinByUser(ctx context.Context, userID uint) ([]models.JoinRequest, error) {
	var reqs []models.JoinRequest
	err := r.db.WithContext(ctx).Preload("Group").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&reqs).Error
	return reqs, translate(err)
}

// ResolveJoin moves a pending join request to a terminal status. It reports
// false when the request was no longer pending.
func (r *RequestRepository) ResolveJoin(ctx context.Context, id uint, res Resolution) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.JoinRequest{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]any{
			"status":           res.Status,
			"response_message": res.ResponseMessage,
			"reviewed_by_id":   res.ReviewerID,
			"reviewed_at":      res.At,
		})
	if tx.Error != nil {
		return false, translate(tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

func (r *RequestRepository) CreateLeave(ctx context.Context, req *models.LeaveRequest) error {
	return translate(r.db.WithContext(ctx).Create(req).Error)
}

func (r *RequestRepository) GetLeave(ctx context.Context, id uint) (*models.LeaveRequest, error) {
	var req models.LeaveRequest
	if err := r.db.WithContext(ctx).Preload("User").First(&req, id).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *RequestRepository) HasPendingLeave(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LeaveRequest{}).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, models.StatusPending).
		Count(&count).Error
	return count > 0, translate(err)
}

func (r *RequestRepository) ListLeaveByGroup(ctx context.Context, groupID uint, status models.RequestStatus) ([]models.LeaveRequest, error) {
	q := r.db.WithContext(ctx).Preload("User").Where("group_id = ?", groupID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reqs []models.LeaveRequest
	err := q.Order("created_at DESC").Find(&reqs).Error
	return reqs, translate(err)
}

// ResolveLeave mirrors ResolveJoin for leave requests.
func (r *RequestRepository) ResolveLeave(ctx context.Context, id uint, res Resolution) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.LeaveRequest{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]any{
			"status":         res.Status,
			"reviewed_by_id": res.ReviewerID,
			"reviewed_at":    res.At,
		})
	if tx.Error != nil {
		return false, translate(tx.Error)
	}
	return tx.RowsAffected == 1, nil
}
