package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/TeamLoom/internal/models"
)

type MessageRepository struct {
	db *gorm.DB
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	return translate(r.db.WithContext(ctx).Create(msg).Error)
}

func (r *MessageRepository) Get(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).Preload("Sender").First(&msg, id).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// GetInGroup returns ErrNotFound when the message exists but belongs elsewhere.
func (r *MessageRepository) GetInGroup(ctx context.Context, groupID uint, id int64) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Preload("Sender").
		Where("id = ? AND group_id = ?", id, groupID).
		First(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// ListRecent 获取最近的未删除消息，按时间正序返回
func (r *MessageRepository) ListRecent(ctx context.Context, groupID uint, limit int, before *time.Time) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Preload("Sender").
		Where("group_id = ? AND is_deleted = ?", groupID, false)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var msgs []models.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, translate(err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Edit replaces the content of a live message.
func (r *MessageRepository) Edit(ctx context.Context, id int64, content string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"content": content, "is_edited": true, "edited_at": at})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete keeps the row and blanks its content.
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "content": models.DeletedMessageContent})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRead inserts a read receipt once. created is false when the receipt
// already existed; the original read_at is never overwritten.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID int64, userID uint, at time.Time) (created bool, err error) {
	read := models.MessageRead{MessageID: messageID, UserID: userID, ReadAt: at}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&read)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *MessageRepository) CountReads(ctx context.Context, messageID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MessageRead{}).Where("message_id = ?", messageID).Count(&n).Error
	return n, translate(err)
}

// CountUnread counts live messages from other members created since `since`
// that userID has no read receipt for.
func (r *MessageRepository) CountUnread(ctx context.Context, groupID, userID uint, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("group_id = ? AND is_deleted = ? AND sender_id <> ? AND created_at >= ?", groupID, false, userID, since).
		Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID).
		Count(&n).Error
	return n, translate(err)
}
