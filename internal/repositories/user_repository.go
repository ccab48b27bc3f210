package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Gopher0727/TeamLoom/internal/models"
)

const (
	userCacheKeyPrefix = "teamloom:user:" // Redis String, 值是 user JSON
	userCacheTTL       = time.Hour
)

type UserRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewUserRepository(db *gorm.DB, redis *redis.Client) *UserRepository {
	return &UserRepository{db: db, redis: redis}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return translate(r.db.WithContext(ctx).Omit("Profile").Create(user).Error)
}

func (r *UserRepository) CreateProfile(ctx context.Context, profile *models.Profile) error {
	return translate(r.db.WithContext(ctx).Create(profile).Error)
}

func (r *UserRepository) GetProfile(ctx context.Context, userID uint) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// GetByID 根据 ID 获取用户 (带缓存)，缓存中不含密码哈希
func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	key := fmt.Sprintf("%s%d", userCacheKeyPrefix, id)
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, key).Bytes(); err == nil {
			var user models.User
			if json.Unmarshal(val, &user) == nil {
				return &user, nil
			}
		}
	}

	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}

	if r.redis != nil {
		if data, err := json.Marshal(&user); err == nil {
			r.redis.Set(ctx, key, data, userCacheTTL)
		}
	}
	return &user, nil
}

// GetByEmail always reads the database; the password hash is needed here.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// Invalidate drops the cached copy of a user.
func (r *UserRepository) Invalidate(ctx context.Context, id uint) {
	if r.redis != nil {
		r.redis.Del(ctx, fmt.Sprintf("%s%d", userCacheKeyPrefix, id))
	}
}
