package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write hits a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrTransient covers lock contention, serialization failures and timeouts.
	ErrTransient = errors.New("transient storage failure")
)

// Gateway groups the repositories over one database handle. Inside
// Transaction every repository is bound to the same transaction.
type Gateway struct {
	db    *gorm.DB
	cache *redis.Client

	Groups        *GroupRepository
	Requests      *RequestRepository
	Messages      *MessageRepository
	Notifications *NotificationRepository
	Users         *UserRepository
	Activities    *ActivityRepository
}

// NewGateway binds repositories to db. cache may be nil.
func NewGateway(db *gorm.DB, cache *redis.Client) *Gateway {
	return &Gateway{
		db:            db,
		cache:         cache,
		Groups:        &GroupRepository{db: db},
		Requests:      &RequestRepository{db: db},
		Messages:      &MessageRepository{db: db},
		Notifications: &NotificationRepository{db: db},
		Users:         NewUserRepository(db, cache),
		Activities:    &ActivityRepository{db: db},
	}
}

// Transaction runs fn inside a database transaction. Errors returned by fn are
// passed through untouched; driver errors are translated.
func (g *Gateway) Transaction(ctx context.Context, fn func(tx *Gateway) error) error {
	var fnErr error
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(NewGateway(tx, g.cache))
		return fnErr
	})
	if fnErr != nil {
		return translate(fnErr)
	}
	return translate(err)
}

// DB exposes the underlying handle for health checks.
func (g *Gateway) DB() *gorm.DB {
	return g.db
}

func lockForUpdate(db *gorm.DB) *gorm.DB {
	// sqlite has no row locks; its writers are already serialized.
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// postgres SQLSTATE codes treated as retryable.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientCodes[pgErr.Code] {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
