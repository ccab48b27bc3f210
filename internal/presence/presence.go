// Package presence tracks which members have a chat session open, per group.
// Counts are kept per user so several tabs of one user count once.
package presence

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "teamloom:presence:group:" // Redis Hash, field user_id -> open sessions

// leaveScript decrements and drops the field once it reaches zero.
var leaveScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// Tracker is safe to use with a nil client; it then tracks nothing.
type Tracker struct {
	rdb *redis.Client
}

func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

func key(groupID uint) string {
	return keyPrefix + strconv.FormatUint(uint64(groupID), 10)
}

func field(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// Join records one more open session for userID in groupID.
func (t *Tracker) Join(ctx context.Context, groupID, userID uint) error {
	if t == nil || t.rdb == nil {
		return nil
	}
	if err := t.rdb.HIncrBy(ctx, key(groupID), field(userID), 1).Err(); err != nil {
		return fmt.Errorf("presence join: %w", err)
	}
	return nil
}

// Leave records one session fewer.
func (t *Tracker) Leave(ctx context.Context, groupID, userID uint) error {
	if t == nil || t.rdb == nil {
		return nil
	}
	if err := leaveScript.Run(ctx, t.rdb, []string{key(groupID)}, field(userID)).Err(); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	return nil
}

// Online lists the users with at least one open session, ascending.
func (t *Tracker) Online(ctx context.Context, groupID uint) ([]uint, error) {
	if t == nil || t.rdb == nil {
		return []uint{}, nil
	}
	entries, err := t.rdb.HGetAll(ctx, key(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online: %w", err)
	}
	ids := make([]uint, 0, len(entries))
	for f, v := range entries {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		id, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	slices.Sort(ids)
	return ids, nil
}
