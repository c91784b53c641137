package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Backend is the order store contract shared by every backend.
type Backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID string, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, userID string, nt domain.NewTask) (domain.Task, error)
	ReorderColumn(ctx context.Context, userID string, col domain.Column, ids []int64) error
	ApplyMove(ctx context.Context, userID string, id int64, m domain.Move) (domain.Task, error)
	SetLifecycle(ctx context.Context, userID string, id int64, l domain.Lifecycle) (domain.Task, error)
}

// storeIfCurrentScript writes ARGV[2] to KEYS[1] only while the generation in
// KEYS[2] still equals ARGV[1], the value read before the backend fetch. A
// write that bumped the generation in between makes the fetched list stale.
var storeIfCurrentScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// generationTTL keeps a user's generation counter well past any in-flight read.
const generationTTL = 24 * time.Hour

// Cache wraps a Backend with a Redis read-through cache of the user's task
// list. Every successful write bumps the user's generation and evicts the
// entry, so a read that overlapped the write cannot repopulate it.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, userID); ok {
		return tasks, nil
	}
	gen, genOK := c.generation(ctx, userID)
	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if genOK {
		c.storeTasks(ctx, userID, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, userID string, id int64) (domain.Task, error) {
	return c.base.GetTask(ctx, userID, id)
}

func (c *Cache) CreateTask(ctx context.Context, userID string, nt domain.NewTask) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, userID, nt)
	if err == nil {
		c.evict(ctx, userID)
	}
	return t, err
}

func (c *Cache) ReorderColumn(ctx context.Context, userID string, col domain.Column, ids []int64) error {
	err := c.base.ReorderColumn(ctx, userID, col, ids)
	if err == nil {
		c.evict(ctx, userID)
	}
	return err
}

func (c *Cache) ApplyMove(ctx context.Context, userID string, id int64, m domain.Move) (domain.Task, error) {
	t, err := c.base.ApplyMove(ctx, userID, id, m)
	if err == nil {
		c.evict(ctx, userID)
	}
	return t, err
}

func (c *Cache) SetLifecycle(ctx context.Context, userID string, id int64, l domain.Lifecycle) (domain.Task, error) {
	t, err := c.base.SetLifecycle(ctx, userID, id, l)
	if err == nil {
		c.evict(ctx, userID)
	}
	return t, err
}

func (c *Cache) loadTasks(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			log.WithError(err).WithField("user", userID).Warn("tasks cache read failed")
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

// generation returns the user's write generation as stored in Redis. A
// missing counter reads as "0".
func (c *Cache) generation(ctx context.Context, userID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, tasksGenerationKey(userID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		log.WithError(err).WithField("user", userID).Warn("tasks cache generation read failed")
		return "", false
	}
	return gen, true
}

func (c *Cache) storeTasks(ctx context.Context, userID, gen string, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	keys := []string{tasksCacheKey(userID), tasksGenerationKey(userID)}
	if err := storeIfCurrentScript.Run(ctx, c.redis, keys, gen, data, c.ttl.Milliseconds()).Err(); err != nil {
		log.WithError(err).WithField("user", userID).Warn("tasks cache write failed")
	}
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, tasksGenerationKey(userID))
		pipe.Expire(ctx, tasksGenerationKey(userID), generationTTL)
		pipe.Del(ctx, tasksCacheKey(userID))
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("user", userID).Error("tasks cache eviction failed")
	}
}

func tasksCacheKey(userID string) string {
	return "todos:" + userID
}

func tasksGenerationKey(userID string) string {
	return "todos-gen:" + userID
}
