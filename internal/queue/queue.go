package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	readyKey   = "analysis:queue"   // 就绪任务列表
	delayedKey = "analysis:delayed" // 延迟任务有序集合，score 为到期时刻
)

// Job 一次分析触发。Attempts 记录已消耗的尝试次数。
type Job struct {
	Address  string `json:"address"`
	Attempts int    `json:"attempts"`
}

// Queue 基于 Redis 的任务队列。
//
// 就绪任务放在列表里由 BRPOP 阻塞消费；延迟重试放进有序
// 集合，到期后由消费者搬回列表。搬运用 ZREM 的返回值确认
// 归属，多个消费者并发搬运同一成员时只有一个会成功。
type Queue struct {
	client *redis.Client
	log    *zap.Logger
}

// NewQueue 连接 Redis 并创建队列。
func NewQueue(addr, password string, db int, log *zap.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewQueueWithClient(client, log), nil
}

// NewQueueWithClient 使用现成客户端创建队列，测试用。
func NewQueueWithClient(client *redis.Client, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{client: client, log: log}
}

// Enqueue 投递一个立即可执行的任务。
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, readyKey, data).Err()
}

// EnqueueDelayed 投递一个延迟到期的任务。
func (q *Queue) EnqueueDelayed(ctx context.Context, job Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	return q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: string(data)}).Err()
}

// PromoteDue 把已到期的延迟任务搬回就绪列表，返回搬运数量。
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed job: %w", err)
		}
		if removed == 0 {
			// 已被别的消费者搬走
			continue
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			return promoted, fmt.Errorf("promote job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Dequeue 阻塞取出一个就绪任务。超时无任务返回 ok=false。
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	values, err := q.client.BRPop(ctx, timeout, readyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		q.log.Error("discard malformed job", zap.String("payload", values[1]), zap.Error(err))
		return Job{}, false, nil
	}
	return job, true, nil
}

// Close 关闭底层连接。
func (q *Queue) Close() error {
	return q.client.Close()
}

// Health 队列健康检查。
func (q *Queue) Health() error {
	return q.client.Ping(context.Background()).Err()
}
