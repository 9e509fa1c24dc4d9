package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/monitoring"
	"mailtester/backend/internal/queue"
	"mailtester/backend/internal/storage"
)

// InboxService 封装测试收件箱的业务操作。
type InboxService struct {
	store   storage.Store
	queue   *queue.Queue
	metrics *monitoring.Metrics
	domain  string
	ttl     time.Duration
	log     *zap.Logger
}

// NewInboxService 创建收件箱业务服务。
func NewInboxService(store storage.Store, q *queue.Queue, metrics *monitoring.Metrics, addressDomain string, ttl time.Duration, log *zap.Logger) *InboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxService{
		store:   store,
		queue:   q,
		metrics: metrics,
		domain:  addressDomain,
		ttl:     ttl,
		log:     log,
	}
}

// CreateInput 定义创建测试收件箱所需的输入。
type CreateInput struct {
	OwnerID  *string // 可选：关联的身份ID
	OriginIP string
}

// Create 生成新的测试收件箱并投递首个分析触发。
//
// 地址格式为 test-<10位十六进制>@<域名>，随机部分来自
// crypto/rand，实际上不会碰撞。
func (s *InboxService) Create(ctx context.Context, input CreateInput) (*domain.TestInbox, error) {
	address, err := s.generateAddress()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)
	inbox := &domain.TestInbox{
		ID:        uuid.NewString(),
		Address:   address,
		Status:    domain.InboxPending,
		OwnerID:   input.OwnerID,
		OriginIP:  input.OriginIP,
		CreatedAt: now,
		ExpiresAt: &expiresAt,
	}

	if err := s.store.SaveInbox(inbox); err != nil {
		return nil, fmt.Errorf("save inbox: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, queue.Job{Address: address}); err != nil {
			s.log.Error("enqueue initial trigger failed", zap.String("address", address), zap.Error(err))
		} else if s.metrics != nil {
			s.metrics.JobsEnqueued.Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.InboxesCreated.Inc()
	}
	s.log.Info("inbox created", zap.String("address", address))
	return inbox, nil
}

// LookupResult 查询结果：收件箱状态视图，分析完成时附带报告。
type LookupResult struct {
	Inbox  *domain.TestInbox
	Report *domain.AnalysisReport
}

// Lookup 按地址查询收件箱的当前状态。
//
// 过期在读取时惰性落库：一旦越过有效期，对外状态立即变为
// expired 并持久化，不依赖清理任务的节奏。
func (s *InboxService) Lookup(address string) (*LookupResult, error) {
	inbox, err := s.store.GetInboxByAddress(address)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if inbox.ExpiredAt(now) && inbox.Status != domain.InboxExpired {
		if err := s.store.UpdateInboxStatus(address, domain.InboxExpired, inbox.LastError); err != nil {
			s.log.Warn("persist expired status failed", zap.String("address", address), zap.Error(err))
		}
		inbox.Status = domain.InboxExpired
	}

	result := &LookupResult{Inbox: inbox}
	if inbox.Status == domain.InboxAnalyzed && inbox.AnalysisID != nil {
		report, err := s.store.GetReport(*inbox.AnalysisID)
		if err != nil {
			s.log.Error("load report failed",
				zap.String("address", address),
				zap.String("report", *inbox.AnalysisID),
				zap.Error(err))
		} else {
			result.Report = report
		}
	}
	return result, nil
}

// Trigger 为已有收件箱补发一次分析触发。
func (s *InboxService) Trigger(ctx context.Context, address string) error {
	if _, err := s.store.GetInboxByAddress(address); err != nil {
		return err
	}
	if s.queue == nil {
		return nil
	}
	if err := s.queue.Enqueue(ctx, queue.Job{Address: address}); err != nil {
		return fmt.Errorf("enqueue trigger: %w", err)
	}
	if s.metrics != nil {
		s.metrics.JobsEnqueued.Inc()
	}
	return nil
}

// CleanupExpired 删除所有已过期的收件箱，返回删除数量。
func (s *InboxService) CleanupExpired() (int, error) {
	deleted, err := s.store.DeleteExpiredInboxes()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		if s.metrics != nil {
			s.metrics.InboxesExpired.Add(float64(deleted))
		}
		s.log.Info("expired inboxes removed", zap.Int("count", deleted))
	}
	return deleted, nil
}

// generateAddress 生成随机测试地址。
func (s *InboxService) generateAddress() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate address: %w", err)
	}
	return fmt.Sprintf("test-%s@%s", hex.EncodeToString(buf), s.domain), nil
}
