package memory

import (
	"sync"
	"time"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/storage"
)

// Store 使用内存保存收件箱、身份与报告，主要用于开发验证与测试。
//
// 认领标记的条件写入在互斥锁内完成检查与赋值，语义与数据库
// 实现的单条条件更新一致。
type Store struct {
	mu         sync.RWMutex
	inboxes    map[string]*domain.TestInbox // id -> inbox
	byAddress  map[string]string            // address -> id
	identities map[string]*domain.Identity  // id -> identity
	reports    map[string]*domain.AnalysisReport
}

// NewStore 创建内存存储实例。
func NewStore() *Store {
	return &Store{
		inboxes:    make(map[string]*domain.TestInbox),
		byAddress:  make(map[string]string),
		identities: make(map[string]*domain.Identity),
		reports:    make(map[string]*domain.AnalysisReport),
	}
}

// SaveInbox 保存收件箱。
func (s *Store) SaveInbox(inbox *domain.TestInbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inbox
	s.inboxes[inbox.ID] = &cp
	s.byAddress[inbox.Address] = inbox.ID
	return nil
}

// GetInbox 根据 ID 获取收件箱。
func (s *Store) GetInbox(id string) (*domain.TestInbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inbox, ok := s.inboxes[id]
	if !ok {
		return nil, storage.ErrInboxNotFound
	}
	cp := *inbox
	return &cp, nil
}

// GetInboxByAddress 根据地址获取收件箱。
func (s *Store) GetInboxByAddress(address string) (*domain.TestInbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrInboxNotFound
	}
	cp := *s.inboxes[id]
	return &cp, nil
}

// UpdateInboxStatus 更新收件箱状态与最近错误。
func (s *Store) UpdateInboxStatus(address string, status domain.InboxStatus, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, err := s.byAddressLocked(address)
	if err != nil {
		return err
	}
	inbox.Status = status
	inbox.LastError = lastError
	return nil
}

// SetInboxAnalyzed 标记分析完成并关联报告。
func (s *Store) SetInboxAnalyzed(address, analysisID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, err := s.byAddressLocked(address)
	if err != nil {
		return err
	}
	inbox.Status = domain.InboxAnalyzed
	inbox.AnalysisID = &analysisID
	inbox.AnalyzedAt = &at
	inbox.LastError = nil
	return nil
}

// ClaimAnalysis 条件认领：仅当标记为空时写入，锁内完成。
func (s *Store) ClaimAnalysis(address string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, err := s.byAddressLocked(address)
	if err != nil {
		return false, err
	}
	if inbox.AnalysisClaimedAt != nil {
		return false, nil
	}
	inbox.AnalysisClaimedAt = &at
	return true, nil
}

// ReleaseAnalysisClaim 清除认领标记。
func (s *Store) ReleaseAnalysisClaim(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, err := s.byAddressLocked(address)
	if err != nil {
		return err
	}
	inbox.AnalysisClaimedAt = nil
	return nil
}

// CountAnalyzedByIP 统计某来源 IP 自 since 起已分析的收件箱数。
func (s *Store) CountAnalyzedByIP(ip string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inbox := range s.inboxes {
		if inbox.OriginIP != ip || inbox.Status != domain.InboxAnalyzed {
			continue
		}
		if inbox.AnalyzedAt != nil && !inbox.AnalyzedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// DeleteExpiredInboxes 删除所有已过期的收件箱，返回删除数量。
func (s *Store) DeleteExpiredInboxes() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for id, inbox := range s.inboxes {
		if inbox.ExpiredAt(now) {
			delete(s.byAddress, inbox.Address)
			delete(s.inboxes, id)
			count++
		}
	}
	return count, nil
}

// byAddressLocked 地址到收件箱的查找，调用方必须持锁。
func (s *Store) byAddressLocked(address string) (*domain.TestInbox, error) {
	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrInboxNotFound
	}
	return s.inboxes[id], nil
}

// CreateIdentity 创建身份。
func (s *Store) CreateIdentity(identity *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = now
	}
	cp := *identity
	s.identities[identity.ID] = &cp
	return nil
}

// GetIdentity 根据 ID 获取身份。
func (s *Store) GetIdentity(id string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, storage.ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

// ResetAnalyzeQuota 清零已用计数并推进重置时刻。
func (s *Store) ResetAnalyzeQuota(id string, resetAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return storage.ErrIdentityNotFound
	}
	identity.Quota.DailyUsed = 0
	identity.Quota.ResetAt = &resetAt
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

// ConsumeAnalyzeQuota 已用计数加一。
func (s *Store) ConsumeAnalyzeQuota(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return storage.ErrIdentityNotFound
	}
	identity.Quota.DailyUsed++
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveReport 保存分析报告。
func (s *Store) SaveReport(report *domain.AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *report
	s.reports[report.ID] = &cp
	return nil
}

// GetReport 根据 ID 获取报告。
func (s *Store) GetReport(id string) (*domain.AnalysisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, storage.ErrReportNotFound
	}
	cp := *report
	return &cp, nil
}

// Close 关闭存储连接，内存实现为空操作。
func (s *Store) Close() error {
	return nil
}

// Health 健康检查，内存实现总是健康。
func (s *Store) Health() error {
	return nil
}
