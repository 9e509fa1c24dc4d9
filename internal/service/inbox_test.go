package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/queue"
	"mailtester/backend/internal/storage"
	"mailtester/backend/internal/storage/memory"
)

func newService(t *testing.T) (*InboxService, *memory.Store, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.NewStore()
	q := queue.NewQueueWithClient(client, nil)
	svc := NewInboxService(store, q, nil, "mailtester.dev", time.Hour, nil)
	return svc, store, q
}

func TestInboxService_Create(t *testing.T) {
	svc, store, q := newService(t)

	inbox, err := svc.Create(context.Background(), CreateInput{OriginIP: "203.0.113.7"})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^test-[0-9a-f]{10}@mailtester\.dev$`), inbox.Address)
	assert.Equal(t, domain.InboxPending, inbox.Status)
	require.NotNil(t, inbox.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *inbox.ExpiresAt, time.Minute)

	// Persisted
	_, err = store.GetInboxByAddress(inbox.Address)
	require.NoError(t, err)

	// Initial trigger enqueued
	job, ok, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inbox.Address, job.Address)
	assert.Equal(t, 0, job.Attempts)
}

func TestInboxService_Create_UniqueAddresses(t *testing.T) {
	svc, _, _ := newService(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		inbox, err := svc.Create(context.Background(), CreateInput{OriginIP: "203.0.113.7"})
		require.NoError(t, err)
		assert.False(t, seen[inbox.Address], "address generated twice: %s", inbox.Address)
		seen[inbox.Address] = true
	}
}

func TestInboxService_Lookup(t *testing.T) {
	svc, store, _ := newService(t)

	inbox, err := svc.Create(context.Background(), CreateInput{OriginIP: "203.0.113.7"})
	require.NoError(t, err)

	result, err := svc.Lookup(inbox.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.InboxPending, result.Inbox.Status)
	assert.Nil(t, result.Report)

	// After analysis the report rides along
	report := &domain.AnalysisReport{ID: "report-1", Score: 8.8, Grade: "Good", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveReport(report))
	require.NoError(t, store.SetInboxAnalyzed(inbox.Address, "report-1", time.Now().UTC()))

	result, err = svc.Lookup(inbox.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.InboxAnalyzed, result.Inbox.Status)
	require.NotNil(t, result.Report)
	assert.Equal(t, 8.8, result.Report.Score)

	_, err = svc.Lookup("missing@mailtester.dev")
	assert.ErrorIs(t, err, storage.ErrInboxNotFound)
}

func TestInboxService_Lookup_LazyExpiry(t *testing.T) {
	svc, store, _ := newService(t)

	past := time.Now().Add(-time.Minute)
	inbox := &domain.TestInbox{
		ID:        "inbox-1",
		Address:   "test-old@mailtester.dev",
		Status:    domain.InboxPending,
		OriginIP:  "203.0.113.7",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: &past,
	}
	require.NoError(t, store.SaveInbox(inbox))

	result, err := svc.Lookup(inbox.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.InboxExpired, result.Inbox.Status)

	// Expiry is persisted, not just a view
	stored, err := store.GetInboxByAddress(inbox.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.InboxExpired, stored.Status)
}

func TestInboxService_Trigger(t *testing.T) {
	svc, _, q := newService(t)

	inbox, err := svc.Create(context.Background(), CreateInput{OriginIP: "203.0.113.7"})
	require.NoError(t, err)

	// Drain the initial trigger
	_, ok, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Trigger(context.Background(), inbox.Address))
	job, ok, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inbox.Address, job.Address)

	err = svc.Trigger(context.Background(), "missing@mailtester.dev")
	assert.ErrorIs(t, err, storage.ErrInboxNotFound)
}
