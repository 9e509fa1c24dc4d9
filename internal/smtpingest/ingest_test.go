package smtpingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/storage/memory"
	"mailtester/backend/internal/task"
)

const rawMessage = "From: sender@example.com\r\n" +
	"To: test-abc@mailtester.dev\r\n" +
	"Subject: probe\r\n" +
	"\r\nbody\r\n"

func newIngestWithInbox(t *testing.T, address string) *Ingest {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.SaveInbox(&domain.TestInbox{
		ID:        "inbox-1",
		Address:   address,
		Status:    domain.InboxPending,
		CreatedAt: time.Now().UTC(),
	}))
	return NewIngest(store, nil)
}

func TestIngest_AcceptAndFetch(t *testing.T) {
	address := "test-abc@mailtester.dev"
	ingest := newIngestWithInbox(t, address)

	sess, err := ingest.NewSession(nil)
	require.NoError(t, err)

	require.NoError(t, sess.Mail("sender@example.com", nil))
	require.NoError(t, sess.Rcpt("<TEST-ABC@mailtester.dev>", nil))
	require.NoError(t, sess.Data(strings.NewReader(rawMessage)))

	msg, err := ingest.Fetch(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, "probe", msg.Get("Subject"))
}

func TestIngest_RejectUnknownRecipient(t *testing.T) {
	ingest := newIngestWithInbox(t, "test-abc@mailtester.dev")

	sess, err := ingest.NewSession(nil)
	require.NoError(t, err)

	err = sess.Rcpt("stranger@elsewhere.com", nil)
	assert.Error(t, err, "external recipients must be refused")
}

func TestIngest_FetchBeforeDelivery(t *testing.T) {
	ingest := newIngestWithInbox(t, "test-abc@mailtester.dev")

	_, err := ingest.Fetch(context.Background(), "test-abc@mailtester.dev")
	assert.ErrorIs(t, err, task.ErrMessageNotFound)
}
