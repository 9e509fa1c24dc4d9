package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/mail"
)

// fakeRecords 脚本化的记录检查器
type fakeRecords struct {
	spf     string
	dkim    string
	dmarc   string
	rdns    string
	mxHosts []string
	smtpOK  bool
}

func (f *fakeRecords) CheckSPF(_ context.Context, _ string) (string, bool) {
	return f.spf, f.spf != ""
}

func (f *fakeRecords) CheckDKIM(_ context.Context, _, _ string) (string, bool) {
	return f.dkim, f.dkim != ""
}

func (f *fakeRecords) CheckDMARC(_ context.Context, _ string) (string, bool) {
	return f.dmarc, f.dmarc != ""
}

func (f *fakeRecords) CheckRDNS(_ context.Context, _ string) (string, bool) {
	return f.rdns, f.rdns != ""
}

func (f *fakeRecords) LookupMX(_ context.Context, _ string) []string {
	return f.mxHosts
}

func (f *fakeRecords) CheckSMTP(_ context.Context, _ string) bool {
	return f.smtpOK
}

// fakeProber 返回预置结果的黑名单探测器
type fakeProber struct {
	result *domain.BlacklistResult
}

func (f *fakeProber) Probe(_ context.Context, ip string) *domain.BlacklistResult {
	if ip == "" {
		return &domain.BlacklistResult{
			Zones:   map[string]domain.ZoneStatus{},
			Summary: map[domain.ZoneStatus]int{},
			Skipped: true,
		}
	}
	return f.result
}

// fakeClassifier 返回预置结论的分类器
type fakeClassifier struct {
	verdict *domain.SpamVerdict
}

func (f *fakeClassifier) Check(_ context.Context, _ []byte) *domain.SpamVerdict {
	return f.verdict
}

func okVerdict() *domain.SpamVerdict {
	isSpam := false
	spamScore := 1.2
	threshold := 5.0
	return &domain.SpamVerdict{
		Status:    domain.CheckOK,
		IsSpam:    &isSpam,
		Score:     &spamScore,
		Threshold: &threshold,
	}
}

func parseMessage(t *testing.T, raw string) *mail.Message {
	t.Helper()
	msg, err := mail.Parse([]byte(raw))
	require.NoError(t, err)
	return msg
}

const fullMessage = "From: sender@example.com\r\n" +
	"To: test-abc@mailtester.dev\r\n" +
	"Subject: hello\r\n" +
	"Message-ID: <id-1@example.com>\r\n" +
	"Date: Mon, 24 Aug 2026 10:00:00 +0000\r\n" +
	"List-Unsubscribe: <mailto:unsub@example.com>\r\n" +
	"DKIM-Signature: v=1; a=rsa-sha256; d=example.com; s=mail; bh=abc; b=def\r\n" +
	"\r\nbody\r\n"

const bareMessage = "From: sender@example.com\r\n" +
	"To: test-abc@mailtester.dev\r\n" +
	"Subject: hello\r\n" +
	"DKIM-Signature: v=1; a=rsa-sha256; d=example.com; s=mail; bh=abc; b=def\r\n" +
	"\r\nbody\r\n"

func TestAnalyzer_PerfectMessage(t *testing.T) {
	records := &fakeRecords{
		spf:   "v=spf1 include:_spf.example.com ~all",
		dkim:  "v=DKIM1; k=rsa; p=MIGf...",
		dmarc: "v=DMARC1; p=reject",
		rdns:  "mail.example.com",
	}
	prober := &fakeProber{result: &domain.BlacklistResult{
		Checked: 2,
		Zones: map[string]domain.ZoneStatus{
			"zen.spamhaus.org": domain.ZoneNotListed,
			"bl.spamcop.net":   domain.ZoneNotListed,
		},
		Summary: map[domain.ZoneStatus]int{domain.ZoneNotListed: 2},
	}}

	a := NewAnalyzer(records, prober, &fakeClassifier{verdict: okVerdict()}, false, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, fullMessage), "example.com", "198.51.100.4")

	assert.Equal(t, 10.0, report.Score)
	assert.Equal(t, "Excellent", report.Grade)
	assert.Empty(t, report.Items)
	assert.Equal(t, domain.CheckOK, report.Checks[domain.CheckNameSPF].Status)
	assert.Equal(t, domain.CheckOK, report.Checks[domain.CheckNameDKIM].Status)
	assert.Equal(t, domain.CheckOK, report.Checks[domain.CheckNameDMARC].Status)
	assert.Equal(t, domain.CheckOK, report.Checks[domain.CheckNameRDNS].Status)
	assert.Equal(t, "example.com", report.Meta.SenderDomain)
	assert.Equal(t, "198.51.100.4", report.Meta.SenderIP)
}

func TestAnalyzer_MissingAuthRecords(t *testing.T) {
	records := &fakeRecords{} // no records at all
	prober := &fakeProber{}

	a := NewAnalyzer(records, prober, &fakeClassifier{verdict: okVerdict()}, false, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, fullMessage), "example.com", "")

	assert.Equal(t, domain.CheckMissing, report.Checks[domain.CheckNameSPF].Status)
	assert.Equal(t, domain.CheckMissing, report.Checks[domain.CheckNameDKIM].Status)
	assert.Equal(t, domain.CheckMissing, report.Checks[domain.CheckNameDMARC].Status)

	codes := make([]string, 0, len(report.Items))
	for _, item := range report.Items {
		codes = append(codes, item.Code)
	}
	assert.Equal(t, []string{"spf_missing", "dkim_missing", "dmarc_missing"}, codes)

	// 2.0 + 1.5 + 1.5 removed, rdns and blacklists skipped without an IP
	assert.Equal(t, 5.0, report.Score)
	assert.True(t, report.Checks[domain.CheckNameBlacklists].Skipped)
	assert.True(t, report.Checks[domain.CheckNameRDNS].Skipped)
	assert.LessOrEqual(t, report.Score, 5.5)
}

func TestAnalyzer_UnsignedMessageSkipsDKIM(t *testing.T) {
	raw := "From: sender@example.com\r\nSubject: hi\r\n\r\nbody\r\n"
	records := &fakeRecords{spf: "v=spf1 ~all", dmarc: "v=DMARC1; p=none"}

	a := NewAnalyzer(records, &fakeProber{}, &fakeClassifier{verdict: okVerdict()}, false, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, raw), "example.com", "")

	dkim := report.Checks[domain.CheckNameDKIM]
	assert.Equal(t, domain.CheckSkipped, dkim.Status)
	assert.True(t, dkim.Skipped)
	for _, item := range report.Items {
		assert.NotEqual(t, "dkim_missing", item.Code)
	}
}

func TestAnalyzer_HeaderHygieneDeductions(t *testing.T) {
	records := &fakeRecords{
		spf:   "v=spf1 ~all",
		dkim:  "v=DKIM1; p=abc",
		dmarc: "v=DMARC1; p=none",
	}

	a := NewAnalyzer(records, &fakeProber{}, &fakeClassifier{verdict: okVerdict()}, false, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, bareMessage), "example.com", "")

	codes := map[string]float64{}
	for _, item := range report.Items {
		codes[item.Code] = item.Points
	}
	assert.Equal(t, 0.5, codes["message_id_missing"])
	assert.Equal(t, 0.5, codes["date_missing"])
	assert.Equal(t, 0.2, codes["list_unsubscribe_missing"])
	assert.Equal(t, 8.8, report.Score)
	assert.Equal(t, "Good", report.Grade)
}

func TestAnalyzer_BlacklistListingDeductsOnce(t *testing.T) {
	records := &fakeRecords{
		spf:   "v=spf1 ~all",
		dkim:  "v=DKIM1; p=abc",
		dmarc: "v=DMARC1; p=none",
		rdns:  "mail.example.com",
	}
	prober := &fakeProber{result: &domain.BlacklistResult{
		Checked: 3,
		Zones: map[string]domain.ZoneStatus{
			"zen.spamhaus.org": domain.ZoneListed,
			"bl.spamcop.net":   domain.ZoneListed,
			"psbl.surriel.com": domain.ZoneNotListed,
		},
		Summary: map[domain.ZoneStatus]int{domain.ZoneListed: 2, domain.ZoneNotListed: 1},
	}}

	a := NewAnalyzer(records, prober, &fakeClassifier{verdict: okVerdict()}, false, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, fullMessage), "example.com", "198.51.100.4")

	// One aggregate deduction regardless of how many zones hit
	blacklisted := 0
	for _, item := range report.Items {
		if item.Code == "blacklisted" {
			blacklisted++
			assert.Equal(t, 2.0, item.Points)
		}
	}
	assert.Equal(t, 1, blacklisted)
	assert.Equal(t, 8.0, report.Score)
}

func TestAnalyzer_ClassifierErrorDoesNotChangeScore(t *testing.T) {
	records := &fakeRecords{
		spf:   "v=spf1 ~all",
		dkim:  "v=DKIM1; p=abc",
		dmarc: "v=DMARC1; p=none",
	}
	classifier := &fakeClassifier{verdict: &domain.SpamVerdict{
		Status: domain.CheckError,
		Error:  "connect spamd: connection refused",
	}}

	a := NewAnalyzer(records, &fakeProber{}, classifier, false, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, fullMessage), "example.com", "")

	spam := report.Checks[domain.CheckNameSpamAssassin]
	assert.Equal(t, domain.CheckError, spam.Status)
	require.NotNil(t, spam.Spam)
	assert.Nil(t, spam.Spam.IsSpam)
	assert.Equal(t, 10.0, report.Score, "classifier failure must not affect scoring")
}

func TestAnalyzer_MailExchangeInformational(t *testing.T) {
	records := &fakeRecords{
		spf:     "v=spf1 ~all",
		dkim:    "v=DKIM1; p=abc",
		dmarc:   "v=DMARC1; p=none",
		mxHosts: []string{"mx1.example.com", "mx2.example.com"},
		smtpOK:  true,
	}

	a := NewAnalyzer(records, &fakeProber{}, &fakeClassifier{verdict: okVerdict()}, true, nil, nil)
	report := a.Analyze(context.Background(), parseMessage(t, fullMessage), "example.com", "")

	assert.Equal(t, domain.CheckOK, report.Checks[domain.CheckNameMX].Status)
	assert.Equal(t, domain.CheckOK, report.Checks[domain.CheckNameSMTP].Status)
	assert.Equal(t, 10.0, report.Score, "informational checks never deduct")
}
