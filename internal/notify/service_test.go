package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/support-ai-platform/internal/engine"
)

type fakeEmailSender struct {
	sent []EmailMessage
	err  error
}

func (f *fakeEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSMSSender struct {
	sent []string
	err  error
}

func (f *fakeSMSSender) SendSMS(_ context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+": "+body)
	return nil
}

func sampleRecord() *engine.CaseRecord {
	return &engine.CaseRecord{
		ConversationID: "conv-1",
		CaseID:         "case-1",
		RiskLevel:      engine.RiskCritical,
		CrisisSignals:  []string{"kill myself"},
	}
}

func TestService_DeliversToAllChannels(t *testing.T) {
	email := &fakeEmailSender{}
	sms := &fakeSMSSender{}
	svc := NewService(email, sms, Config{
		EmailRecipients: []string{"oncall@havenline.example", "backup@havenline.example"},
		SMSRecipients:   []string{"+15551230000"},
	}, nil)

	err := svc.NotifyCaseOpened(context.Background(), sampleRecord())

	require.NoError(t, err)
	require.Len(t, email.sent, 2)
	assert.Equal(t, "oncall@havenline.example", email.sent[0].To)
	assert.Equal(t, "Case opened: critical risk (case-1)", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "Conversation: conv-1")
	assert.Contains(t, email.sent[0].Body, "kill myself")
	require.Len(t, sms.sent, 1)
	assert.Contains(t, sms.sent[0], "case-1")
}

func TestService_PartialDeliveryIsSuccess(t *testing.T) {
	email := &fakeEmailSender{err: errors.New("smtp down")}
	sms := &fakeSMSSender{}
	svc := NewService(email, sms, Config{
		EmailRecipients: []string{"oncall@havenline.example"},
		SMSRecipients:   []string{"+15551230000"},
	}, nil)

	err := svc.NotifyCaseOpened(context.Background(), sampleRecord())

	require.NoError(t, err)
	assert.Len(t, sms.sent, 1)
}

func TestService_AllChannelsFailing(t *testing.T) {
	email := &fakeEmailSender{err: errors.New("smtp down")}
	sms := &fakeSMSSender{err: errors.New("carrier rejected")}
	svc := NewService(email, sms, Config{
		EmailRecipients: []string{"oncall@havenline.example"},
		SMSRecipients:   []string{"+15551230000"},
	}, nil)

	err := svc.NotifyCaseOpened(context.Background(), sampleRecord())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all counselor alerts failed")
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "carrier rejected")
}

func TestService_NoChannelsConfigured(t *testing.T) {
	svc := NewService(nil, nil, Config{}, nil)

	err := svc.NotifyCaseOpened(context.Background(), sampleRecord())

	assert.NoError(t, err)
}

func TestService_NilRecord(t *testing.T) {
	svc := NewService(&fakeEmailSender{}, nil, Config{EmailRecipients: []string{"x@y.example"}}, nil)

	err := svc.NotifyCaseOpened(context.Background(), nil)

	require.Error(t, err)
}

func TestService_AlertIncludesAssessment(t *testing.T) {
	record := sampleRecord()
	record.Assessment = &engine.ConversationAssessment{
		OverallRiskLevel:   engine.RiskHigh,
		RiskTrend:          engine.TrendEscalating,
		Summary:            "User expressed active ideation and declined safety planning.",
		RecommendedActions: []string{"same-day counselor outreach", "safety plan review"},
	}
	email := &fakeEmailSender{}
	svc := NewService(email, nil, Config{EmailRecipients: []string{"oncall@havenline.example"}}, nil)

	require.NoError(t, svc.NotifyCaseOpened(context.Background(), record))

	body := email.sent[0].Body
	assert.Contains(t, body, "Overall risk: high (trend: escalating)")
	assert.Contains(t, body, "declined safety planning")
	assert.True(t, strings.Contains(body, "same-day counselor outreach; safety plan review"))
}

func TestStubEmailSender(t *testing.T) {
	stub := NewStubEmailSender(nil)

	assert.NoError(t, stub.Send(context.Background(), EmailMessage{To: "a@b.example", Subject: "s"}))
}
