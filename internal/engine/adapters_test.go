package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterSet_ForCapability(t *testing.T) {
	coaching := NewCoachingAdapter(&fakeLLM{}, "test-model", time.Second, nil)
	triage := NewSafetyTriageAdapter(nil)
	set := AdapterSet{Coaching: coaching, SafetyTriage: triage}

	assert.Same(t, coaching, set.ForCapability(CapabilityCoaching).(*CoachingAdapter))
	assert.Same(t, triage, set.ForCapability(CapabilitySafetyTriage).(*SafetyTriageAdapter))
	assert.Nil(t, set.ForCapability(CapabilityCaseManagement))
	assert.Nil(t, set.ForCapability(Capability("bogus")))
}

func TestCoachingAdapter_DraftsReplyFromHistory(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{{Text: "  That sounds exhausting. One small step: a short walk after lunch.  "}}}
	adapter := NewCoachingAdapter(llm, "test-model", time.Second, nil)

	update, err := adapter.Execute(context.Background(), StateView{
		ConversationID: "conv-1",
		Message:        "work is draining me",
		History: []HistoryEntry{
			{Role: ChatRoleUser, Content: "hi"},
			{Role: ChatRoleAssistant, Content: "hello, how are you feeling?"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "That sounds exhausting. One small step: a short walk after lunch.", update.Reply)

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, ChatRoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "work is draining me", req.Messages[2].Content)
}

func TestCoachingAdapter_FallbackReplyOnModelFailure(t *testing.T) {
	adapter := NewCoachingAdapter(&fakeLLM{err: errors.New("model down")}, "test-model", time.Second, nil)

	update, err := adapter.Execute(context.Background(), StateView{ConversationID: "conv-1", Message: "rough day"})

	var failure *AdapterFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, CapabilityCoaching, failure.Capability)
	assert.Equal(t, coachingFallbackReply, update.Reply)
}

func TestCoachingAdapter_FallbackReplyOnEmptyModelOutput(t *testing.T) {
	adapter := NewCoachingAdapter(&fakeLLM{responses: []LLMResponse{{Text: "   "}}}, "test-model", time.Second, nil)

	update, err := adapter.Execute(context.Background(), StateView{ConversationID: "conv-1", Message: "rough day"})

	require.Error(t, err)
	assert.Equal(t, coachingFallbackReply, update.Reply)
}

func TestSafetyTriage_CriticalRequestsEscalation(t *testing.T) {
	adapter := NewSafetyTriageAdapter(nil)

	update, err := adapter.Execute(context.Background(), StateView{
		ConversationID:     "conv-1",
		Message:            "I want to end it all",
		ImmediateRiskLevel: RiskCritical,
		CrisisSignals:      []string{"end it all"},
	})

	require.NoError(t, err)
	assert.Contains(t, update.Reply, "988")
	assert.True(t, update.RequestEscalation)
	assert.Contains(t, update.Actions, "crisis_resources_shared")
	assert.Contains(t, update.Actions, "counselor_handoff_requested")
}

func TestSafetyTriage_ModerateSharesResourcesWithoutEscalation(t *testing.T) {
	adapter := NewSafetyTriageAdapter(nil)

	update, err := adapter.Execute(context.Background(), StateView{
		ConversationID:     "conv-1",
		ImmediateRiskLevel: RiskModerate,
	})

	require.NoError(t, err)
	assert.Contains(t, update.Reply, "988")
	assert.False(t, update.RequestEscalation)
	assert.Equal(t, []string{"crisis_resources_shared"}, update.Actions)
}

func TestSafetyTriage_UnknownLevelFallsBackToModerateReply(t *testing.T) {
	adapter := NewSafetyTriageAdapter(nil)

	update, err := adapter.Execute(context.Background(), StateView{ImmediateRiskLevel: RiskLow})

	require.NoError(t, err)
	assert.Equal(t, triageReplies[RiskModerate], update.Reply)
}

func TestCaseManagement_OpensCaseAndNotifies(t *testing.T) {
	cases := newFakeCaseStore()
	notifier := &fakeNotifier{}
	adapter := NewCaseManagementAdapter(cases, notifier, nil)

	update, err := adapter.Execute(context.Background(), StateView{
		ConversationID:     "conv-1",
		UserID:             "user-1",
		Message:            "I have a plan",
		ImmediateRiskLevel: RiskCritical,
		CrisisSignals:      []string{"plan"},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, update.CaseID)
	assert.Equal(t, []string{"case_opened", "counselors_notified"}, update.Actions)
	assert.Equal(t, 1, notifier.calls)

	stored, err := cases.GetCase(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, update.CaseID, stored.CaseID)
	assert.Equal(t, RiskCritical, stored.RiskLevel)
	assert.Equal(t, "I have a plan", stored.TriggerMessage)
}

func TestCaseManagement_ExistingCaseIsNoOpWithoutSecondAlert(t *testing.T) {
	cases := newFakeCaseStore()
	notifier := &fakeNotifier{}
	adapter := NewCaseManagementAdapter(cases, notifier, nil)
	view := StateView{ConversationID: "conv-1", ImmediateRiskLevel: RiskHigh}

	first, err := adapter.Execute(context.Background(), view)
	require.NoError(t, err)

	second, err := adapter.Execute(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, first.CaseID, second.CaseID)
	assert.Equal(t, []string{"case_already_open"}, second.Actions)
	assert.Equal(t, 1, notifier.calls)
}

func TestCaseManagement_StoreFailureIsFatal(t *testing.T) {
	cases := newFakeCaseStore()
	cases.openErr = errors.New("dynamo unavailable")
	adapter := NewCaseManagementAdapter(cases, &fakeNotifier{}, nil)

	update, err := adapter.Execute(context.Background(), StateView{ConversationID: "conv-1"})

	var failure *AdapterFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, CapabilityCaseManagement, failure.Capability)
	assert.Empty(t, update.CaseID)
}

func TestCaseManagement_AttachAssessmentReachesStore(t *testing.T) {
	cases := newFakeCaseStore()
	adapter := NewCaseManagementAdapter(cases, &fakeNotifier{}, nil)
	ctx := context.Background()

	_, err := adapter.Execute(ctx, StateView{ConversationID: "conv-1", ImmediateRiskLevel: RiskHigh})
	require.NoError(t, err)

	assessment := &ConversationAssessment{OverallRiskLevel: RiskHigh, ShouldEscalate: true}
	require.NoError(t, adapter.AttachAssessment(ctx, "conv-1", assessment))

	record, err := cases.GetCase(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record.Assessment)
	assert.True(t, record.Assessment.ShouldEscalate)
}

func TestCaseManagement_NotifyFailureSurfacesButCaseSticks(t *testing.T) {
	cases := newFakeCaseStore()
	notifier := &fakeNotifier{err: errors.New("pager down")}
	adapter := NewCaseManagementAdapter(cases, notifier, nil)

	update, err := adapter.Execute(context.Background(), StateView{ConversationID: "conv-1"})

	require.Error(t, err)
	assert.NotEmpty(t, update.CaseID)
	assert.Equal(t, []string{"case_opened"}, update.Actions)

	_, getErr := cases.GetCase(context.Background(), "conv-1")
	assert.NoError(t, getErr)
}
