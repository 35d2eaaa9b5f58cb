package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaseStore is an in-memory CaseOpener with the same conditional-put
// semantics as the DynamoDB store.
type fakeCaseStore struct {
	mu          sync.Mutex
	cases       map[string]*CaseRecord
	openCalls   int
	openErr     error
	lastCtx     context.Context
	attachCalls int
	// openedWithAssessment remembers whether the record carried an
	// assessment at open time, as opposed to one attached later.
	openedWithAssessment bool
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{cases: make(map[string]*CaseRecord)}
}

func (s *fakeCaseStore) OpenCase(ctx context.Context, record *CaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCalls++
	s.lastCtx = ctx
	if s.openErr != nil {
		return s.openErr
	}
	if _, exists := s.cases[record.ConversationID]; exists {
		return ErrCaseExists
	}
	s.openedWithAssessment = record.Assessment != nil
	clone := *record
	s.cases[record.ConversationID] = &clone
	return nil
}

func (s *fakeCaseStore) AttachAssessment(_ context.Context, conversationID string, assessment *ConversationAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cases[conversationID]
	if !ok {
		return ErrCaseNotFound
	}
	s.attachCalls++
	record.Assessment = assessment
	return nil
}

func (s *fakeCaseStore) GetCase(_ context.Context, conversationID string) (*CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cases[conversationID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	clone := *record
	return &clone, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (n *fakeNotifier) NotifyCaseOpened(_ context.Context, _ *CaseRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

type engineFixture struct {
	engine   *Engine
	llm      *fakeLLM
	cases    *fakeCaseStore
	notifier *fakeNotifier
	states   *MemoryStateStore
}

func newEngineFixture(t *testing.T, llm *fakeLLM) *engineFixture {
	t.Helper()
	cases := newFakeCaseStore()
	notifier := &fakeNotifier{}
	states := NewMemoryStateStore()

	classifier := NewRiskClassifier(llm, NewCrisisDetector(nil), RiskClassifierConfig{
		Timeout:         time.Second,
		FailClosedLevel: RiskModerate,
		HistoryWindow:   10,
	}, nil)
	analyzer := NewConversationAnalyzer(llm, AnalyzerConfig{Window: 30, Timeout: time.Second}, nil)
	endDetector := NewEndDetector(EndDetectorConfig{InactivityTimeout: 30 * time.Minute})

	adapters := AdapterSet{
		Coaching:       NewCoachingAdapter(llm, "test-model", time.Second, nil),
		CaseManagement: NewCaseManagementAdapter(cases, notifier, nil),
		SafetyTriage:   NewSafetyTriageAdapter(nil),
	}

	eng := NewEngine(classifier, analyzer, endDetector, adapters, states, nil, nil, nil, nil, EngineConfig{
		RecentHistoryWindow:    10,
		AnalyzeAfterEscalation: true,
	})
	return &engineFixture{engine: eng, llm: llm, cases: cases, notifier: notifier, states: states}
}

func TestProcessTurn_SupportiveExchange(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"support_seeking","risk_level":"low","rationale":"venting"}`},
		{Text: "That sounds exhausting. What part of the week felt heaviest?"},
	}}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Message:        "this week has been a lot",
	})

	require.NoError(t, err)
	assert.Equal(t, RiskLow, result.RiskLevel)
	assert.Equal(t, "That sounds exhausting. What part of the week felt heaviest?", result.Reply)
	assert.Equal(t, []Capability{CapabilityCoaching}, result.AgentsInvoked)
	assert.False(t, result.EscalationTriggered)
	assert.False(t, result.ConversationEnded)
	assert.Nil(t, result.Assessment)
	assert.Empty(t, result.Errors)

	state, err := fx.states.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	// User message plus assistant reply.
	assert.Len(t, state.History, 2)
	assert.Equal(t, ChatRoleUser, state.History[0].Role)
	assert.Equal(t, ChatRoleAssistant, state.History[1].Role)
}

func TestProcessTurn_RejectsInvalidInput(t *testing.T) {
	fx := newEngineFixture(t, &fakeLLM{})

	_, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{ConversationID: "c", Message: "   "})
	assert.Error(t, err)

	_, err = fx.engine.ProcessTurn(context.Background(), TurnRequest{Message: "hello"})
	assert.Error(t, err)
}

func TestProcessTurn_CrisisEscalatesImmediately(t *testing.T) {
	// Model underestimates; the lexical floor forces critical.
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"support_seeking","risk_level":"low","rationale":"calm"}`},
	}}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-crisis",
		UserID:         "user-9",
		Message:        "I want to kill myself",
	})

	require.NoError(t, err)
	assert.Equal(t, RiskCritical, result.RiskLevel)
	assert.True(t, result.EscalationTriggered)
	assert.Contains(t, result.Reply, "988", "crisis reply must carry lifeline resources")
	assert.Equal(t, []Capability{CapabilitySafetyTriage, CapabilityCaseManagement}, result.AgentsInvoked)
	assert.Contains(t, result.Actions, "crisis_resources_shared")
	assert.Contains(t, result.Actions, "case_opened")
	assert.Contains(t, result.Actions, "counselors_notified")

	assert.Equal(t, 1, fx.cases.openCalls)
	assert.Equal(t, 1, fx.notifier.calls)

	state, _ := fx.states.Load(context.Background(), "conv-crisis")
	require.NotNil(t, state)
	assert.True(t, state.EscalationRequested)
	assert.True(t, state.EscalationInvoked)
	assert.True(t, state.LegacySeverityHigh)
	assert.NotEmpty(t, state.CaseID)
}

func TestProcessTurn_EscalationIsIdempotent(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"crisis","risk_level":"high","rationale":"ideation"}`},
	}}
	fx := newEngineFixture(t, llm)

	ctx := context.Background()
	req := TurnRequest{ConversationID: "conv-repeat", UserID: "u", Message: "I feel like I might hurt myself"}

	first, err := fx.engine.ProcessTurn(ctx, req)
	require.NoError(t, err)
	second, err := fx.engine.ProcessTurn(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.EscalationTriggered)
	assert.True(t, second.EscalationTriggered)
	assert.Equal(t, 1, fx.cases.openCalls, "case management must dispatch exactly once")
	assert.Equal(t, 1, fx.notifier.calls)
}

func TestProcessTurn_FarewellEndsAndAnalyzes(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"small_talk","risk_level":"none","rationale":"closing"}`},
		{Text: validAssessmentJSON},
	}}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-end",
		UserID:         "u",
		Message:        "thanks for listening, goodbye",
	})

	require.NoError(t, err)
	assert.True(t, result.ConversationEnded)
	assert.Equal(t, farewellReply, result.Reply)
	require.NotNil(t, result.Assessment)
	assert.Equal(t, RiskModerate, result.Assessment.OverallRiskLevel)
	// The farewell message itself is part of the analyzed window.
	assert.Equal(t, 1, result.Assessment.MessageCountAnalyzed)
	assert.False(t, result.EscalationTriggered)
}

func TestProcessTurn_MultiTurnConversationAnalyzedOnceWithFullCount(t *testing.T) {
	classifyJSON := `{"intent":"small_talk","risk_level":"none","rationale":"chatting"}`
	responses := make([]LLMResponse, 0, 11)
	for i := 0; i < 10; i++ {
		responses = append(responses, LLMResponse{Text: classifyJSON})
	}
	responses = append(responses, LLMResponse{Text: validAssessmentJSON})
	llm := &fakeLLM{responses: responses}
	fx := newEngineFixture(t, llm)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		result, err := fx.engine.ProcessTurn(ctx, TurnRequest{
			ConversationID: "conv-long",
			UserID:         "u",
			Message:        fmt.Sprintf("checking in about day %d", i),
		})
		require.NoError(t, err)
		assert.False(t, result.ConversationEnded)
		assert.Nil(t, result.Assessment)
	}
	// One classifier call per turn so far, no analysis yet.
	assert.Equal(t, 9, fx.llm.callCount())

	result, err := fx.engine.ProcessTurn(ctx, TurnRequest{
		ConversationID: "conv-long",
		UserID:         "u",
		Message:        "okay, bye for now",
	})

	require.NoError(t, err)
	assert.True(t, result.ConversationEnded)
	assert.Equal(t, farewellReply, result.Reply)
	require.NotNil(t, result.Assessment)
	// All ten user messages are analyzed, the farewell included.
	assert.Equal(t, 10, result.Assessment.MessageCountAnalyzed)
	// Exactly one analysis call on top of the ten classifications.
	assert.Equal(t, 11, fx.llm.callCount())
	assert.False(t, result.EscalationTriggered)
	assert.Equal(t, 0, fx.cases.openCalls)
}

func TestProcessTurn_AnalysisRunsAtMostOnce(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"small_talk","risk_level":"none","rationale":"closing"}`},
		{Text: validAssessmentJSON},
		{Text: `{"intent":"small_talk","risk_level":"none","rationale":"closing again"}`},
	}}
	fx := newEngineFixture(t, llm)
	ctx := context.Background()

	_, err := fx.engine.ProcessTurn(ctx, TurnRequest{ConversationID: "conv-once", Message: "goodbye"})
	require.NoError(t, err)
	// 2 calls so far: classify + analyze.
	assert.Equal(t, 2, fx.llm.callCount())

	result, err := fx.engine.ProcessTurn(ctx, TurnRequest{ConversationID: "conv-once", Message: "goodbye"})
	require.NoError(t, err)

	// Only the classifier ran on the repeat; no second analysis.
	assert.Equal(t, 3, fx.llm.callCount())
	assert.True(t, result.ConversationEnded)
	require.NotNil(t, result.Assessment)
}

func TestProcessTurn_AssessmentEscalationTriggersCase(t *testing.T) {
	escalatingAssessment := strings.Replace(validAssessmentJSON,
		`"should_escalate": false`, `"should_escalate": true`, 1)
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"small_talk","risk_level":"none","rationale":"closing"}`},
		{Text: escalatingAssessment},
	}}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-tier2",
		UserID:         "u",
		Message:        "goodbye",
	})

	require.NoError(t, err)
	assert.True(t, result.ConversationEnded)
	assert.True(t, result.EscalationTriggered, "assessment should_escalate must open a case")
	assert.Equal(t, 1, fx.cases.openCalls)

	record, err := fx.cases.GetCase(context.Background(), "conv-tier2")
	require.NoError(t, err)
	require.NotNil(t, record.Assessment, "tier-2 escalation carries the assessment")
	assert.True(t, record.Assessment.ShouldEscalate)
}

func TestProcessTurn_Tier1DispatchPrecedesAnalysis(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"crisis","risk_level":"critical","rationale":"active intent"}`},
		{Text: validAssessmentJSON},
	}}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-order",
		UserID:         "u",
		Message:        "I want to end my life, goodbye",
	})

	require.NoError(t, err)
	assert.True(t, result.EscalationTriggered)
	assert.True(t, result.ConversationEnded)

	// The case was opened at the fast path, before the end analysis existed;
	// the assessment reached the record only through the later attach.
	assert.False(t, fx.cases.openedWithAssessment)
	assert.Equal(t, 1, fx.cases.attachCalls)

	record, err := fx.cases.GetCase(context.Background(), "conv-order")
	require.NoError(t, err)
	require.NotNil(t, record.Assessment)
	assert.Equal(t, RiskModerate, record.Assessment.OverallRiskLevel)
}

func TestProcessTurn_CaseStoreFailureSurfaces(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"crisis","risk_level":"critical","rationale":"active intent"}`},
	}}
	fx := newEngineFixture(t, llm)
	fx.cases.openErr = errors.New("dynamo unavailable")

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-fail",
		UserID:         "u",
		Message:        "I want to kill myself",
	})

	var failure *EscalationDeliveryFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "conv-fail", failure.ConversationID)

	// The supportive reply still reaches the user.
	require.NotNil(t, result)
	assert.Contains(t, result.Reply, "988")
	assert.False(t, result.EscalationTriggered)
	assert.NotEmpty(t, result.Errors)
}

func TestProcessTurn_NotifyFailureRetriesAndDedupes(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"crisis","risk_level":"high","rationale":"ideation"}`},
	}}
	fx := newEngineFixture(t, llm)
	fx.notifier.err = errors.New("pager down")

	ctx := context.Background()
	req := TurnRequest{ConversationID: "conv-retry", UserID: "u", Message: "I want to hurt myself"}

	first, err := fx.engine.ProcessTurn(ctx, req)
	var failure *EscalationDeliveryFailure
	require.ErrorAs(t, err, &failure, "alert failure must surface even though the case is durable")

	// The failed turn must not re-dispatch at the final escalation check: a
	// same-turn retry would dedupe against the freshly written case record and
	// latch the invoked flag with the alert still undelivered.
	require.NotNil(t, first)
	assert.False(t, first.EscalationTriggered)
	assert.Equal(t, []Capability{CapabilitySafetyTriage, CapabilityCaseManagement}, first.AgentsInvoked)
	assert.Equal(t, 1, fx.cases.openCalls)

	state, loadErr := fx.states.Load(ctx, "conv-retry")
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	assert.False(t, state.EscalationInvoked, "invoked flag stays unset until an alert lands")

	// Recovery: the next trigger retries delivery and dedupes on the store.
	fx.notifier.err = nil
	result, err := fx.engine.ProcessTurn(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.EscalationTriggered)
	assert.Equal(t, 2, fx.cases.openCalls, "retry hits the store again")
	assert.Contains(t, result.Actions, "case_already_open")

	records, err := fx.cases.GetCase(ctx, "conv-retry")
	require.NoError(t, err)
	assert.NotNil(t, records)
}

func TestProcessTurn_ClassifierFailureFailsClosed(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model down")}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-closed",
		Message:        "hello there",
	})

	require.NoError(t, err)
	assert.Equal(t, RiskModerate, result.RiskLevel)
	assert.NotEmpty(t, result.Errors)
	assert.NotEmpty(t, result.Reply, "turn still gets a supportive default reply")
	assert.False(t, result.EscalationTriggered)
}

func TestProcessTurn_AnalyzerFailureFailsSafe(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"small_talk","risk_level":"none","rationale":"closing"}`},
		{Text: "not json at all"},
	}}
	fx := newEngineFixture(t, llm)

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-degraded",
		UserID:         "u",
		Message:        "goodbye",
	})

	require.NoError(t, err)
	require.NotNil(t, result.Assessment)
	assert.Equal(t, RiskHigh, result.Assessment.OverallRiskLevel, "broken analysis must fail toward high risk")
	assert.True(t, result.Assessment.ShouldEscalate)
	assert.True(t, result.EscalationTriggered, "degraded assessment recommends escalation")
	assert.NotEmpty(t, result.Errors)
}

func TestProcessTurn_EscalationSurvivesCallerCancellation(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"crisis","risk_level":"critical","rationale":"active intent"}`},
	}}
	fx := newEngineFixture(t, llm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.engine.ProcessTurn(ctx, TurnRequest{
		ConversationID: "conv-cancel",
		UserID:         "u",
		Message:        "I want to kill myself",
	})

	require.NoError(t, err)
	assert.True(t, result.EscalationTriggered,
		"a decided escalation must not be lost to a client disconnect")
	require.NotNil(t, fx.cases.lastCtx)
	assert.NoError(t, fx.cases.lastCtx.Err(), "dispatch context must be detached from the caller's")
}

func TestProcessTurn_AnalyzeAfterEscalationPolicyOff(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"crisis","risk_level":"critical","rationale":"active intent"}`},
	}}
	fx := newEngineFixture(t, llm)
	fx.engine.cfg.AnalyzeAfterEscalation = false

	result, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-policy",
		UserID:         "u",
		Message:        "I want to kill myself, goodbye",
	})

	require.NoError(t, err)
	assert.True(t, result.EscalationTriggered)
	assert.True(t, result.ConversationEnded)
	assert.Nil(t, result.Assessment, "policy skips post-escalation analysis")
	// Only the classifier ran.
	assert.Equal(t, 1, fx.llm.callCount())

	state, _ := fx.states.Load(context.Background(), "conv-policy")
	require.NotNil(t, state)
	assert.True(t, state.AnalysisCompleted, "policy skip still closes the analysis slot")
}

func TestMergeUpdate_CannotClearMonotonicFlags(t *testing.T) {
	fx := newEngineFixture(t, &fakeLLM{})
	state := NewConversationState("c", "u", time.Now())
	state.EscalationRequested = true
	state.CaseID = "case-1"
	result := &TurnResult{}

	fx.engine.mergeUpdate(state, result, StateUpdate{
		RequestEscalation: false,
		CaseID:            "case-2",
		Actions:           []string{"noop"},
	})

	assert.True(t, state.EscalationRequested, "merge must never clear an escalation request")
	assert.Equal(t, "case-1", state.CaseID, "first case id wins")
	assert.Equal(t, []string{"noop"}, result.Actions)
}

func TestProcessTurn_ConcurrentConversationsAreIsolated(t *testing.T) {
	llm := &fakeLLM{responses: []LLMResponse{
		{Text: `{"intent":"support_seeking","risk_level":"low","rationale":"ok"}`},
		{Text: "I'm here with you."},
	}}
	fx := newEngineFixture(t, llm)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			_, err := fx.engine.ProcessTurn(context.Background(), TurnRequest{
				ConversationID: "conv-" + id,
				Message:        "hello",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		state, err := fx.states.Load(context.Background(), "conv-"+id)
		require.NoError(t, err)
		require.NotNil(t, state, "conversation %s must have its own state", id)
		assert.Len(t, state.History, 2)
	}
}
