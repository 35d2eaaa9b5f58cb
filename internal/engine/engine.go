package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/havenline/support-ai-platform/internal/observability/metrics"
	"github.com/havenline/support-ai-platform/pkg/logging"
)

// EngineConfig carries the policy knobs the state machine itself owns.
type EngineConfig struct {
	// RecentHistoryWindow bounds the context passed to the classifier.
	RecentHistoryWindow int
	// AnalyzeAfterEscalation controls whether the end-of-conversation
	// analysis still runs for record-keeping when a Tier-1 escalation has
	// already been dispatched.
	AnalyzeAfterEscalation bool
}

// Engine is the orchestrating state machine. One Engine serves many
// conversations; turns within a conversation are processed strictly
// sequentially via per-conversation locks, while different conversations
// proceed in parallel.
type Engine struct {
	classifier  *RiskClassifier
	analyzer    *ConversationAnalyzer
	endDetector *EndDetector
	adapters    AdapterSet
	states      StateStore
	transcripts *TranscriptStore
	archive     *AssessmentArchive
	events      *EventLogger
	metrics     *metrics.EngineMetrics
	logger      *logging.Logger
	cfg         EngineConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the turn pipeline. transcripts, archive and metrics may be
// nil; everything else is required.
func NewEngine(
	classifier *RiskClassifier,
	analyzer *ConversationAnalyzer,
	endDetector *EndDetector,
	adapters AdapterSet,
	states StateStore,
	transcripts *TranscriptStore,
	archive *AssessmentArchive,
	m *metrics.EngineMetrics,
	logger *logging.Logger,
	cfg EngineConfig,
) *Engine {
	if classifier == nil {
		panic("engine: classifier cannot be nil")
	}
	if analyzer == nil {
		panic("engine: analyzer cannot be nil")
	}
	if endDetector == nil {
		panic("engine: end detector cannot be nil")
	}
	if adapters.CaseManagement == nil {
		panic("engine: case-management adapter cannot be nil")
	}
	if states == nil {
		panic("engine: state store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.RecentHistoryWindow <= 0 {
		cfg.RecentHistoryWindow = 10
	}
	return &Engine{
		classifier:  classifier,
		analyzer:    analyzer,
		endDetector: endDetector,
		adapters:    adapters,
		states:      states,
		transcripts: transcripts,
		archive:     archive,
		events:      NewEventLogger(logger),
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
	}
}

// conversationLock returns the mutex serializing one conversation's turns.
func (e *Engine) conversationLock(conversationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := e.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}

// ProcessTurn runs one inbound message through the full pipeline:
// received -> classified -> routed -> responded -> end-analyzed ->
// escalation-checked -> closed.
//
// The returned error is non-nil only for invalid input or an escalation
// delivery failure; everything else is recovered per the fail-closed and
// fail-safe policies and reported inside TurnResult.Errors.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.New("engine: message cannot be empty")
	}
	if req.ConversationID == "" {
		return nil, errors.New("engine: conversation id required")
	}
	now := req.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	started := time.Now()

	lock := e.conversationLock(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.states.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewConversationState(req.ConversationID, req.UserID, now)
	}
	previousActivity := state.LastActivity

	result := &TurnResult{
		ConversationID: req.ConversationID,
		Timestamp:      now,
	}
	e.events.TurnReceived(ctx, req.ConversationID, req.UserID, message)

	// received -> classified. Always runs; fail-closed inside the classifier.
	classification := e.classifier.Classify(ctx, message, state.RecentHistory(e.cfg.RecentHistoryWindow))
	if classification.Failed {
		e.metrics.ObserveClassifierFailure()
		result.Errors = append(result.Errors, classification.Rationale)
	}
	state.ImmediateRiskLevel = classification.ImmediateRiskLevel
	state.CrisisSignals = classification.CrisisSignals
	result.RiskLevel = classification.ImmediateRiskLevel
	result.CrisisSignals = classification.CrisisSignals
	e.events.RiskClassified(ctx, req.ConversationID, classification)

	state.AppendHistory(ChatRoleUser, message, now)

	// classified -> routed. The Tier-1 fast path sets the escalation flag
	// synchronously, before any adapter dispatch.
	if classification.ImmediateRiskLevel.AtLeast(RiskHigh) {
		if !state.EscalationRequested {
			e.events.EscalationRequested(ctx, req.ConversationID, "tier1", classification.ImmediateRiskLevel)
		}
		state.EscalationRequested = true
		state.LegacySeverityHigh = true
	}
	if classification.Intent == IntentEscalation {
		if !state.EscalationRequested {
			e.events.EscalationRequested(ctx, req.ConversationID, "user_request", classification.ImmediateRiskLevel)
		}
		state.EscalationRequested = true
	}

	var routed Adapter
	switch {
	case classification.ImmediateRiskLevel.AtLeast(RiskHigh) || classification.Intent == IntentCrisis:
		routed = e.adapters.SafetyTriage
	case classification.Intent == IntentCoaching || classification.Intent == IntentSupportSeeking:
		routed = e.adapters.Coaching
	}

	// routed -> responded. Exactly one reply per turn, adapter-produced or
	// the intent default.
	reply := defaultReplyFor(classification.Intent)
	if routed != nil {
		update, adapterErr := routed.Execute(ctx, e.viewFor(state, message))
		e.mergeUpdate(state, result, update)
		if update.Reply != "" {
			reply = update.Reply
		}
		result.AgentsInvoked = append(result.AgentsInvoked, routed.Capability())
		e.events.AdapterInvoked(ctx, req.ConversationID, routed.Capability(), adapterErr != nil)
		if adapterErr != nil {
			// Coaching/triage failures are non-fatal for the turn.
			e.metrics.ObserveAdapter(string(routed.Capability()), "error")
			result.Errors = append(result.Errors, adapterErr.Error())
			e.logger.Warn("sub-workflow failed, continuing turn",
				"conversation_id", req.ConversationID,
				"capability", routed.Capability(),
				"error", adapterErr,
			)
		} else {
			e.metrics.ObserveAdapter(string(routed.Capability()), "ok")
		}
	}

	// Tier-1 dispatch happens before Tier-2 analysis is even attempted:
	// safety takes precedence over record-keeping.
	var deliveryErr error
	if state.EscalationRequested && !state.EscalationInvoked {
		deliveryErr = e.dispatchEscalation(ctx, state, result, message, "tier1")
	}

	// responded -> end-analyzed.
	ended := e.endDetector.IsEnded(message, previousActivity, now, req.EndRequested)
	if ended && !state.ConversationEnded {
		state.ConversationEnded = true
		e.events.ConversationEnded(ctx, req.ConversationID, endReason(e.endDetector, message, previousActivity, now, req.EndRequested))
	}
	if state.ConversationEnded {
		reply = farewellReply
		e.runEndAnalysis(ctx, state, result)
	}

	// end-analyzed -> escalation-checked. Final decision is a monotonic OR
	// over the three independent sources; dispatch is idempotent. A delivery
	// failure earlier in this turn must not be retried here: the case record
	// already exists, so a same-turn retry would dedupe into a silent success
	// and latch the invoked flag with the counselor alert still undelivered.
	if finalEscalation(state) {
		state.EscalationRequested = true
		if !state.EscalationInvoked && deliveryErr == nil {
			deliveryErr = e.dispatchEscalation(ctx, state, result, message, "tier2")
		}
	}

	// escalation-checked -> closed.
	result.Reply = reply
	result.EscalationTriggered = state.EscalationInvoked
	result.ConversationEnded = state.ConversationEnded
	result.Assessment = state.EndAssessment

	state.AppendHistory(ChatRoleAssistant, reply, time.Now().UTC())
	state.LastActivity = now

	if err := e.states.Save(ctx, state); err != nil {
		e.logger.Error("failed to persist conversation state",
			"conversation_id", req.ConversationID,
			"error", err,
		)
		result.Errors = append(result.Errors, err.Error())
	}
	e.persistTranscript(ctx, state, message, reply, now)

	status := "ok"
	if deliveryErr != nil {
		status = "escalation_delivery_failed"
	}
	e.metrics.ObserveTurn(string(result.RiskLevel), status, time.Since(started).Seconds())

	if deliveryErr != nil {
		return result, deliveryErr
	}
	return result, nil
}

// dispatchEscalation invokes case management exactly once per conversation.
// The dispatch context is detached from the caller's so a client disconnect
// cannot cancel an already-decided escalation.
func (e *Engine) dispatchEscalation(ctx context.Context, state *ConversationState, result *TurnResult, message, source string) error {
	if state.EscalationInvoked {
		return nil
	}

	dispatchCtx := context.WithoutCancel(ctx)
	update, err := e.adapters.CaseManagement.Execute(dispatchCtx, e.viewFor(state, message))
	result.AgentsInvoked = append(result.AgentsInvoked, CapabilityCaseManagement)
	e.events.AdapterInvoked(ctx, state.ConversationID, CapabilityCaseManagement, err != nil)
	if err != nil {
		// The case may already be durable (alert failure); keep whatever the
		// adapter handed back so a retry can dedupe, but leave the invoked
		// flag unset so the next trigger retries delivery.
		e.mergeUpdate(state, result, update)
		e.metrics.ObserveAdapter(string(CapabilityCaseManagement), "error")
		e.metrics.ObserveEscalation(source, "failed")
		failure := &EscalationDeliveryFailure{ConversationID: state.ConversationID, Err: err}
		result.Errors = append(result.Errors, failure.Error())
		return failure
	}

	e.mergeUpdate(state, result, update)
	state.EscalationInvoked = true
	if update.CaseID != "" {
		state.CaseID = update.CaseID
		e.events.CaseOpened(ctx, state.ConversationID, update.CaseID)
	}
	e.metrics.ObserveAdapter(string(CapabilityCaseManagement), "ok")
	e.metrics.ObserveEscalation(source, "ok")
	return nil
}

// runEndAnalysis performs the Tier-2 assessment at most once per
// conversation. A second call after AnalysisCompleted would be a programming
// error; the guard makes repeated end signals harmless instead.
func (e *Engine) runEndAnalysis(ctx context.Context, state *ConversationState, result *TurnResult) {
	if state.AnalysisCompleted {
		return
	}
	if state.EscalationInvoked && !e.cfg.AnalyzeAfterEscalation {
		state.AnalysisCompleted = true
		e.metrics.ObserveAnalysis("skipped_policy")
		e.logger.Info("skipping end analysis after escalation per policy",
			"conversation_id", state.ConversationID,
		)
		return
	}

	state.AnalysisCompleted = true
	duration := state.LastActivity.Sub(state.StartedAt)
	if duration < 0 {
		duration = 0
	}

	assessment, err := e.analyzer.Analyze(ctx, state.History, duration)
	if err != nil {
		// Fail-safe: the absence of a conversation-level read is treated as
		// more serious than a single bad per-turn classification, so the
		// degraded assessment is high risk with escalation recommended.
		assessment = DegradedAssessment(err, state.UserMessageCount(), duration)
		e.metrics.ObserveAnalysis("degraded")
		result.Errors = append(result.Errors, err.Error())
		e.events.AnalysisCompleted(ctx, state.ConversationID, assessment, true)
	} else {
		e.metrics.ObserveAnalysis("ok")
		e.events.AnalysisCompleted(ctx, state.ConversationID, assessment, false)
	}
	state.EndAssessment = assessment

	// A case opened earlier in the conversation (Tier-1) gets the assessment
	// attached so counselors see the full read alongside the trigger message.
	if state.CaseID != "" {
		if attacher, ok := e.adapters.CaseManagement.(AssessmentAttacher); ok {
			if err := attacher.AttachAssessment(ctx, state.ConversationID, assessment); err != nil {
				e.logger.Warn("failed to attach assessment to case",
					"conversation_id", state.ConversationID,
					"case_id", state.CaseID,
					"error", err,
				)
			}
		}
	}

	if e.archive != nil {
		if archiveErr := e.archive.Archive(ctx, state); archiveErr != nil {
			e.logger.Warn("assessment archival failed",
				"conversation_id", state.ConversationID,
				"error", archiveErr,
			)
		}
	}
}

// finalEscalation is the single authoritative OR-merge over the three
// independent escalation sources.
func finalEscalation(state *ConversationState) bool {
	return state.EscalationRequested ||
		(state.EndAssessment != nil && state.EndAssessment.ShouldEscalate) ||
		state.LegacySeverityHigh
}

func (e *Engine) viewFor(state *ConversationState, message string) StateView {
	return StateView{
		ConversationID:      state.ConversationID,
		UserID:              state.UserID,
		Message:             message,
		History:             state.History,
		ImmediateRiskLevel:  state.ImmediateRiskLevel,
		CrisisSignals:       state.CrisisSignals,
		EscalationRequested: state.EscalationRequested,
		EndAssessment:       state.EndAssessment,
	}
}

// mergeUpdate folds an adapter's partial update into state and result. The
// merge is additive only: it can request an escalation but never clear one,
// and it cannot rewind conversation-ended.
func (e *Engine) mergeUpdate(state *ConversationState, result *TurnResult, update StateUpdate) {
	if update.RequestEscalation && !state.EscalationRequested {
		state.EscalationRequested = true
	}
	if update.CaseID != "" && state.CaseID == "" {
		state.CaseID = update.CaseID
	}
	result.Actions = append(result.Actions, update.Actions...)
}

func (e *Engine) persistTranscript(ctx context.Context, state *ConversationState, userMessage, reply string, at time.Time) {
	if e.transcripts == nil {
		return
	}
	if err := e.transcripts.AppendMessage(ctx, state.ConversationID, state.UserID, TranscriptMessage{
		Role:      ChatRoleUser,
		Content:   userMessage,
		RiskLevel: state.ImmediateRiskLevel,
		CreatedAt: at,
	}); err != nil {
		e.logger.Warn("transcript append failed", "conversation_id", state.ConversationID, "error", err)
	}
	if err := e.transcripts.AppendMessage(ctx, state.ConversationID, state.UserID, TranscriptMessage{
		Role:      ChatRoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		e.logger.Warn("transcript append failed", "conversation_id", state.ConversationID, "error", err)
	}
	if state.ConversationEnded {
		overall := state.ImmediateRiskLevel
		if state.EndAssessment != nil {
			overall = state.EndAssessment.OverallRiskLevel
		}
		if err := e.transcripts.MarkEnded(ctx, state.ConversationID, overall, state.EscalationInvoked); err != nil {
			e.logger.Warn("transcript mark-ended failed", "conversation_id", state.ConversationID, "error", err)
		}
	}
}

func endReason(d *EndDetector, message string, lastActivity, now time.Time, explicit bool) string {
	switch {
	case explicit:
		return "explicit"
	case d.InactivityExceeded(lastActivity, now):
		return "inactivity"
	case d.HasFarewell(message):
		return "farewell"
	default:
		return "unknown"
	}
}
