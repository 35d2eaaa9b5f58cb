package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// CounselorNotifier alerts on-call humans that a case needs review.
// Implemented by internal/notify; kept narrow here so tests can fake it.
type CounselorNotifier interface {
	NotifyCaseOpened(ctx context.Context, record *CaseRecord) error
}

// CaseManagementAdapter opens a case record and alerts counselors. It is the
// only adapter whose failure is fatal for the turn: a dropped escalation must
// surface, not be swallowed.
//
// Dedup lives here, not in the engine: the store's conditional write
// collapses a second open for the same conversation into a no-op even if two
// independent triggers race.
type CaseManagementAdapter struct {
	cases    CaseOpener
	notifier CounselorNotifier
	logger   *logging.Logger
}

// NewCaseManagementAdapter builds the case-management sub-workflow.
func NewCaseManagementAdapter(cases CaseOpener, notifier CounselorNotifier, logger *logging.Logger) *CaseManagementAdapter {
	if cases == nil {
		panic("engine: case store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CaseManagementAdapter{cases: cases, notifier: notifier, logger: logger}
}

func (a *CaseManagementAdapter) Capability() Capability { return CapabilityCaseManagement }

// Execute opens the case and fires counselor alerts. A pre-existing case is
// treated as success without a second alert.
func (a *CaseManagementAdapter) Execute(ctx context.Context, view StateView) (StateUpdate, error) {
	record := &CaseRecord{
		ConversationID: view.ConversationID,
		CaseID:         uuid.NewString(),
		UserID:         view.UserID,
		RiskLevel:      view.ImmediateRiskLevel,
		CrisisSignals:  view.CrisisSignals,
		TriggerMessage: view.Message,
		Assessment:     view.EndAssessment,
	}

	err := a.cases.OpenCase(ctx, record)
	if errors.Is(err, ErrCaseExists) {
		existing, getErr := a.cases.GetCase(ctx, view.ConversationID)
		if getErr != nil || existing == nil {
			a.logger.Warn("case already exists but could not be loaded",
				"conversation_id", view.ConversationID,
				"error", getErr,
			)
			return StateUpdate{Actions: []string{"case_already_open"}}, nil
		}
		a.logger.Info("escalation deduplicated against existing case",
			"conversation_id", view.ConversationID,
			"case_id", existing.CaseID,
		)
		return StateUpdate{
			CaseID:  existing.CaseID,
			Actions: []string{"case_already_open"},
		}, nil
	}
	if err != nil {
		return StateUpdate{}, &AdapterFailure{Capability: CapabilityCaseManagement, Err: err}
	}

	update := StateUpdate{
		CaseID:  record.CaseID,
		Actions: []string{"case_opened"},
	}

	if a.notifier != nil {
		if err := a.notifier.NotifyCaseOpened(ctx, record); err != nil {
			// The case record exists, so the escalation is durable; a failed
			// alert still has to surface to the caller for retry.
			return update, &AdapterFailure{Capability: CapabilityCaseManagement, Err: err}
		}
		update.Actions = append(update.Actions, "counselors_notified")
	}

	return update, nil
}

// AttachAssessment forwards the end-of-conversation assessment to the open
// case when the backing store supports it.
func (a *CaseManagementAdapter) AttachAssessment(ctx context.Context, conversationID string, assessment *ConversationAssessment) error {
	attacher, ok := a.cases.(AssessmentAttacher)
	if !ok {
		return nil
	}
	return attacher.AttachAssessment(ctx, conversationID, assessment)
}

var _ AssessmentAttacher = (*CaseManagementAdapter)(nil)
