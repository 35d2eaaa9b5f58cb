package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/havenline/support-ai-platform/internal/engine"
	"github.com/havenline/support-ai-platform/pkg/logging"
)

// SMSSender sends SMS messages to on-call counselors.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Config holds counselor alert routing.
type Config struct {
	// EmailRecipients receive the full case alert.
	EmailRecipients []string
	// SMSRecipients receive a short pager-style alert.
	SMSRecipients []string
}

// Service delivers case-opened alerts to the on-call counselor rotation. It
// is the production implementation of the engine's CounselorNotifier.
type Service struct {
	email  EmailSender
	sms    SMSSender
	cfg    Config
	logger *logging.Logger
}

var _ engine.CounselorNotifier = (*Service)(nil)

// NewService creates a counselor notification service. email and sms may each
// be nil; delivery is attempted on whichever channels are configured.
func NewService(email EmailSender, sms SMSSender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:  email,
		sms:    sms,
		cfg:    cfg,
		logger: logger,
	}
}

// NotifyCaseOpened alerts every configured recipient about a newly opened
// case. It returns an error only when ALL configured channels fail; a case
// that reached at least one human counts as delivered.
func (s *Service) NotifyCaseOpened(ctx context.Context, record *engine.CaseRecord) error {
	if record == nil {
		return errors.New("notify: case record cannot be nil")
	}

	subject, body := s.renderCaseAlert(record)

	var (
		attempted int
		delivered int
		errs      []error
	)

	if s.email != nil {
		for _, to := range s.cfg.EmailRecipients {
			attempted++
			if err := s.email.Send(ctx, EmailMessage{
				To:      to,
				Subject: subject,
				Body:    body,
			}); err != nil {
				errs = append(errs, err)
				continue
			}
			delivered++
		}
	}

	if s.sms != nil {
		smsBody := fmt.Sprintf("Havenline case %s opened: %s risk, conversation %s. Check the counselor console.",
			record.CaseID, record.RiskLevel, record.ConversationID)
		for _, to := range s.cfg.SMSRecipients {
			attempted++
			if err := s.sms.SendSMS(ctx, to, smsBody); err != nil {
				errs = append(errs, err)
				continue
			}
			delivered++
		}
	}

	if attempted == 0 {
		s.logger.Warn("no counselor alert channels configured", "case_id", record.CaseID)
		return nil
	}
	if delivered == 0 {
		return fmt.Errorf("notify: all counselor alerts failed for case %s: %w", record.CaseID, errors.Join(errs...))
	}
	if len(errs) > 0 {
		s.logger.Warn("partial counselor alert delivery",
			"case_id", record.CaseID,
			"delivered", delivered,
			"failed", len(errs),
		)
	}
	s.logger.Info("counselor alert delivered",
		"case_id", record.CaseID,
		"conversation_id", record.ConversationID,
		"risk_level", record.RiskLevel,
		"recipients", delivered,
	)
	return nil
}

func (s *Service) renderCaseAlert(record *engine.CaseRecord) (subject, body string) {
	subject = fmt.Sprintf("Case opened: %s risk (%s)", record.RiskLevel, record.CaseID)

	var b strings.Builder
	fmt.Fprintf(&b, "A support conversation was escalated and a case is now open.\n\n")
	fmt.Fprintf(&b, "Case ID: %s\n", record.CaseID)
	fmt.Fprintf(&b, "Conversation: %s\n", record.ConversationID)
	fmt.Fprintf(&b, "Risk level: %s\n", record.RiskLevel)
	if len(record.CrisisSignals) > 0 {
		fmt.Fprintf(&b, "Crisis signals: %s\n", strings.Join(record.CrisisSignals, ", "))
	}
	if record.Assessment != nil {
		fmt.Fprintf(&b, "\nEnd-of-conversation assessment:\n")
		fmt.Fprintf(&b, "  Overall risk: %s (trend: %s)\n", record.Assessment.OverallRiskLevel, record.Assessment.RiskTrend)
		if record.Assessment.Summary != "" {
			fmt.Fprintf(&b, "  Summary: %s\n", record.Assessment.Summary)
		}
		if len(record.Assessment.RecommendedActions) > 0 {
			fmt.Fprintf(&b, "  Recommended actions: %s\n", strings.Join(record.Assessment.RecommendedActions, "; "))
		}
	}
	fmt.Fprintf(&b, "\nOpened at: %s\n", record.CreatedAt)
	fmt.Fprintf(&b, "\nReview the conversation in the counselor console before reaching out.\n")
	return subject, b.String()
}
