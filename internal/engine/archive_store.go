package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// s3API is the subset of the S3 client used by AssessmentArchive.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// archivedAssessment is the JSON document written per conversation.
type archivedAssessment struct {
	ConversationID string                  `json:"conversation_id"`
	UserID         string                  `json:"user_id"`
	Assessment     *ConversationAssessment `json:"assessment"`
	Escalated      bool                    `json:"escalated"`
	CaseID         string                  `json:"case_id,omitempty"`
	MessageCount   int                     `json:"message_count"`
	ArchivedAt     time.Time               `json:"archived_at"`
}

// AssessmentArchive writes end-of-conversation assessments to S3 for
// record-keeping and later quality review. If bucket is empty, all
// operations are no-ops.
type AssessmentArchive struct {
	bucket   string
	s3Client s3API
	logger   *logging.Logger
}

// NewAssessmentArchive creates the archive. A nil client or empty bucket
// disables archival without failing callers.
func NewAssessmentArchive(s3Client s3API, bucket string, logger *logging.Logger) *AssessmentArchive {
	if logger == nil {
		logger = logging.Default()
	}
	return &AssessmentArchive{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured.
func (a *AssessmentArchive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// Archive writes the assessment document keyed by date and conversation id.
func (a *AssessmentArchive) Archive(ctx context.Context, state *ConversationState) error {
	if !a.Enabled() {
		return nil
	}
	if state == nil || state.EndAssessment == nil {
		return nil
	}

	doc := archivedAssessment{
		ConversationID: state.ConversationID,
		UserID:         state.UserID,
		Assessment:     state.EndAssessment,
		Escalated:      state.EscalationInvoked,
		CaseID:         state.CaseID,
		MessageCount:   len(state.History),
		ArchivedAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("engine: marshal archived assessment: %w", err)
	}

	now := doc.ArchivedAt
	key := fmt.Sprintf("assessments/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), state.ConversationID)

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("engine: s3 put %s: %w", key, err)
	}

	a.logger.Info("archived assessment to S3",
		"conversation_id", state.ConversationID,
		"s3_key", key,
		"overall_risk", state.EndAssessment.OverallRiskLevel,
		"escalated", doc.Escalated,
	)
	return nil
}
