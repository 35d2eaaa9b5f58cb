package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// CaseStatus represents the lifecycle of an escalation case.
type CaseStatus string

const (
	CaseStatusOpen     CaseStatus = "open"
	CaseStatusReviewed CaseStatus = "reviewed"
	CaseStatusClosed   CaseStatus = "closed"
)

// ErrCaseNotFound indicates the requested case does not exist.
var ErrCaseNotFound = errors.New("engine: case not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// CaseRecord captures the persisted state of a counselor escalation. The
// table is keyed by conversation id, which is what makes escalation
// idempotent at the storage layer: one conversation, at most one case.
type CaseRecord struct {
	ConversationID string                  `dynamodbav:"conversationId" json:"conversationId"`
	CaseID         string                  `dynamodbav:"caseId" json:"caseId"`
	UserID         string                  `dynamodbav:"userId" json:"userId"`
	Status         CaseStatus              `dynamodbav:"status" json:"status"`
	RiskLevel      RiskLevel               `dynamodbav:"riskLevel" json:"riskLevel"`
	CrisisSignals  []string                `dynamodbav:"crisisSignals,omitempty" json:"crisisSignals,omitempty"`
	TriggerMessage string                  `dynamodbav:"triggerMessage,omitempty" json:"triggerMessage,omitempty"`
	Assessment     *ConversationAssessment `dynamodbav:"assessment,omitempty" json:"assessment,omitempty"`
	CreatedAt      string                  `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt      string                  `dynamodbav:"updatedAt" json:"updatedAt"`
}

// CaseOpener is the store contract the case-management adapter consumes.
type CaseOpener interface {
	OpenCase(ctx context.Context, record *CaseRecord) error
	GetCase(ctx context.Context, conversationID string) (*CaseRecord, error)
}

// AssessmentAttacher adds the end-of-conversation assessment to a case that
// was opened earlier in the conversation.
type AssessmentAttacher interface {
	AttachAssessment(ctx context.Context, conversationID string, assessment *ConversationAssessment) error
}

// CaseStore persists case records to DynamoDB.
type CaseStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ CaseOpener = (*CaseStore)(nil)
var _ AssessmentAttacher = (*CaseStore)(nil)

// NewCaseStore builds a store backed by the provided DynamoDB client.
func NewCaseStore(client dynamoAPI, tableName string, logger *logging.Logger) *CaseStore {
	if client == nil {
		panic("engine: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("engine: case table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CaseStore{client: client, tableName: tableName, logger: logger}
}

// OpenCase inserts a new open case. The conditional write makes a second
// open for the same conversation fail with ErrCaseExists, which callers
// treat as a successful no-op.
func (s *CaseStore) OpenCase(ctx context.Context, record *CaseRecord) error {
	if record == nil {
		return errors.New("engine: case record cannot be nil")
	}
	if record.ConversationID == "" {
		return errors.New("engine: case record requires a conversation id")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	record.Status = CaseStatusOpen
	record.CreatedAt = now
	record.UpdatedAt = now

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("engine: failed to marshal case record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(conversationId)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrCaseExists
		}
		return fmt.Errorf("engine: failed to persist case record: %w", err)
	}

	s.logger.Info("case record opened",
		"conversation_id", record.ConversationID,
		"case_id", record.CaseID,
		"risk_level", record.RiskLevel,
	)
	return nil
}

// GetCase loads the case for a conversation.
func (s *CaseStore) GetCase(ctx context.Context, conversationID string) (*CaseRecord, error) {
	if conversationID == "" {
		return nil, errors.New("engine: conversation id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load case record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrCaseNotFound
	}

	var record CaseRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("engine: failed to decode case record: %w", err)
	}
	return &record, nil
}

// AttachAssessment adds the end-of-conversation assessment to an existing
// case for record-keeping.
func (s *CaseStore) AttachAssessment(ctx context.Context, conversationID string, assessment *ConversationAssessment) error {
	if conversationID == "" {
		return errors.New("engine: conversation id required")
	}
	if assessment == nil {
		return errors.New("engine: assessment cannot be nil")
	}
	attr, err := attributevalue.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("engine: failed to marshal assessment: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		UpdateExpression:    aws.String("SET assessment = :assessment, updatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(conversationId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":assessment": attr,
			":updated":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrCaseNotFound
		}
		return fmt.Errorf("engine: failed to attach assessment: %w", err)
	}
	return nil
}
