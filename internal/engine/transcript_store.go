package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TranscriptStore persists conversations and messages to PostgreSQL for
// long-term history. Live per-turn state lives in the StateStore; this store
// is the durable record the surrounding platform reads.
type TranscriptStore struct {
	db *sql.DB
}

// NewTranscriptStore creates a new transcript store. A nil db disables
// persistence (all methods become no-ops).
func NewTranscriptStore(db *sql.DB) *TranscriptStore {
	if db == nil {
		return nil
	}
	return &TranscriptStore{db: db}
}

// TranscriptMessage is one persisted transcript row.
type TranscriptMessage struct {
	ID             uuid.UUID
	ConversationID string
	Role           string
	Content        string
	RiskLevel      RiskLevel
	CreatedAt      time.Time
}

// EnsureConversation creates or touches a conversation row, returning its UUID.
func (s *TranscriptStore) EnsureConversation(ctx context.Context, conversationID, userID string) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, nil
	}

	var existingID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE conversation_id = $1`,
		conversationID,
	).Scan(&existingID)

	if err == nil {
		s.db.ExecContext(ctx,
			`UPDATE conversations SET updated_at = $1 WHERE id = $2`,
			time.Now(), existingID,
		)
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("engine: failed to check existing conversation: %w", err)
	}

	newID := uuid.New()
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, conversation_id, user_id, status,
			message_count, started_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, newID, conversationID, userID, "active", 0, now, now, now)
	if err != nil {
		// Another worker may have raced the insert.
		if strings.Contains(err.Error(), "duplicate key") {
			return s.EnsureConversation(ctx, conversationID, userID)
		}
		return uuid.Nil, fmt.Errorf("engine: failed to create conversation: %w", err)
	}
	return newID, nil
}

// AppendMessage persists a message and bumps the conversation counter.
func (s *TranscriptStore) AppendMessage(ctx context.Context, conversationID, userID string, msg TranscriptMessage) error {
	if s == nil || s.db == nil {
		return nil
	}

	if _, err := s.EnsureConversation(ctx, conversationID, userID); err != nil {
		return err
	}

	msgID := msg.ID
	if msgID == uuid.Nil {
		msgID = uuid.New()
	}
	timestamp := msg.CreatedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (
			id, conversation_id, role, content, risk_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, msgID, conversationID, msg.Role, msg.Content, string(msg.RiskLevel), timestamp)
	if err != nil {
		return fmt.Errorf("engine: failed to insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1, last_message_at = $1, updated_at = $1
		WHERE conversation_id = $2
	`, timestamp, conversationID)
	if err != nil {
		return fmt.Errorf("engine: failed to update counters: %w", err)
	}
	return nil
}

// MarkEnded stamps the conversation as ended with its final risk read.
func (s *TranscriptStore) MarkEnded(ctx context.Context, conversationID string, overallRisk RiskLevel, escalated bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = 'ended', ended_at = $1, overall_risk = $2, escalated = $3, updated_at = $1
		WHERE conversation_id = $4
	`, time.Now(), string(overallRisk), escalated, conversationID)
	if err != nil {
		return fmt.Errorf("engine: failed to mark conversation ended: %w", err)
	}
	return nil
}

// ListMessages returns the stored transcript in insertion order.
func (s *TranscriptStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]TranscriptMessage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, risk_level, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []TranscriptMessage
	for rows.Next() {
		var msg TranscriptMessage
		var risk string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &risk, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("engine: failed to scan message: %w", err)
		}
		msg.RiskLevel = RiskLevel(risk)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
