// Package convo persists conversations, their append-only message logs, and
// the engine's per-conversation state cursor.
package convo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is the thread between one bot and one external address.
type Conversation struct {
	ID             uuid.UUID
	BotID          uuid.UUID
	Contact        string
	DisplayName    string
	Sold           bool
	SoldAt         *time.Time
	OrderReport    string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Message is one immutable entry in a conversation log.
type Message struct {
	ID        uuid.UUID
	Role      string
	Content   string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// State is the engine's explicit progress cursor, separate from the raw log.
type State struct {
	ConversationID  uuid.UUID
	Stage           int
	FollowUp1SentAt *time.Time
	FollowUp2SentAt *time.Time
	UpdatedAt       time.Time
}

// Store persists conversations to PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("convo: db required")
	}
	return &Store{db: db}
}

// FindOrCreate returns the conversation for (botID, contact), creating it and
// its state row on first contact. Exactly one conversation exists per pair.
func (s *Store) FindOrCreate(ctx context.Context, botID uuid.UUID, contact, displayName string) (*Conversation, *State, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, nil, errors.New("convo: contact required")
	}

	conv, err := s.get(ctx, botID, contact)
	if err == nil {
		if displayName != "" && conv.DisplayName == "" {
			_, _ = s.db.ExecContext(ctx,
				`UPDATE conversations SET display_name = $1 WHERE id = $2`, displayName, conv.ID)
			conv.DisplayName = displayName
		}
		state, err := s.GetState(ctx, conv.ID)
		if err != nil {
			return nil, nil, err
		}
		return conv, state, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("convo: lookup failed: %w", err)
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, bot_id, contact, display_name, sold, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $5)
	`, id, botID, contact, displayName, now)
	if err != nil {
		// Unique (bot_id, contact) race: another worker created it first.
		if strings.Contains(err.Error(), "duplicate key") {
			return s.FindOrCreate(ctx, botID, contact, displayName)
		}
		return nil, nil, fmt.Errorf("convo: create failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_states (conversation_id, stage, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (conversation_id) DO NOTHING
	`, id, now); err != nil {
		return nil, nil, fmt.Errorf("convo: create state failed: %w", err)
	}

	conv = &Conversation{
		ID:             id,
		BotID:          botID,
		Contact:        contact,
		DisplayName:    displayName,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	return conv, &State{ConversationID: id, UpdatedAt: now}, nil
}

func (s *Store) get(ctx context.Context, botID uuid.UUID, contact string) (*Conversation, error) {
	var conv Conversation
	var soldAt sql.NullTime
	var report sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, contact, display_name, sold, sold_at, order_report, created_at, last_activity_at
		FROM conversations
		WHERE bot_id = $1 AND contact = $2
	`, botID, contact).Scan(
		&conv.ID, &conv.BotID, &conv.Contact, &conv.DisplayName,
		&conv.Sold, &soldAt, &report, &conv.CreatedAt, &conv.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	if soldAt.Valid {
		conv.SoldAt = &soldAt.Time
	}
	conv.OrderReport = report.String
	return &conv, nil
}

// AppendMessage writes one message and bumps the conversation's last activity.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, msg Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var payload any
	if len(msg.Payload) > 0 {
		payload = []byte(msg.Payload)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, conversationID, msg.Role, msg.Content, payload, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("convo: insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET last_activity_at = $1 WHERE id = $2
	`, msg.CreatedAt, conversationID)
	if err != nil {
		return fmt.Errorf("convo: touch activity: %w", err)
	}
	return nil
}

// History returns the most recent messages in chronological order.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	query := `
		SELECT id, role, content, COALESCE(payload::text, ''), created_at
		FROM (
			SELECT id, role, content, payload, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id
	`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("convo: history query: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var payload string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("convo: history scan: %w", err)
		}
		if payload != "" {
			msg.Payload = json.RawMessage(payload)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkSold sets the sold flag exactly once. It reports whether this call won
// the false→true transition; later calls are no-ops.
func (s *Store) MarkSold(ctx context.Context, conversationID uuid.UUID, report string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET sold = TRUE, sold_at = $1, order_report = $2
		WHERE id = $3 AND sold = FALSE
	`, at, report, conversationID)
	if err != nil {
		return false, fmt.Errorf("convo: mark sold: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("convo: mark sold result: %w", err)
	}
	return n > 0, nil
}

// GetState loads the engine cursor for a conversation.
func (s *Store) GetState(ctx context.Context, conversationID uuid.UUID) (*State, error) {
	var state State
	var f1, f2 sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, stage, followup1_sent_at, followup2_sent_at, updated_at
		FROM bot_states WHERE conversation_id = $1
	`, conversationID).Scan(&state.ConversationID, &state.Stage, &f1, &f2, &state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("convo: get state: %w", err)
	}
	if f1.Valid {
		state.FollowUp1SentAt = &f1.Time
	}
	if f2.Valid {
		state.FollowUp2SentAt = &f2.Time
	}
	return &state, nil
}

// SetStage advances the conversational stage cursor.
func (s *Store) SetStage(ctx context.Context, conversationID uuid.UUID, stage int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bot_states SET stage = $1, updated_at = now() WHERE conversation_id = $2
	`, stage, conversationID)
	if err != nil {
		return fmt.Errorf("convo: set stage: %w", err)
	}
	return nil
}

// ClaimFollowUp marks follow-up stage 1 or 2 as sent iff it was unsent,
// reporting whether the caller won the claim. Markers are never cleared, so
// a claimed stage stays claimed even if the send afterwards fails.
func (s *Store) ClaimFollowUp(ctx context.Context, conversationID uuid.UUID, stage int, at time.Time) (bool, error) {
	var query string
	switch stage {
	case 1:
		query = `UPDATE bot_states SET followup1_sent_at = $1, updated_at = $1
			WHERE conversation_id = $2 AND followup1_sent_at IS NULL`
	case 2:
		query = `UPDATE bot_states SET followup2_sent_at = $1, updated_at = $1
			WHERE conversation_id = $2 AND followup1_sent_at IS NOT NULL AND followup2_sent_at IS NULL`
	default:
		return false, fmt.Errorf("convo: invalid follow-up stage %d", stage)
	}

	result, err := s.db.ExecContext(ctx, query, at, conversationID)
	if err != nil {
		return false, fmt.Errorf("convo: claim follow-up %d: %w", stage, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("convo: claim follow-up result: %w", err)
	}
	return n > 0, nil
}

// FollowUpCandidate joins the fields the scheduler needs to judge one
// conversation's follow-up eligibility.
type FollowUpCandidate struct {
	ConversationID  uuid.UUID
	BotID           uuid.UUID
	Contact         string
	LastActivityAt  time.Time
	FollowUp1SentAt *time.Time
	FollowUp2SentAt *time.Time
}

// ListFollowUpCandidates returns unsold conversations of ACTIVE bots that
// still have an unsent follow-up stage. Eligibility windows are judged by the
// scheduler against the owning bot's configured delays.
func (s *Store) ListFollowUpCandidates(ctx context.Context) ([]FollowUpCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.bot_id, c.contact, c.last_activity_at, st.followup1_sent_at, st.followup2_sent_at
		FROM conversations c
		JOIN bot_states st ON st.conversation_id = c.id
		JOIN bots b ON b.id = c.bot_id
		WHERE c.sold = FALSE
		  AND b.status = 'ACTIVE'
		  AND st.followup2_sent_at IS NULL
		ORDER BY c.last_activity_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("convo: follow-up candidates query: %w", err)
	}
	defer rows.Close()

	var out []FollowUpCandidate
	for rows.Next() {
		var c FollowUpCandidate
		var f1, f2 sql.NullTime
		if err := rows.Scan(&c.ConversationID, &c.BotID, &c.Contact, &c.LastActivityAt, &f1, &f2); err != nil {
			return nil, fmt.Errorf("convo: follow-up candidates scan: %w", err)
		}
		if f1.Valid {
			c.FollowUp1SentAt = &f1.Time
		}
		if f2.Valid {
			c.FollowUp2SentAt = &f2.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
