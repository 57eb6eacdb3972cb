package bots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies it
// in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository stores bots in the relational database.
type Repository struct {
	db DB
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("bots: db required")
	}
	return &Repository{db: db}
}

const botColumns = `id, owner_id, name, transport_kind, status, webhook_token,
	seg1_limit, seg2_limit, seg3_limit,
	followup1_delay_secs, followup2_delay_secs, followup1_text, followup2_text,
	system_prompt, report_phone, owner_email, COALESCE(session_jid, ''),
	created_at, updated_at`

// Create inserts a new bot row.
func (r *Repository) Create(ctx context.Context, bot *Bot) error {
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	query := `
		INSERT INTO bots (
			id, owner_id, name, transport_kind, status, webhook_token,
			seg1_limit, seg2_limit, seg3_limit,
			followup1_delay_secs, followup2_delay_secs, followup1_text, followup2_text,
			system_prompt, report_phone, owner_email, session_jid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`
	if err := r.db.QueryRow(ctx, query,
		bot.ID,
		bot.OwnerID,
		bot.Name,
		bot.TransportKind,
		bot.Status,
		bot.WebhookToken,
		bot.SegmentLimits[0],
		bot.SegmentLimits[1],
		bot.SegmentLimits[2],
		int64(bot.FollowUp1Delay/time.Second),
		int64(bot.FollowUp2Delay/time.Second),
		bot.FollowUp1Text,
		bot.FollowUp2Text,
		bot.SystemPrompt,
		bot.ReportPhone,
		bot.OwnerEmail,
		nullable(bot.SessionJID),
	).Scan(&bot.CreatedAt, &bot.UpdatedAt); err != nil {
		return fmt.Errorf("bots: insert failed: %w", err)
	}
	return nil
}

// Get fetches a bot by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Bot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	return scanBot(row)
}

// ListByOwner returns every bot belonging to an owner.
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Bot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("bots: select by owner failed: %w", err)
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bot)
	}
	return out, rows.Err()
}

// ListActiveSessionBots returns ACTIVE session-transport bots that have a
// paired phone, i.e. the fleet to reconnect at process startup.
func (r *Repository) ListActiveSessionBots(ctx context.Context) ([]Bot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+botColumns+`
		FROM bots
		WHERE status = $1 AND transport_kind = $2 AND session_jid IS NOT NULL AND session_jid <> ''
		ORDER BY created_at`, StatusActive, TransportSession)
	if err != nil {
		return nil, fmt.Errorf("bots: select session bots failed: %w", err)
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bot)
	}
	return out, rows.Err()
}

// UpdateStatus flips a bot between ACTIVE and PAUSED.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE bots SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("bots: update status failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionJID records (or clears) the paired WhatsApp identity.
func (r *Repository) UpdateSessionJID(ctx context.Context, id uuid.UUID, jid string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE bots SET session_jid = $1, updated_at = now() WHERE id = $2`, nullable(jid), id)
	if err != nil {
		return fmt.Errorf("bots: update session jid failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBot(row pgx.Row) (*Bot, error) {
	var bot Bot
	var f1, f2 int64
	if err := row.Scan(
		&bot.ID,
		&bot.OwnerID,
		&bot.Name,
		&bot.TransportKind,
		&bot.Status,
		&bot.WebhookToken,
		&bot.SegmentLimits[0],
		&bot.SegmentLimits[1],
		&bot.SegmentLimits[2],
		&f1,
		&f2,
		&bot.FollowUp1Text,
		&bot.FollowUp2Text,
		&bot.SystemPrompt,
		&bot.ReportPhone,
		&bot.OwnerEmail,
		&bot.SessionJID,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bots: scan failed: %w", err)
	}
	bot.FollowUp1Delay = time.Duration(f1) * time.Second
	bot.FollowUp2Delay = time.Duration(f2) * time.Second
	return &bot, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
