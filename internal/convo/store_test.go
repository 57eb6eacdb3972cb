package convo

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestFindOrCreateExisting(t *testing.T) {
	store, mock := newMockStore(t)

	botID := uuid.New()
	convID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations")).
		WithArgs(botID, "5511999887766").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "bot_id", "contact", "display_name", "sold", "sold_at", "order_report", "created_at", "last_activity_at",
		}).AddRow(convID, botID, "5511999887766", "Maria", false, nil, nil, now, now))

	mock.ExpectQuery(regexp.QuoteMeta("FROM bot_states")).
		WithArgs(convID).
		WillReturnRows(sqlmock.NewRows([]string{
			"conversation_id", "stage", "followup1_sent_at", "followup2_sent_at", "updated_at",
		}).AddRow(convID, 2, nil, nil, now))

	conv, state, err := store.FindOrCreate(context.Background(), botID, "5511999887766", "")
	require.NoError(t, err)
	assert.Equal(t, convID, conv.ID)
	assert.Equal(t, "Maria", conv.DisplayName)
	assert.False(t, conv.Sold)
	assert.Equal(t, 2, state.Stage)
	assert.Nil(t, state.FollowUp1SentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateNew(t *testing.T) {
	store, mock := newMockStore(t)

	botID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations")).
		WithArgs(botID, "5511988776655").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bot_states")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, state, err := store.FindOrCreate(context.Background(), botID, "5511988776655", "João")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, conv.ID)
	assert.Equal(t, "João", conv.DisplayName)
	assert.Equal(t, 0, state.Stage)
	assert.Equal(t, conv.ID, state.ConversationID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateEmptyContact(t *testing.T) {
	store, _ := newMockStore(t)
	_, _, err := store.FindOrCreate(context.Background(), uuid.New(), "   ", "")
	assert.Error(t, err)
}

func TestAppendMessage(t *testing.T) {
	store, mock := newMockStore(t)

	convID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET last_activity_at")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendMessage(context.Background(), convID, Message{Role: RoleUser, Content: "quero saber o preço"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryOrdering(t *testing.T) {
	store, mock := newMockStore(t)

	convID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	rows := sqlmock.NewRows([]string{"id", "role", "content", "payload", "created_at"}).
		AddRow(uuid.New(), RoleUser, "oi", "", base).
		AddRow(uuid.New(), RoleAssistant, "Olá! Como posso ajudar?", "", base.Add(time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta("FROM messages")).
		WithArgs(convID, 40).
		WillReturnRows(rows)

	history, err := store.History(context.Background(), convID, 40)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.True(t, history[0].CreatedAt.Before(history[1].CreatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSoldWinsOnce(t *testing.T) {
	store, mock := newMockStore(t)

	convID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET sold = TRUE")).
		WithArgs(at, "1x kit completo - Maria - 5511999887766", convID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET sold = TRUE")).
		WithArgs(at, "duplicate", convID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := store.MarkSold(context.Background(), convID, "1x kit completo - Maria - 5511999887766", at)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.MarkSold(context.Background(), convID, "duplicate", at)
	require.NoError(t, err)
	assert.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimFollowUp(t *testing.T) {
	store, mock := newMockStore(t)

	convID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET followup1_sent_at")).
		WithArgs(at, convID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET followup1_sent_at")).
		WithArgs(at, convID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET followup2_sent_at")).
		WithArgs(at, convID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := store.ClaimFollowUp(context.Background(), convID, 1, at)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimFollowUp(context.Background(), convID, 1, at)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same stage must lose")

	claimed, err = store.ClaimFollowUp(context.Background(), convID, 2, at)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimFollowUpInvalidStage(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.ClaimFollowUp(context.Background(), uuid.New(), 3, time.Now())
	assert.Error(t, err)
}

func TestListFollowUpCandidates(t *testing.T) {
	store, mock := newMockStore(t)

	convID := uuid.New()
	botID := uuid.New()
	last := time.Now().UTC().Add(-2 * time.Hour)
	f1 := last.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("JOIN bot_states")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "bot_id", "contact", "last_activity_at", "followup1_sent_at", "followup2_sent_at",
		}).AddRow(convID, botID, "5511999887766", last, f1, nil))

	candidates, err := store.ListFollowUpCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, convID, candidates[0].ConversationID)
	require.NotNil(t, candidates[0].FollowUp1SentAt)
	assert.Nil(t, candidates[0].FollowUp2SentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
