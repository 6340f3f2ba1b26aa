package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

func TestSaveReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO relay_messages`).
		WithArgs("222", "in", "menu", at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))

	e := &relay.TranscriptEntry{ChatID: "222", Direction: relay.Inbound, Text: "menu", CreatedAt: at}
	require.NoError(t, NewRepo(db).Save(context.Background(), e))

	assert.Equal(t, int64(41), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWrapsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO relay_messages`).WillReturnError(boom)

	err = NewRepo(db).Save(context.Background(), &relay.TranscriptEntry{ChatID: "222"})
	assert.ErrorIs(t, err, boom)
}

func TestHistoryOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t1 := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "chat_id", "direction", "text", "created_at"}).
		AddRow(int64(7), "222", "in", "menu", t1).
		AddRow(int64(8), "222", "out", "Please choose an option", t1.Add(time.Second))
	mock.ExpectQuery(`SELECT id, chat_id, direction, text, created_at FROM \(`).
		WithArgs("222", 20).
		WillReturnRows(rows)

	got, err := NewRepo(db).History(context.Background(), "222", 20)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, relay.Inbound, got[0].Direction)
	assert.Equal(t, relay.Outbound, got[1].Direction)
	assert.Equal(t, int64(8), got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS relay_messages`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNop(t *testing.T) {
	tr := Nop()
	require.NoError(t, tr.Save(context.Background(), &relay.TranscriptEntry{}))
	got, err := tr.History(context.Background(), "222", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
