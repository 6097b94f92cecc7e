package sessionrecord

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/pkg/sqliteutil"
)

const report_sqlite_load = "sqlite.load"

//go:embed schema.sql
var Schema string

// SQLiteStore keeps the record in a one-row table.
type SQLiteStore struct {
	db  *sql.DB
	tel telemetry.API
}

// OpenSQLite opens (and creates if needed) the database at dsn.
func OpenSQLite(ctx context.Context, dsn string, tel telemetry.API) (*SQLiteStore, error) {
	db, err := sqliteutil.OpenDB(ctx, Schema, dsn)
	if err != nil {
		return nil, err
	}

	store, err := NewSQLiteStore(ctx, db, tel)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLiteStore(ctx context.Context, db *sql.DB, tel telemetry.API) (*SQLiteStore, error) {
	assert.NotNil(db, "db")
	assert.NotNil(tel, "telemetry")

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{
		db:  db,
		tel: telemetry.NewScopedAPI("sessionrecord", tel),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`insert into session_record (slot, data, saved_at) values (0, ?, ?)
		on conflict (slot) do update set data = excluded.data, saved_at = excluded.saved_at`,
		data,
		record.SavedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "select data from session_record where slot = 0").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}

	record, err := Decode(data)
	if err != nil {
		s.tel.ReportWarning(report_sqlite_load, err)
		if delErr := s.Delete(ctx); delErr != nil {
			return Record{}, delErr
		}
		return Record{}, ErrNoRecord
	}
	return record, nil
}

func (s *SQLiteStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "delete from session_record where slot = 0")
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
