package sessionrecord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/telemetry"
)

const (
	report_file_load = "file.load"

	DefaultFilePath = "vtop_session.bin"
)

// FileStore keeps the record in a single file.
type FileStore struct {
	path string
	tel  telemetry.API

	mutex sync.Mutex
}

func NewFileStore(path string, tel telemetry.API) *FileStore {
	assert.NotNil(tel, "telemetry")
	if path == "" {
		path = DefaultFilePath
	}
	return &FileStore{
		path: path,
		tel:  telemetry.NewScopedAPI("sessionrecord", tel),
	}
}

func (s *FileStore) Save(_ context.Context, record Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	// write then rename so a crash never leaves half a record behind
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) (Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}

	record, err := Decode(data)
	if err != nil {
		s.tel.ReportWarning(report_file_load, err, s.path)
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return Record{}, fmt.Errorf("remove corrupt record: %w", rmErr)
		}
		return Record{}, ErrNoRecord
	}
	return record, nil
}

func (s *FileStore) Delete(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}
