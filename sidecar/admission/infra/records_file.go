package infra

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"admission-sidecar/sidecar/admission/domain"
)

var recordHeader = []string{
	"task type", "expected execution time", "expected variance", "server", "actual response time",
}

// FileRecordSink acrescenta uma linha CSV por conclusão (log somente-append).
// Tempos em microssegundos, como na tabela de perfis.
type FileRecordSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenFileRecordSink abre (ou cria) o arquivo; escreve o cabeçalho se estiver vazio.
func OpenFileRecordSink(path string) (*FileRecordSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record log: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat record log: %w", err)
	}
	s := &FileRecordSink{f: f, w: csv.NewWriter(f)}
	if fi.Size() == 0 {
		if err := s.write(recordHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Record implementa domain.RecordSink.
func (s *FileRecordSink) Record(_ context.Context, rec domain.CompletedRecord) error {
	stdev := rec.Profile.TimeStdev.Microseconds()
	row := []string{
		string(rec.Profile.Key),
		strconv.FormatInt(rec.Profile.AvgTime.Microseconds(), 10),
		strconv.FormatInt(stdev*stdev, 10),
		string(rec.Server),
		strconv.FormatInt(rec.Actual.Microseconds(), 10),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(row)
}

func (s *FileRecordSink) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write record log: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *FileRecordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

// MultiRecordSink repassa o registro para todos os sinks; devolve o primeiro erro
// mas sempre tenta todos.
type MultiRecordSink []domain.RecordSink

func (m MultiRecordSink) Record(ctx context.Context, rec domain.CompletedRecord) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
