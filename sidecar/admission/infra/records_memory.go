package infra

import (
	"context"
	"sync"
	"time"

	"admission-sidecar/sidecar/admission/domain"
)

// Counters agrega conclusões e a soma dos tempos observados.
type Counters struct {
	Completed   int64
	TotalActual time.Duration
	// OverExpected conta conclusões acima do tempo esperado do perfil.
	OverExpected int64
}

// MemoryRecordSink é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryRecordSink struct {
	mu       sync.Mutex
	total    Counters
	byTask   map[domain.TaskKey]Counters
	byServer map[domain.ServerID]Counters
	records  []domain.CompletedRecord

	keepRecords bool
}

type MemoryRecordOption func(*MemoryRecordSink)

// WithKeepRecords guarda cada registro além dos contadores.
func WithKeepRecords(keep bool) MemoryRecordOption {
	return func(s *MemoryRecordSink) { s.keepRecords = keep }
}

func NewMemoryRecordSink(opts ...MemoryRecordOption) *MemoryRecordSink {
	s := &MemoryRecordSink{
		byTask:   make(map[domain.TaskKey]Counters),
		byServer: make(map[domain.ServerID]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implementa domain.RecordSink.
func (s *MemoryRecordSink) Record(_ context.Context, rec domain.CompletedRecord) error {
	over := rec.Actual > rec.Profile.AvgTime

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = bump(s.total, rec.Actual, over)
	s.byTask[rec.Profile.Key] = bump(s.byTask[rec.Profile.Key], rec.Actual, over)
	s.byServer[rec.Server] = bump(s.byServer[rec.Server], rec.Actual, over)
	if s.keepRecords {
		s.records = append(s.records, rec)
	}
	return nil
}

func bump(c Counters, actual time.Duration, over bool) Counters {
	c.Completed++
	c.TotalActual += actual
	if over {
		c.OverExpected++
	}
	return c
}

func (s *MemoryRecordSink) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryRecordSink) ByTask() map[domain.TaskKey]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.TaskKey]Counters, len(s.byTask))
	for k, v := range s.byTask {
		out[k] = v
	}
	return out
}

func (s *MemoryRecordSink) ByServer() map[domain.ServerID]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ServerID]Counters, len(s.byServer))
	for k, v := range s.byServer {
		out[k] = v
	}
	return out
}

func (s *MemoryRecordSink) Records() []domain.CompletedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CompletedRecord(nil), s.records...)
}
