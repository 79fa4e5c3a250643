package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DiagnosticLimiter decide se um diagnóstico pode ser emitido agora.
//
// Um token bucket (x/time/rate) por motivo, com limpeza periódica de motivos
// inativos. A contagem de erros não passa por aqui: só a emissão de log.
type DiagnosticLimiter struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type DiagnosticOption func(*DiagnosticLimiter)

func WithIdleTTL(d time.Duration) DiagnosticOption {
	return func(s *DiagnosticLimiter) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) DiagnosticOption {
	return func(s *DiagnosticLimiter) { s.cleanupEvery = d }
}

// NewDiagnosticLimiter cria o limitador. rps <= 0 desliga o limite (tudo passa).
func NewDiagnosticLimiter(rps float64, burst int, opts ...DiagnosticOption) *DiagnosticLimiter {
	if burst <= 0 {
		burst = 1
	}
	s := &DiagnosticLimiter{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	if rps <= 0 {
		s.rps = rate.Inf
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow consome um token do motivo; false significa "suprimir este diagnóstico".
func (s *DiagnosticLimiter) Allow(reason string) bool {
	if s == nil {
		return true
	}
	now := time.Now()

	s.mu.Lock()
	ent, ok := s.entries[reason]
	if !ok {
		ent = &limiterEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[reason] = ent
	}
	ent.lastSeen = now
	s.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

func (s *DiagnosticLimiter) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *DiagnosticLimiter) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que limpa motivos inativos periodicamente.
// Pare cancelando o contexto.
func (s *DiagnosticLimiter) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
