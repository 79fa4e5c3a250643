package infra

import (
	"fmt"
	"sync"
	"time"

	"admission-sidecar/internal/metrics"
	"admission-sidecar/sidecar/admission/domain"
)

// LiveState é o estado compartilhado entre ingestor, poller e publisher.
//
// Há três locks independentes, cada um guardando exatamente uma estrutura.
// Ordem de aquisição quando mais de um é necessário: carga antes de CPU.
// Nenhum método segura lock durante I/O bloqueante.
type LiveState struct {
	servers domain.ServerSet

	workloadMu sync.Mutex
	workload   map[domain.ServerID]time.Duration

	cpuMu sync.Mutex
	cpu   map[domain.ServerID]float64

	whitelistMu sync.Mutex
	whitelist   *domain.Whitelist
}

// NewLiveState cria o estado para o conjunto fixo de servidores.
// A whitelist passa a pertencer ao LiveState.
func NewLiveState(servers domain.ServerSet, whitelist *domain.Whitelist) *LiveState {
	s := &LiveState{
		servers:   append(domain.ServerSet(nil), servers...),
		workload:  make(map[domain.ServerID]time.Duration, len(servers)),
		cpu:       make(map[domain.ServerID]float64, len(servers)),
		whitelist: whitelist,
	}
	for _, id := range servers {
		s.workload[id] = 0
		s.cpu[id] = 0
	}
	if s.whitelist == nil {
		s.whitelist = domain.NewWhitelist(nil, servers)
	}
	return s
}

func (s *LiveState) Servers() domain.ServerSet {
	return append(domain.ServerSet(nil), s.servers...)
}

// AddWorkload implementa domain.WorkloadStore.
func (s *LiveState) AddWorkload(server domain.ServerID, d time.Duration) error {
	s.workloadMu.Lock()
	defer s.workloadMu.Unlock()

	cur, ok := s.workload[server]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownServer, server)
	}
	cur += d
	s.workload[server] = cur
	metrics.SetServerWorkload(string(server), cur.Seconds())
	return nil
}

// SubWorkload implementa domain.WorkloadStore.
// Se o decremento passar de zero, a carga fica em zero e retorna ErrWorkloadUnderflow.
func (s *LiveState) SubWorkload(server domain.ServerID, d time.Duration) error {
	s.workloadMu.Lock()
	defer s.workloadMu.Unlock()

	cur, ok := s.workload[server]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownServer, server)
	}
	var err error
	cur -= d
	if cur < 0 {
		cur = 0
		err = fmt.Errorf("%w: server %q", domain.ErrWorkloadUnderflow, server)
	}
	s.workload[server] = cur
	metrics.SetServerWorkload(string(server), cur.Seconds())
	return err
}

// Workload retorna a carga atual de um servidor.
func (s *LiveState) Workload(server domain.ServerID) (time.Duration, bool) {
	s.workloadMu.Lock()
	defer s.workloadMu.Unlock()
	v, ok := s.workload[server]
	return v, ok
}

// SetCPU implementa domain.CPUStore.
func (s *LiveState) SetCPU(server domain.ServerID, pct float64) error {
	s.cpuMu.Lock()
	defer s.cpuMu.Unlock()

	if _, ok := s.cpu[server]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownServer, server)
	}
	s.cpu[server] = pct
	metrics.SetServerCPU(string(server), pct)
	return nil
}

// CPU retorna a última amostra de um servidor.
func (s *LiveState) CPU(server domain.ServerID) (float64, bool) {
	s.cpuMu.Lock()
	defer s.cpuMu.Unlock()
	v, ok := s.cpu[server]
	return v, ok
}

// Snapshot copia carga e CPU de todos os servidores com os dois locks
// segurados juntos, para que a decisão use um retrato coerente.
func (s *LiveState) Snapshot() map[domain.ServerID]domain.ServerTelemetry {
	s.workloadMu.Lock()
	defer s.workloadMu.Unlock()
	s.cpuMu.Lock()
	defer s.cpuMu.Unlock()

	out := make(map[domain.ServerID]domain.ServerTelemetry, len(s.servers))
	for _, id := range s.servers {
		out[id] = domain.ServerTelemetry{
			Workload:       s.workload[id],
			CPUUtilization: s.cpu[id],
		}
	}
	return out
}

// UpdateWhitelist aplica fn sob o lock de whitelist e devolve uma cópia
// tirada na mesma seção crítica.
func (s *LiveState) UpdateWhitelist(fn func(w *domain.Whitelist)) *domain.Whitelist {
	s.whitelistMu.Lock()
	defer s.whitelistMu.Unlock()
	if fn != nil {
		fn(s.whitelist)
	}
	return s.whitelist.Clone()
}

// Whitelist devolve uma cópia da matriz atual.
func (s *LiveState) Whitelist() *domain.Whitelist {
	return s.UpdateWhitelist(nil)
}
