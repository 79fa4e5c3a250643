package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"admission-sidecar/internal/metrics"
	"admission-sidecar/sidecar/admission/domain"
)

// LineSource entrega linhas completas do log de acesso, bloqueando até haver uma.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// DiagnosticGate decide se um diagnóstico de um motivo pode ser emitido agora.
type DiagnosticGate interface {
	Allow(reason string) bool
}

// Ingestor converte o log de acesso em contabilidade de carga por servidor.
//
// A tabela de instâncias pendentes é privada do ingestor; do estado
// compartilhado ele só toca a carga (via Workload).
type Ingestor struct {
	Profiles domain.ProfileRegistry
	Workload domain.WorkloadStore
	Servers  domain.ServerSet

	// Records é opcional; falhas não afetam a contabilidade de carga.
	Records     domain.RecordSink
	Diagnostics DiagnosticGate
	Logger      logr.Logger
	Now         func() time.Time

	mu       sync.Mutex
	pending  map[uint64]domain.PendingInstance
	accepted int64
	rejected map[string]int64
}

// Run consome a fonte até o contexto ser cancelado ou a fonte falhar.
// Erros por linha são contados e descartados.
func (in *Ingestor) Run(ctx context.Context, src LineSource) error {
	for {
		line, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read access log: %w", err)
		}
		_ = in.HandleLine(ctx, line)
	}
}

// HandleLine processa uma linha. Linhas em branco são ignoradas sem erro.
func (in *Ingestor) HandleLine(ctx context.Context, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	ev, err := ParseLine(line)
	if err != nil {
		return in.reject(line, err)
	}
	if !in.Servers.Contains(ev.Server) {
		return in.reject(line, fmt.Errorf("%w: %q", domain.ErrUnknownServer, ev.Server))
	}

	switch ev.Status {
	case domain.StatusNew:
		err = in.dispatch(ev)
	case domain.StatusComplete:
		err = in.complete(ctx, ev)
	case domain.StatusSent:
		// só informativo
	}
	if err != nil {
		return in.reject(line, err)
	}

	in.mu.Lock()
	in.accepted++
	in.mu.Unlock()
	metrics.IncIngestEvent(ev.Status.String())
	return nil
}

func (in *Ingestor) dispatch(ev domain.Event) error {
	profile, ok := in.Profiles.Lookup(ev.Key())
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTask, ev.Key())
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pending == nil {
		in.pending = make(map[uint64]domain.PendingInstance)
	}
	if _, open := in.pending[ev.TaskID]; open {
		return fmt.Errorf("%w: %d", domain.ErrDuplicateDispatch, ev.TaskID)
	}
	if err := in.Workload.AddWorkload(ev.Server, profile.AvgTime); err != nil {
		return err
	}
	in.pending[ev.TaskID] = domain.PendingInstance{
		TaskID:       ev.TaskID,
		Profile:      profile,
		Server:       ev.Server,
		DispatchedAt: in.now(),
	}
	metrics.SetPendingInstances(len(in.pending))
	return nil
}

func (in *Ingestor) complete(ctx context.Context, ev domain.Event) error {
	in.mu.Lock()
	inst, ok := in.pending[ev.TaskID]
	if !ok {
		in.mu.Unlock()
		return fmt.Errorf("%w: %d", domain.ErrUnmatchedCompletion, ev.TaskID)
	}
	// decrementa o servidor e o perfil registrados no despacho
	err := in.Workload.SubWorkload(inst.Server, inst.Profile.AvgTime)
	if err != nil && !errors.Is(err, domain.ErrWorkloadUnderflow) {
		in.mu.Unlock()
		return err
	}
	delete(in.pending, ev.TaskID)
	metrics.SetPendingInstances(len(in.pending))
	in.mu.Unlock()

	if err != nil {
		metrics.IncWorkloadDrift(string(inst.Server))
		in.diagnose("workload_drift", "workload clamped at zero", "server", inst.Server, "taskID", inst.TaskID)
	}
	if inst.Server != ev.Server || inst.Profile.Key != ev.Key() {
		in.diagnose("completion_mismatch", "completion differs from dispatch",
			"taskID", inst.TaskID, "dispatchServer", inst.Server, "completionServer", ev.Server)
	}

	if in.Records == nil {
		return nil
	}
	rec := domain.CompletedRecord{PendingInstance: inst, CompletedAt: in.now(), Actual: ev.Actual}
	if err := in.Records.Record(ctx, rec); err != nil {
		metrics.IncRecordSinkFailure()
		in.diagnose("record_sink", "record sink failed", "taskID", inst.TaskID, "error", err.Error())
	}
	return nil
}

func (in *Ingestor) reject(line string, err error) error {
	reason := domain.ErrorReason(err)

	in.mu.Lock()
	if in.rejected == nil {
		in.rejected = make(map[string]int64)
	}
	in.rejected[reason]++
	in.mu.Unlock()

	metrics.IncIngestError(reason)
	if in.Diagnostics == nil || in.Diagnostics.Allow(reason) {
		in.Logger.Error(err, "dropping access log line", "reason", reason, "line", line)
	}
	return err
}

func (in *Ingestor) diagnose(reason, msg string, kv ...any) {
	if in.Diagnostics != nil && !in.Diagnostics.Allow(reason) {
		return
	}
	in.Logger.Info(msg, kv...)
}

func (in *Ingestor) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

// Accepted retorna quantas linhas foram aplicadas com sucesso.
func (in *Ingestor) Accepted() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.accepted
}

// ErrorCount retorna o total de linhas descartadas.
func (in *Ingestor) ErrorCount() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	var n int64
	for _, v := range in.rejected {
		n += v
	}
	return n
}

// ErrorsByReason retorna uma cópia dos contadores por motivo.
func (in *Ingestor) ErrorsByReason() map[string]int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]int64, len(in.rejected))
	for k, v := range in.rejected {
		out[k] = v
	}
	return out
}

// Pending retorna as instâncias ainda abertas, ordenadas por id.
func (in *Ingestor) Pending() []domain.PendingInstance {
	in.mu.Lock()
	out := make([]domain.PendingInstance, 0, len(in.pending))
	for _, p := range in.pending {
		out = append(out, p)
	}
	in.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
