package domain

import (
	"context"
	"time"
)

// PendingInstance é uma tarefa despachada e ainda não concluída.
//
// Existe apenas dentro do ingestor; guarda uma cópia do perfil para que a
// conclusão seja resolvida sem reprocessar a linha original.
type PendingInstance struct {
	// TaskID é local à ingestão (não é único entre reinícios).
	TaskID       uint64
	Profile      TaskProfile
	Server       ServerID
	DispatchedAt time.Time
}

// CompletedRecord é o registro emitido quando uma tarefa conclui.
type CompletedRecord struct {
	PendingInstance
	CompletedAt time.Time
	Actual      time.Duration
}

// RecordSink é a estratégia de persistência dos registros de tarefas concluídas.
//
// Implementações podem gravar em arquivo, Redis, memória, etc.
// O ingestor trata erro como best-effort (não afeta a contabilidade de carga).
type RecordSink interface {
	Record(ctx context.Context, rec CompletedRecord) error
}

// WorkloadStore é o recorte do estado compartilhado usado pelo ingestor.
// Cada chamada segura apenas o lock de carga, brevemente.
type WorkloadStore interface {
	AddWorkload(server ServerID, d time.Duration) error
	SubWorkload(server ServerID, d time.Duration) error
}

// CPUStore é o recorte do estado compartilhado usado pelo poller.
type CPUStore interface {
	SetCPU(server ServerID, pct float64) error
}
