package domain

import (
	"context"
	"time"
)

// ServerID identifica um servidor de backend.
//
// Os ids são concatenados sem separador no artefato publicado, por isso
// precisam ter exatamente um caractere; "0" é reservado para "nenhum servidor".
type ServerID string

// EmptyServerSet é o sentinela publicado quando nenhum servidor é admissível.
const EmptyServerSet = "0"

// Valid informa se o id pode ser usado no artefato.
func (s ServerID) Valid() bool {
	return len(s) == 1 && string(s) != EmptyServerSet && s[0] > ' ' && s[0] != ','
}

// ServerTelemetry é o retrato de um servidor usado na decisão de admissão.
type ServerTelemetry struct {
	// Workload é a soma do tempo médio de execução das tarefas em andamento.
	Workload time.Duration
	// CPUUtilization vai de 0 a 100.
	CPUUtilization float64
}

// CPUSample é uma leitura pontual de contabilidade de CPU.
type CPUSample struct {
	// CPUTime é o tempo de CPU acumulado por todos os núcleos.
	CPUTime time.Duration
	// WallTime é o instante da leitura; se zero, quem consome usa o relógio local.
	WallTime time.Time
	Cores    int
}

// Sampler consulta a capacidade externa de monitoramento (hypervisor, agente, etc).
type Sampler interface {
	Sample(ctx context.Context, server ServerID) (CPUSample, error)
}

// SamplerFunc adapta uma função a Sampler.
type SamplerFunc func(ctx context.Context, server ServerID) (CPUSample, error)

func (f SamplerFunc) Sample(ctx context.Context, server ServerID) (CPUSample, error) {
	return f(ctx, server)
}

// Utilization calcula o percentual de uso entre duas leituras, limitado a [0, 100].
func Utilization(first, second CPUSample, wall time.Duration) (float64, error) {
	cores := second.Cores
	if cores <= 0 {
		cores = first.Cores
	}
	if cores <= 0 {
		return 0, ErrInvalidSample
	}
	if wall <= 0 {
		return 0, ErrInvalidSample
	}
	cpu := second.CPUTime - first.CPUTime
	pct := float64(cpu) * 100 / (float64(wall) * float64(cores))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}
