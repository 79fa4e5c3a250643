package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"admission-sidecar/internal/metrics"
	"admission-sidecar/sidecar/admission/domain"
)

// DefaultSamplingWindow é o intervalo entre as duas leituras de um ciclo.
const DefaultSamplingWindow = 1250 * time.Millisecond

// Poller mede periodicamente o uso de CPU de cada servidor.
type Poller struct {
	Sampler domain.Sampler
	Store   domain.CPUStore
	Servers domain.ServerSet

	// Window <= 0 usa DefaultSamplingWindow.
	Window time.Duration
	// Interval é a pausa entre ciclos (0 = ciclos contínuos).
	Interval time.Duration
	// Pool limita amostragens simultâneas; nil = uma por servidor.
	Pool   domain.SlotPool
	Logger logr.Logger
}

// Run executa ciclos até o contexto ser cancelado.
func (p Poller) Run(ctx context.Context) error {
	for {
		pause := p.Interval
		failed := p.PollOnce(ctx)
		if pause <= 0 && failed == len(p.Servers) {
			// nenhum servidor ou todos falharam sem esperar a janela: evita girar em falso
			pause = p.window()
		}
		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// PollOnce faz um ciclo completo e retorna quantos servidores falharam.
func (p Poller) PollOnce(ctx context.Context) int {
	var (
		wg       sync.WaitGroup
		failures atomic.Int32
	)
	for _, id := range p.Servers {
		release := func() {}
		if p.Pool != nil {
			r, ok := p.Pool.Acquire(ctx)
			if !ok {
				break
			}
			release = r
		}
		wg.Add(1)
		go func(id domain.ServerID) {
			defer wg.Done()
			defer release()
			if err := p.sampleServer(ctx, id); err != nil {
				failures.Add(1)
				if ctx.Err() == nil {
					metrics.IncSamplingFailure(string(id))
					p.Logger.Error(err, "cpu sampling failed", "server", id)
				}
			}
		}(id)
	}
	wg.Wait()
	return int(failures.Load())
}

func (p Poller) sampleServer(ctx context.Context, id domain.ServerID) error {
	window := p.window()

	first, err := p.Sampler.Sample(ctx, id)
	if err != nil {
		return fmt.Errorf("first sample: %w", err)
	}
	start := time.Now()
	if err := sleep(ctx, window); err != nil {
		return err
	}
	second, err := p.Sampler.Sample(ctx, id)
	if err != nil {
		return fmt.Errorf("second sample: %w", err)
	}
	wall := time.Since(start)
	if !first.WallTime.IsZero() && !second.WallTime.IsZero() {
		wall = second.WallTime.Sub(first.WallTime)
	}

	pct, err := domain.Utilization(first, second, wall)
	if err != nil {
		return err
	}
	if err := p.Store.SetCPU(id, pct); err != nil {
		return err
	}
	p.Logger.V(1).Info("cpu sampled", "server", id, "utilization", pct)
	return nil
}

func (p Poller) window() time.Duration {
	if p.Window <= 0 {
		return DefaultSamplingWindow
	}
	return p.Window
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
