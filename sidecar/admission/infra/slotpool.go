package infra

import (
	"context"

	"admission-sidecar/sidecar/admission/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool simples baseado em channel com capacidade `max`.
// Com max <= 0 o pool não limita (toda aquisição é imediata).
func NewChanPool(max int) domain.SlotPool {
	if max <= 0 {
		return unboundedPool{}
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

type unboundedPool struct{}

func (unboundedPool) Acquire(ctx context.Context) (func(), bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	return func() {}, true
}
