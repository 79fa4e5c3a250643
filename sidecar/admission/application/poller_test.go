package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-sidecar/sidecar/admission/domain"
	"admission-sidecar/sidecar/admission/infra"
)

// fakeSampler devolve leituras sintéticas com relógio próprio, de forma que a
// utilização calculada não depende do tempo real do teste.
type fakeSampler struct {
	mu    sync.Mutex
	calls map[domain.ServerID]int
	// busy é o percentual de CPU simulado por servidor.
	busy  map[domain.ServerID]float64
	fail  map[domain.ServerID]error
	cores int
}

func (f *fakeSampler) Sample(_ context.Context, id domain.ServerID) (domain.CPUSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return domain.CPUSample{}, err
	}
	if f.calls == nil {
		f.calls = make(map[domain.ServerID]int)
	}
	n := f.calls[id]
	f.calls[id]++

	wall := time.Duration(n) * time.Second
	cpu := time.Duration(float64(wall) * float64(f.cores) * f.busy[id] / 100)
	return domain.CPUSample{
		CPUTime:  cpu,
		WallTime: time.Unix(0, 0).Add(wall),
		Cores:    f.cores,
	}, nil
}

func TestPoller_PollOnceStoresUtilization(t *testing.T) {
	state := infra.NewLiveState(testServers, nil)
	sampler := &fakeSampler{cores: 4, busy: map[domain.ServerID]float64{"A": 25, "B": 80}}
	p := Poller{Sampler: sampler, Store: state, Servers: testServers, Window: time.Millisecond}

	failed := p.PollOnce(context.Background())
	require.Equal(t, 0, failed)

	a, _ := state.CPU("A")
	b, _ := state.CPU("B")
	assert.InDelta(t, 25.0, a, 0.001)
	assert.InDelta(t, 80.0, b, 0.001)
}

func TestPoller_FailureIsIsolatedPerServer(t *testing.T) {
	state := infra.NewLiveState(testServers, nil)
	require.NoError(t, state.SetCPU("B", 12))
	sampler := &fakeSampler{
		cores: 2,
		busy:  map[domain.ServerID]float64{"A": 50},
		fail:  map[domain.ServerID]error{"B": errors.New("hypervisor timeout")},
	}
	p := Poller{Sampler: sampler, Store: state, Servers: testServers, Window: time.Millisecond}

	failed := p.PollOnce(context.Background())
	assert.Equal(t, 1, failed)

	a, _ := state.CPU("A")
	b, _ := state.CPU("B")
	assert.InDelta(t, 50.0, a, 0.001)
	assert.Equal(t, 12.0, b, "previous value is kept for the failed server")
}

func TestPoller_ZeroCoresIsAnInvalidSample(t *testing.T) {
	state := infra.NewLiveState(testServers, nil)
	p := Poller{
		Sampler: &fakeSampler{cores: 0},
		Store:   state,
		Servers: domain.ServerSet{"A"},
		Window:  time.Millisecond,
	}
	assert.Equal(t, 1, p.PollOnce(context.Background()))
}

type countingPool struct {
	inner   domain.SlotPool
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *countingPool) Acquire(ctx context.Context) (func(), bool) {
	release, ok := c.inner.Acquire(ctx)
	if !ok {
		return nil, false
	}
	n := c.active.Add(1)
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	return func() {
		c.active.Add(-1)
		release()
	}, true
}

func TestPoller_PoolBoundsParallelism(t *testing.T) {
	servers := domain.ServerSet{"A", "B", "C", "D"}
	state := infra.NewLiveState(servers, nil)
	pool := &countingPool{inner: infra.NewChanPool(1)}
	p := Poller{
		Sampler: &fakeSampler{cores: 1, busy: map[domain.ServerID]float64{"A": 10, "B": 20, "C": 30, "D": 40}},
		Store:   state,
		Servers: servers,
		Window:  2 * time.Millisecond,
		Pool:    pool,
	}

	require.Equal(t, 0, p.PollOnce(context.Background()))
	assert.Equal(t, int32(1), pool.maxSeen.Load())
	d, _ := state.CPU("D")
	assert.InDelta(t, 40.0, d, 0.001)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	state := infra.NewLiveState(testServers, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := Poller{
		Sampler: &fakeSampler{fail: map[domain.ServerID]error{"A": errors.New("down"), "B": errors.New("down")}},
		Store:   state,
		Servers: testServers,
		Window:  5 * time.Millisecond,
	}
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// errCountingContext conta as consultas a Err; um laço sem pausa consulta sem parar.
type errCountingContext struct {
	context.Context
	errs atomic.Int64
}

func (c *errCountingContext) Err() error {
	c.errs.Add(1)
	return c.Context.Err()
}

func TestPoller_RunWithoutServersWaitsTheWindow(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ctx := &errCountingContext{Context: parent}

	p := Poller{
		Sampler: &fakeSampler{cores: 1},
		Store:   infra.NewLiveState(nil, nil),
		Window:  20 * time.Millisecond,
	}
	err := p.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, ctx.errs.Load(), int64(10), "run must pause between empty cycles")
}
