// loggen gera um log de acesso sintético para rodar o sidecar localmente e,
// opcionalmente, expõe um endpoint de telemetria de CPU compatível com o
// HTTPSampler (GET /servers/<id>/cpu).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/viant/afs"
	"golang.org/x/time/rate"

	"admission-sidecar/internal/logging"
	"admission-sidecar/sidecar/admission/domain"
	"admission-sidecar/sidecar/admission/infra"
)

type options struct {
	profiles  string
	out       string
	servers   string
	rps       float64
	count     int
	cores     int
	jitter    float64
	telemetry string
}

func main() {
	var o options
	pflag.StringVar(&o.profiles, "profiles", "task_profiles.csv", "Task profile table (path or afs URL).")
	pflag.StringVar(&o.out, "out", "access.log", "Access log to append to.")
	pflag.StringVar(&o.servers, "servers", "A,B", "Comma-separated server ids.")
	pflag.Float64Var(&o.rps, "rps", 5, "Dispatches per second.")
	pflag.IntVar(&o.count, "count", 0, "Dispatches to generate (0 = until interrupted).")
	pflag.IntVar(&o.cores, "cores", 2, "Simulated cores per server.")
	pflag.Float64Var(&o.jitter, "jitter", 0.3, "Relative jitter applied to each task duration.")
	pflag.StringVar(&o.telemetry, "telemetry-addr", "", "Serve simulated CPU telemetry on this address (empty disables).")
	pflag.Parse()

	logger, syncLogs, err := logging.New("info", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer syncLogs()

	if err := run(o, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err, "loggen stopped")
		syncLogs()
		os.Exit(1)
	}
}

func run(o options, logger logr.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	table, err := infra.LoadProfiles(ctx, afs.New(), o.profiles)
	if err != nil {
		return err
	}
	profiles := table.All()
	if len(profiles) == 0 {
		return errors.New("profile table is empty")
	}

	var servers []domain.ServerID
	for _, s := range strings.Split(o.servers, ",") {
		id := domain.ServerID(strings.TrimSpace(s))
		if !id.Valid() {
			return fmt.Errorf("invalid server id %q", id)
		}
		servers = append(servers, id)
	}

	f, err := os.OpenFile(o.out, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}
	defer f.Close()

	cluster := newCluster(servers, o.cores)
	if o.telemetry != "" {
		startTelemetry(ctx, o.telemetry, cluster, logger)
	}

	lines := make(chan string, 256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for l := range lines {
			if _, err := f.WriteString(l + "\n"); err != nil {
				logger.Error(err, "write access log")
			}
		}
	}()

	lim := rate.NewLimiter(rate.Limit(o.rps), 1)
	var pending sync.WaitGroup
	logger.Info("generating access log", "out", o.out, "rps", o.rps, "servers", o.servers, "tasks", len(profiles))

	for id := uint64(1); o.count == 0 || id <= uint64(o.count); id++ {
		if err = lim.Wait(ctx); err != nil {
			break
		}
		p := profiles[rand.Intn(len(profiles))]
		server := servers[rand.Intn(len(servers))]
		d := time.Duration(float64(p.AvgTime) * (1 + o.jitter*(2*rand.Float64()-1)))
		if d < 0 {
			d = 0
		}

		cluster.start(server)
		lines <- fmt.Sprintf("n%d, %s, %s, %s, %s, 127.0.0.1, %s", id, p.Method, p.URL, p.Query, p.Content, server)

		pending.Add(1)
		time.AfterFunc(d, func() {
			defer pending.Done()
			actual := cluster.finish(server, d)
			lines <- fmt.Sprintf("c%d, %s, %s, %s, %s, 127.0.0.1, %s, %d", id, p.Method, p.URL, p.Query, p.Content, server, actual.Microseconds())
		})
	}

	pending.Wait()
	close(lines)
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// cluster simula o consumo de CPU: cada tarefa em andamento ocupa um núcleo.
type cluster struct {
	mu      sync.Mutex
	cores   int
	servers map[domain.ServerID]*simServer
}

type simServer struct {
	inflight int
	cpu      time.Duration
	last     time.Time
}

func newCluster(ids []domain.ServerID, cores int) *cluster {
	if cores <= 0 {
		cores = 1
	}
	c := &cluster{cores: cores, servers: make(map[domain.ServerID]*simServer, len(ids))}
	now := time.Now()
	for _, id := range ids {
		c.servers[id] = &simServer{last: now}
	}
	return c
}

func (c *cluster) advance(s *simServer, now time.Time) {
	busy := s.inflight
	if busy > c.cores {
		busy = c.cores
	}
	s.cpu += time.Duration(busy) * now.Sub(s.last)
	s.last = now
}

func (c *cluster) start(id domain.ServerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.servers[id]
	c.advance(s, time.Now())
	s.inflight++
}

// finish encerra a tarefa; com fila (mais tarefas que núcleos) o tempo
// observado cresce na mesma proporção.
func (c *cluster) finish(id domain.ServerID, d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.servers[id]
	c.advance(s, time.Now())
	actual := d
	if s.inflight > c.cores {
		actual = time.Duration(float64(d) * float64(s.inflight) / float64(c.cores))
	}
	s.inflight--
	return actual
}

func (c *cluster) sample(id domain.ServerID) (time.Duration, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[id]
	if !ok {
		return 0, time.Time{}, false
	}
	now := time.Now()
	c.advance(s, now)
	return s.cpu, now, true
}

func startTelemetry(ctx context.Context, addr string, c *cluster, logger logr.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers/{id}/cpu", func(w http.ResponseWriter, r *http.Request) {
		cpu, at, ok := c.sample(domain.ServerID(r.PathValue("id")))
		if !ok {
			http.Error(w, "unknown server", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{
			"cpu_time_ns":  cpu.Nanoseconds(),
			"wall_time_ns": at.UnixNano(),
			"cores":        int64(c.cores),
		})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("telemetry listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "telemetry server error")
		}
	}()
}
