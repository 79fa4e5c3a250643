package admission

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-sidecar/sidecar/admission/application"
	"admission-sidecar/sidecar/admission/domain"
	"admission-sidecar/sidecar/admission/infra"
)

var servers = domain.ServerSet{"A", "B"}

type harness struct {
	sidecar  *Sidecar
	state    *infra.LiveState
	logPath  string
	artifact string
	addr     net.Addr
	done     chan error
}

func startSidecar(t *testing.T, ctx context.Context) *harness {
	t.Helper()
	dir := t.TempDir()

	profiles, err := infra.NewProfileTable([]domain.TaskProfile{
		{Key: "GET/cart", Method: "GET", URL: "/cart", Query: "NULL", Content: "NULL", AvgTime: 400 * time.Millisecond},
	})
	require.NoError(t, err)
	state := infra.NewLiveState(servers, domain.NewWhitelist(profiles.Keys(), servers))

	logPath := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(logPath, nil, 0o644))
	tail, err := infra.OpenTailer(logPath, infra.WithFromStart(), infra.WithPollRate(500))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tail.Close() })

	artifact := filepath.Join(dir, "whitelist.csv")
	srv := &Server{
		Addr: "127.0.0.1:0",
		Publisher: &application.Publisher{
			Engine: application.Engine{
				State:     state,
				Profiles:  profiles,
				Predictor: infra.AnalyticPredictor{},
				SLO:       time.Second,
			},
			Artifact: infra.FileArtifact{Path: artifact},
		},
	}
	addr, err := srv.Listen(ctx)
	require.NoError(t, err)

	sc := &Sidecar{
		Ingestor: &application.Ingestor{Profiles: profiles, Workload: state, Servers: servers},
		Source:   tail,
		Poller: application.Poller{
			Sampler: domain.SamplerFunc(func(context.Context, domain.ServerID) (domain.CPUSample, error) {
				return domain.CPUSample{Cores: 1}, nil
			}),
			Store:   state,
			Servers: servers,
			Window:  5 * time.Millisecond,
		},
		Server: srv,
	}

	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()
	return &harness{sidecar: sc, state: state, logPath: logPath, artifact: artifact, addr: addr, done: done}
}

func (h *harness) appendLog(t *testing.T, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(h.logPath, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("sidecar did not stop")
		return nil
	}
}

func TestSidecar_EndToEnd(t *testing.T) {
	h := startSidecar(t, context.Background())

	client, err := Dial(context.Background(), h.addr.String())
	require.NoError(t, err)
	client.Timeout = 2 * time.Second

	got, err := client.Fetch(h.artifact)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{"A", "B"}, got["GET/cart"], "optimistic default")

	// B fica com 0.8s de carga: 0.8 + 0.4 >= 1s
	h.appendLog(t,
		"n1, GET, /cart, NULL, NULL, 10.0.0.9, B",
		"n2, GET, /cart, NULL, NULL, 10.0.0.9, B",
		"n3, GET, /cart, NULL, NULL, 10.0.0.9, A",
		"c3, GET, /cart, NULL, NULL, 10.0.0.9, A, 350000",
	)
	require.Eventually(t, func() bool {
		w, _ := h.state.Workload("B")
		return w == 800*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	got, err = client.Fetch(h.artifact)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{"A"}, got["GET/cart"])

	require.NoError(t, client.Close())
	err = h.wait(t)
	require.ErrorIs(t, err, domain.ErrConnectionBroken)
	assert.Equal(t, application.StateClosed, h.sidecar.Server.Publisher.State())
}

func TestSidecar_CancelStopsAllUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startSidecar(t, ctx)

	cancel()
	assert.NoError(t, h.wait(t))
}

func TestServer_AcceptsOnlyOneConnection(t *testing.T) {
	h := startSidecar(t, context.Background())

	first, err := Dial(context.Background(), h.addr.String())
	require.NoError(t, err)
	defer first.Close()
	first.Timeout = 2 * time.Second
	require.NoError(t, first.Acquire())

	conn, err := net.DialTimeout("tcp", h.addr.String(), 200*time.Millisecond)
	if err == nil {
		// o listener já foi fechado; qualquer conexão tardia não é atendida
		_ = conn.SetDeadline(time.Now().Add(200 * time.Millisecond))
		_, werr := conn.Write([]byte{application.Trigger1})
		var buf [1]byte
		_, rerr := conn.Read(buf[:])
		_ = conn.Close()
		assert.True(t, werr != nil || rerr != nil, "second connection must not be served")
	}
	require.NoError(t, first.Release())
}
