package admission

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"admission-sidecar/sidecar/admission/application"
)

// Sidecar agrupa as três unidades concorrentes: ingestor, poller e o socket
// de controle (que roda o publisher e, dentro dele, o motor de admissão).
// Sem Sampler o poller não roda e a CPU fica em zero.
type Sidecar struct {
	Ingestor *application.Ingestor
	Source   application.LineSource
	Poller   application.Poller
	Server   *Server
	Logger   logr.Logger
}

// Run bloqueia até uma unidade terminar. A queda da conexão de controle
// derruba as demais e é devolvida como erro; cancelamento de ctx devolve nil.
func (s *Sidecar) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.Ingestor.Run(gctx, s.Source)
		s.Logger.V(1).Info("ingestor stopped", "error", errString(err))
		return err
	})
	if s.Poller.Sampler != nil {
		g.Go(func() error {
			err := s.Poller.Run(gctx)
			s.Logger.V(1).Info("poller stopped", "error", errString(err))
			return err
		})
	}
	g.Go(func() error {
		return s.Server.ListenAndServe(gctx)
	})

	err := g.Wait()
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
