package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"admission-sidecar/internal/metrics"
	"admission-sidecar/sidecar/admission/domain"
)

// State é o estado do protocolo de publicação.
type State int32

const (
	StateListening State = iota
	StateConnected
	StateAwaitTrigger1
	StateComputeAndWrite
	StateAck1
	StateAwaitTrigger2
	StateAck2
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateConnected:
		return "CONNECTED"
	case StateAwaitTrigger1:
		return "AWAIT_TRIGGER_1"
	case StateComputeAndWrite:
		return "COMPUTE_AND_WRITE"
	case StateAck1:
		return "ACK_1"
	case StateAwaitTrigger2:
		return "AWAIT_TRIGGER_2"
	case StateAck2:
		return "ACK_2"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Bytes do protocolo. O balanceador manda Trigger1 antes de ler o artefato e
// Trigger2 depois; o sidecar responde com os acks correspondentes.
const (
	Trigger1 byte = '1'
	Trigger2 byte = '2'
	Ack1     byte = '1'
	Ack2     byte = '2'
)

// Recomputer executa um ciclo do motor de admissão.
type Recomputer interface {
	Recompute(ctx context.Context) (CycleReport, *domain.Whitelist, error)
}

// Publisher conduz o handshake em duas fases com o balanceador.
//
// Entre Ack1 e Trigger2 o balanceador lê o artefato; o sidecar não escreve
// nele nesse intervalo porque só recalcula ao receber Trigger1.
type Publisher struct {
	Engine   Recomputer
	Artifact domain.ArtifactWriter
	Logger   logr.Logger
	// Tracer nil usa o provider global.
	Tracer trace.Tracer

	state  atomic.Int32
	cycles atomic.Int64
}

func (p *Publisher) State() State { return State(p.state.Load()) }

// Cycles retorna quantos handshakes completos foram feitos.
func (p *Publisher) Cycles() int64 { return p.cycles.Load() }

// Listen marca o publisher como aguardando conexão.
func (p *Publisher) Listen() { p.setState(StateListening) }

func (p *Publisher) setState(s State) {
	p.state.Store(int32(s))
	metrics.SetPublisherState(int(s))
}

// Serve roda o protocolo sobre uma conexão já aceita até ela cair ou o
// contexto ser cancelado. Sempre termina em CLOSED.
//
// Erros de conexão e de escrita do artefato voltam embrulhando
// domain.ErrConnectionBroken; cancelamento devolve ctx.Err().
func (p *Publisher) Serve(ctx context.Context, conn io.ReadWriter, session string) error {
	tracer := p.Tracer
	if tracer == nil {
		tracer = otel.Tracer("admission-sidecar/publisher")
	}
	log := p.Logger.WithValues("session", session)

	p.setState(StateConnected)
	for {
		p.setState(StateAwaitTrigger1)
		b, err := readByte(conn)
		if err != nil {
			return p.close(ctx, log, "await trigger 1", err)
		}
		if b != Trigger1 {
			log.Info("unexpected trigger byte", "phase", 1, "byte", b)
		}

		if err := p.cycle(ctx, tracer, session, conn); err != nil {
			return p.close(ctx, log, "publish cycle", err)
		}

		p.setState(StateAwaitTrigger2)
		b, err = readByte(conn)
		if err != nil {
			return p.close(ctx, log, "await trigger 2", err)
		}
		if b != Trigger2 {
			log.Info("unexpected trigger byte", "phase", 2, "byte", b)
		}

		p.setState(StateAck2)
		if err := writeByte(conn, Ack2); err != nil {
			return p.close(ctx, log, "ack 2", err)
		}
		p.cycles.Add(1)
		metrics.IncPublishCycle()
	}
}

// cycle cobre COMPUTE_AND_WRITE e ACK_1.
func (p *Publisher) cycle(ctx context.Context, tracer trace.Tracer, session string, conn io.Writer) (err error) {
	ctx, span := tracer.Start(ctx, "smartdrop.cycle", trace.WithAttributes(
		attribute.String("smartdrop.session", session),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p.setState(StateComputeAndWrite)
	report, wl, err := p.Engine.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("recompute: %w", err)
	}
	span.SetAttributes(
		attribute.Int("smartdrop.added", len(report.Added)),
		attribute.Int("smartdrop.removed", len(report.Removed)),
		attribute.Int("smartdrop.prediction_failures", report.Failures),
	)
	if err := p.Artifact.Write(wl); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	p.setState(StateAck1)
	return writeByte(conn, Ack1)
}

func (p *Publisher) close(ctx context.Context, log logr.Logger, phase string, err error) error {
	p.setState(StateClosed)
	if ctx.Err() != nil {
		log.Info("control connection closed on shutdown", "phase", phase)
		return ctx.Err()
	}
	err = fmt.Errorf("%w: %s: %w", domain.ErrConnectionBroken, phase, err)
	log.Error(err, "control connection closed")
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeByte(w io.Writer, b byte) error {
	n, err := w.Write([]byte{b})
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrShortWrite
	}
	return nil
}

// IsConnectionBroken informa se err encerrou o protocolo por queda de conexão.
func IsConnectionBroken(err error) bool {
	return errors.Is(err, domain.ErrConnectionBroken)
}
