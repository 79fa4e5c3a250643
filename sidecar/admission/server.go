package admission

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"admission-sidecar/sidecar/admission/application"
)

// DefaultAddr é o endereço do socket de controle esperado pelo balanceador.
const DefaultAddr = "smartdrop:8080"

// Server aceita exatamente uma conexão de controle e entrega ao Publisher.
type Server struct {
	Addr      string
	Publisher *application.Publisher
	Logger    logr.Logger

	ln net.Listener
}

// Listen faz o bind antecipado em Addr (DefaultAddr se vazio), para que erros
// de porta apareçam na subida. Retorna o endereço efetivo.
func (s *Server) Listen(ctx context.Context) (net.Addr, error) {
	if s.ln != nil {
		return s.ln.Addr(), nil
	}
	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	return ln.Addr(), nil
}

// ListenAndServe chama Listen (se ainda não foi feito) e Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if _, err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx, s.ln)
}

// Serve aceita uma conexão em ln, fecha o listener e roda o protocolo até a
// conexão cair ou ctx ser cancelado. O listener é sempre fechado.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.Publisher.Listen()
	s.Logger.Info("waiting for load balancer", "addr", ln.Addr().String())

	stopListen := context.AfterFunc(ctx, func() { _ = ln.Close() })
	conn, err := ln.Accept()
	stopListen()
	_ = ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("accept control connection: %w", err)
	}
	defer conn.Close()

	session := uuid.NewString()
	s.Logger.Info("load balancer connected", "remote", conn.RemoteAddr().String(), "session", session)

	stopConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopConn()

	err = s.Publisher.Serve(ctx, conn, session)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.Logger.Info("control connection closed on shutdown", "session", session)
	}
	return err
}
