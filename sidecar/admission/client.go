package admission

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/multierr"

	"admission-sidecar/sidecar/admission/application"
	"admission-sidecar/sidecar/admission/domain"
	"admission-sidecar/sidecar/admission/infra"
)

// Client é o lado do balanceador no protocolo de controle.
//
// Acquire pede uma whitelist nova e bloqueia até ela estar no artefato;
// Release libera o sidecar para o próximo ciclo.
type Client struct {
	conn net.Conn
	// Timeout por troca de bytes; 0 = sem prazo.
	Timeout time.Duration
}

// Dial conecta no socket de controle.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient usa uma conexão já estabelecida.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Acquire() error {
	return c.exchange(application.Trigger1, application.Ack1)
}

func (c *Client) Release() error {
	return c.exchange(application.Trigger2, application.Ack2)
}

// Fetch faz um ciclo completo: acquire, leitura do artefato, release.
func (c *Client) Fetch(path string) (entries map[domain.TaskKey][]domain.ServerID, err error) {
	if err := c.Acquire(); err != nil {
		return nil, err
	}
	entries, err = infra.ReadArtifact(path)
	if relErr := c.Release(); relErr != nil {
		return nil, multierr.Append(err, relErr)
	}
	if err != nil {
		return nil, fmt.Errorf("read whitelist artifact: %w", err)
	}
	return entries, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) exchange(send, want byte) error {
	if c.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write([]byte{send}); err != nil {
		return fmt.Errorf("%w: send %q: %w", domain.ErrConnectionBroken, send, err)
	}
	var buf [1]byte
	if _, err := io.ReadFull(c.conn, buf[:]); err != nil {
		return fmt.Errorf("%w: await ack %q: %w", domain.ErrConnectionBroken, want, err)
	}
	if buf[0] != want {
		return fmt.Errorf("unexpected ack %q, want %q", buf[0], want)
	}
	return nil
}
