package infra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

// Tailer lê linhas novas de um arquivo que cresce (log de acesso).
//
// Ao abrir, posiciona no fim: só linhas acrescentadas depois são entregues.
// Sem linha nova, espera o próximo token do limitador e tenta de novo; esse
// é o único ponto de suspensão da ingestão. Truncamento/rotação é
// responsabilidade de quem escreve o log; se o arquivo encolher, a leitura
// recomeça do início.
type Tailer struct {
	path    string
	f       *os.File
	r       *bufio.Reader
	offset  int64
	partial strings.Builder

	poll      *rate.Limiter
	fromStart bool
}

type TailOption func(*Tailer)

// WithPollRate define quantas tentativas por segundo são feitas em EOF.
func WithPollRate(perSecond float64) TailOption {
	return func(t *Tailer) {
		if perSecond > 0 {
			t.poll = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithFromStart lê o arquivo desde o início (útil para reprocessar um log em testes).
func WithFromStart() TailOption {
	return func(t *Tailer) { t.fromStart = true }
}

// OpenTailer abre o arquivo e posiciona no fim.
func OpenTailer(path string, opts ...TailOption) (*Tailer, error) {
	t := &Tailer{
		path: path,
		poll: rate.NewLimiter(rate.Limit(20), 1),
	}
	for _, opt := range opts {
		opt(t)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	if !t.fromStart {
		off, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek access log: %w", err)
		}
		t.offset = off
	}
	t.f = f
	t.r = bufio.NewReader(f)
	return t, nil
}

// Next bloqueia até a próxima linha completa (sem o terminador) ou até o ctx encerrar.
func (t *Tailer) Next(ctx context.Context) (string, error) {
	for {
		chunk, err := t.r.ReadString('\n')
		t.offset += int64(len(chunk))
		if err == nil {
			t.partial.WriteString(chunk)
			line := strings.TrimRight(t.partial.String(), "\r\n")
			t.partial.Reset()
			return line, nil
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read access log: %w", err)
		}
		// linha incompleta: guarda e espera o resto
		t.partial.WriteString(chunk)

		if err := t.checkTruncated(); err != nil {
			return "", err
		}
		if err := t.poll.Wait(ctx); err != nil {
			// o prazo do ctx vence antes do próximo token
			<-ctx.Done()
			return "", ctx.Err()
		}
	}
}

func (t *Tailer) checkTruncated() error {
	fi, err := t.f.Stat()
	if err != nil {
		return fmt.Errorf("stat access log: %w", err)
	}
	if fi.Size() >= t.offset {
		return nil
	}
	if _, err := t.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind access log: %w", err)
	}
	t.r.Reset(t.f)
	t.offset = 0
	t.partial.Reset()
	return nil
}

func (t *Tailer) Close() error {
	if t.f == nil {
		return nil
	}
	return t.f.Close()
}
