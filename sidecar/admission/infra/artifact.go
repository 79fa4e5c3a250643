package infra

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"admission-sidecar/sidecar/admission/domain"
)

// EncodeWhitelist serializa uma linha por tarefa, na ordem das chaves:
// "<taskKey>,<ids concatenados>" ou "<taskKey>,0" quando vazio.
func EncodeWhitelist(w *domain.Whitelist) []byte {
	var b bytes.Buffer
	for _, k := range w.Keys() {
		b.WriteString(string(k))
		b.WriteByte(',')
		servers := w.Admissible(k)
		if len(servers) == 0 {
			b.WriteString(domain.EmptyServerSet)
		}
		for _, s := range servers {
			b.WriteString(string(s))
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// ParseWhitelist faz o caminho inverso (lado do balanceador e testes).
// Linhas vazias e NUL final são ignorados.
func ParseWhitelist(r io.Reader) (map[domain.TaskKey][]domain.ServerID, error) {
	out := make(map[domain.TaskKey][]domain.ServerID)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r\x00")
		if line == "" {
			continue
		}
		i := strings.LastIndexByte(line, ',')
		if i <= 0 {
			return nil, fmt.Errorf("line %d: missing server list", n)
		}
		key := domain.TaskKey(line[:i])
		ids := line[i+1:]
		if ids == "" {
			return nil, fmt.Errorf("line %d: empty server list", n)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate task key %q", n, key)
		}
		servers := []domain.ServerID{}
		if ids != domain.EmptyServerSet {
			for j := 0; j < len(ids); j++ {
				servers = append(servers, domain.ServerID(ids[j:j+1]))
			}
		}
		out[key] = servers
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FileArtifact grava a whitelist num caminho fixo com semântica
// truncate-then-overwrite (nunca append).
type FileArtifact struct {
	Path string
}

// Write implementa domain.ArtifactWriter.
func (a FileArtifact) Write(w *domain.Whitelist) error {
	data := EncodeWhitelist(w)

	f, err := os.OpenFile(a.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open whitelist artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write whitelist artifact: %w", err)
	}
	return f.Close()
}

// ReadArtifact lê e interpreta o arquivo publicado.
func ReadArtifact(path string) (map[domain.TaskKey][]domain.ServerID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseWhitelist(f)
}
