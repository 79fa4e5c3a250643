package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TaskKey identifica um tipo de tarefa (assinatura da requisição).
type TaskKey string

// nullMarker é o valor usado pelo log e pela tabela de perfis para "sem valor".
const nullMarker = "NULL"

// NewTaskKey monta a chave no mesmo formato que o balanceador usa na busca:
// method + url + query, e "#content" quando há classe de conteúdo.
//
// Ex.: ("GET", "/cart", "NULL", "NULL") => "GET/cart".
func NewTaskKey(method, url, query, content string) TaskKey {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(method))
	b.WriteString(strings.TrimSpace(url))
	if q := normalizeClass(query); q != "" {
		b.WriteString(q)
	}
	if c := normalizeClass(content); c != "" {
		b.WriteByte('#')
		b.WriteString(c)
	}
	return TaskKey(b.String())
}

func normalizeClass(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, nullMarker) {
		return ""
	}
	return v
}

// Valid informa se a chave pode ser serializada no artefato (sem vírgula, quebra de linha ou NUL).
func (k TaskKey) Valid() bool {
	return k != "" && !strings.ContainsAny(string(k), ",\n\r\x00")
}

// TaskProfile guarda o custo medido offline de um tipo de tarefa.
// É imutável depois do carregamento.
type TaskProfile struct {
	Key     TaskKey
	Method  string
	URL     string
	Query   string
	Content string

	AvgSize   float64
	SizeStdev float64

	AvgTime   time.Duration
	TimeStdev time.Duration
}

// ProfileRegistry resolve perfis pela chave, preservando a ordem de carregamento.
type ProfileRegistry interface {
	Lookup(TaskKey) (TaskProfile, bool)
	All() []TaskProfile
}

// Microseconds converte um valor em microssegundos (pode ser fracionário) para
// Duration. Negativos, NaN, infinitos e valores além do alcance de Duration
// retornam ErrDurationOutOfRange.
func Microseconds(v float64) (time.Duration, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %v", ErrDurationOutOfRange, v)
	}
	ns := math.Round(v * float64(time.Microsecond))
	// float64(math.MaxInt64) arredonda para 2^63, que já não cabe em int64
	if ns >= float64(math.MaxInt64) {
		return 0, fmt.Errorf("%w: %v", ErrDurationOutOfRange, v)
	}
	return time.Duration(ns), nil
}
