package domain

import (
	"strings"
	"time"
)

// Status é o marcador de um evento no log de acesso.
type Status byte

const (
	StatusNew      Status = 'n'
	StatusComplete Status = 'c'
	StatusSent     Status = 's'
)

// ParseStatus reconhece o marcador (sem diferenciar maiúsculas).
func ParseStatus(c byte) (Status, bool) {
	switch Status(c | 0x20) {
	case StatusNew:
		return StatusNew, true
	case StatusComplete:
		return StatusComplete, true
	case StatusSent:
		return StatusSent, true
	}
	return 0, false
}

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusComplete:
		return "complete"
	case StatusSent:
		return "sent"
	}
	return "unknown"
}

// Event é uma linha do log já separada em campos.
type Event struct {
	Status  Status
	TaskID  uint64
	Method  string
	URL     string
	Query   string
	Content string
	Server  ServerID
	// Actual só é preenchido em conclusões.
	Actual time.Duration
}

// Key reconstrói a chave do tipo de tarefa a partir dos campos da linha.
func (e Event) Key() TaskKey {
	return NewTaskKey(e.Method, e.URL, e.Query, e.Content)
}

// ServerSet é o conjunto fixo de servidores configurados, em ordem.
type ServerSet []ServerID

func (s ServerSet) Contains(id ServerID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

func (s ServerSet) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}
