package application

import (
	"fmt"
	"strconv"
	"strings"

	"admission-sidecar/sidecar/admission/domain"
)

const (
	minDispatchFields   = 6 // status+id, method, url, query, content, server
	minCompletionFields = 7 // ... server, actual
)

// ParseLine separa uma linha do log de acesso em um domain.Event.
//
// Formato: "<status><id>, <method>, <url>, <query>, <content>, ..., <server>[, <actual>]".
// Campos entre content e server são ignorados. Em conclusões o último campo é o
// tempo de resposta observado, em microssegundos.
func ParseLine(line string) (domain.Event, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	head := fields[0]
	if head == "" {
		return domain.Event{}, fmt.Errorf("%w: empty status field", domain.ErrMalformedLine)
	}
	status, ok := domain.ParseStatus(head[0])
	if !ok {
		return domain.Event{}, fmt.Errorf("%w: unknown status marker %q", domain.ErrMalformedLine, head[0])
	}
	id, err := strconv.ParseUint(head[1:], 10, 64)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: task id %q", domain.ErrMalformedLine, head[1:])
	}

	need := minDispatchFields
	if status == domain.StatusComplete {
		need = minCompletionFields
	}
	if len(fields) < need {
		return domain.Event{}, fmt.Errorf("%w: %s line needs at least %d fields, got %d",
			domain.ErrMalformedLine, status, need, len(fields))
	}

	ev := domain.Event{
		Status:  status,
		TaskID:  id,
		Method:  fields[1],
		URL:     fields[2],
		Query:   fields[3],
		Content: fields[4],
	}
	if ev.Method == "" || ev.URL == "" {
		return domain.Event{}, fmt.Errorf("%w: empty method or url", domain.ErrMalformedLine)
	}

	serverField := fields[len(fields)-1]
	if status == domain.StatusComplete {
		serverField = fields[len(fields)-2]
		raw := fields[len(fields)-1]
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: response time %q", domain.ErrMalformedLine, raw)
		}
		if ev.Actual, err = domain.Microseconds(v); err != nil {
			return domain.Event{}, fmt.Errorf("%w: response time %q: %w", domain.ErrMalformedLine, raw, err)
		}
	}
	ev.Server = domain.ServerID(serverField)
	if !ev.Server.Valid() {
		return domain.Event{}, fmt.Errorf("%w: %w %q", domain.ErrMalformedLine, domain.ErrUnknownServer, serverField)
	}
	return ev, nil
}
