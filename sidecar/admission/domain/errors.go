package domain

import "errors"

// Erros recuperáveis por evento: a linha é descartada e a ingestão continua.
var (
	ErrMalformedLine       = errors.New("malformed log line")
	ErrUnknownServer       = errors.New("unknown server")
	ErrUnknownTask         = errors.New("unknown task signature")
	ErrUnmatchedCompletion = errors.New("completion without pending instance")
	ErrDuplicateDispatch   = errors.New("task id already pending")
)

// ErrWorkloadUnderflow indica que um decremento levaria a carga abaixo de zero
// (conclusões duplicadas ou fora de ordem); a carga é limitada em zero.
var ErrWorkloadUnderflow = errors.New("workload underflow")

// ErrDurationOutOfRange indica um tempo em microssegundos que não cabe em time.Duration.
var ErrDurationOutOfRange = errors.New("duration out of range")

// ErrInvalidSample indica leitura de CPU inutilizável (erro recuperável por ciclo).
var ErrInvalidSample = errors.New("invalid cpu sample")

// ErrConnectionBroken é o único erro fatal: a conexão de controle caiu.
var ErrConnectionBroken = errors.New("control connection broken")

// ErrorReason traduz um erro de ingestão para um rótulo estável (métricas/diagnóstico).
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownServer):
		return "unknown_server"
	case errors.Is(err, ErrUnknownTask):
		return "unknown_task"
	case errors.Is(err, ErrUnmatchedCompletion):
		return "unmatched_completion"
	case errors.Is(err, ErrDuplicateDispatch):
		return "duplicate_dispatch"
	case errors.Is(err, ErrMalformedLine):
		return "malformed"
	default:
		return "other"
	}
}
