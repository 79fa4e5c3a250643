package domain

// Whitelist é a matriz tipo de tarefa -> servidores admissíveis.
//
// Tem exatamente uma entrada por chave informada na construção; entradas
// nunca são removidas, apenas a pertinência dos servidores muda.
// Não é segura para uso concorrente: quem a possui (o estado compartilhado)
// a protege com o lock de whitelist.
type Whitelist struct {
	keys    []TaskKey
	servers ServerSet
	index   map[TaskKey]int
	member  [][]bool
}

// NewWhitelist cria a matriz com o padrão otimista: todos os servidores
// admissíveis para todas as tarefas. Chaves repetidas são ignoradas.
func NewWhitelist(keys []TaskKey, servers ServerSet) *Whitelist {
	w := &Whitelist{
		servers: append(ServerSet(nil), servers...),
		index:   make(map[TaskKey]int, len(keys)),
	}
	for _, k := range keys {
		if _, ok := w.index[k]; ok {
			continue
		}
		row := make([]bool, len(servers))
		for i := range row {
			row[i] = true
		}
		w.index[k] = len(w.keys)
		w.keys = append(w.keys, k)
		w.member = append(w.member, row)
	}
	return w
}

// Keys retorna as chaves na ordem de carregamento.
func (w *Whitelist) Keys() []TaskKey {
	return append([]TaskKey(nil), w.keys...)
}

// Servers retorna o conjunto configurado de servidores.
func (w *Whitelist) Servers() ServerSet {
	return append(ServerSet(nil), w.servers...)
}

func (w *Whitelist) Len() int { return len(w.keys) }

func (w *Whitelist) pos(k TaskKey, s ServerID) (int, int, bool) {
	row, ok := w.index[k]
	if !ok {
		return 0, 0, false
	}
	for col, v := range w.servers {
		if v == s {
			return row, col, true
		}
	}
	return 0, 0, false
}

// Contains informa se o servidor está na whitelist da tarefa.
func (w *Whitelist) Contains(k TaskKey, s ServerID) bool {
	row, col, ok := w.pos(k, s)
	return ok && w.member[row][col]
}

// Add inclui o servidor; retorna true se houve mudança.
// Chaves ou servidores desconhecidos são ignorados.
func (w *Whitelist) Add(k TaskKey, s ServerID) bool {
	row, col, ok := w.pos(k, s)
	if !ok || w.member[row][col] {
		return false
	}
	w.member[row][col] = true
	return true
}

// Remove retira o servidor; retorna true se houve mudança.
func (w *Whitelist) Remove(k TaskKey, s ServerID) bool {
	row, col, ok := w.pos(k, s)
	if !ok || !w.member[row][col] {
		return false
	}
	w.member[row][col] = false
	return true
}

// Admissible retorna os servidores admissíveis da tarefa, na ordem configurada.
func (w *Whitelist) Admissible(k TaskKey) []ServerID {
	row, ok := w.index[k]
	if !ok {
		return nil
	}
	out := make([]ServerID, 0, len(w.servers))
	for col, in := range w.member[row] {
		if in {
			out = append(out, w.servers[col])
		}
	}
	return out
}

// Entries devolve uma cópia da matriz como mapa (útil para comparação).
func (w *Whitelist) Entries() map[TaskKey][]ServerID {
	out := make(map[TaskKey][]ServerID, len(w.keys))
	for _, k := range w.keys {
		out[k] = w.Admissible(k)
	}
	return out
}

// Clone faz uma cópia profunda.
func (w *Whitelist) Clone() *Whitelist {
	c := &Whitelist{
		keys:    append([]TaskKey(nil), w.keys...),
		servers: append(ServerSet(nil), w.servers...),
		index:   make(map[TaskKey]int, len(w.index)),
		member:  make([][]bool, len(w.member)),
	}
	for k, v := range w.index {
		c.index[k] = v
	}
	for i, row := range w.member {
		c.member[i] = append([]bool(nil), row...)
	}
	return c
}

// ArtifactWriter publica a matriz para o balanceador (arquivo bem conhecido).
// Cada escrita substitui todo o conteúdo anterior.
type ArtifactWriter interface {
	Write(w *Whitelist) error
}
