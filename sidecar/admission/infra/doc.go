// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - LiveState: estado compartilhado (carga, CPU, whitelist) com um lock por estrutura
//   - Tailer: leitura contínua do log de acesso (seek no fim + polling com token bucket)
//   - ProfileTable: tabela de perfis carregada via github.com/viant/afs
//   - FileArtifact: serialização truncate-then-overwrite da whitelist
//   - HTTPSampler / HTTPPredictor / AnalyticPredictor: capacidades externas
//   - FileRecordSink / RedisRecordSink / MemoryRecordSink: log de tarefas concluídas
//   - DiagnosticLimiter: token bucket por motivo usando golang.org/x/time/rate
//   - NewChanPool: semáforo simples para limitar amostragens simultâneas
package infra
