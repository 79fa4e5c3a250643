// Package admission liga o sidecar de admissão (Smartdrop) ao mundo externo.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (chaves de tarefa, whitelist, erros)
//   - application: casos de uso (ingestão do log, amostragem de CPU, recálculo, handshake)
//   - infra: implementações concretas (estado com locks, tail do log, artefato, preditores)
//   - admission (este pacote): socket de controle, cliente do lado do balanceador e o runtime
//
// Fluxo com o balanceador:
//
//   1) O balanceador conecta no socket de controle (uma única conexão)
//   2) Manda o byte '1'; o sidecar recalcula, grava o artefato e responde '1'
//   3) O balanceador lê o artefato e manda '2'; o sidecar responde '2'
//   4) Se a conexão cair, o sidecar encerra (não há reconexão)
//
// Variáveis de ambiente do binário sidecar (cmd/sidecar) controlam o comportamento,
// como SMARTDROP_LISTEN_ADDR, SMARTDROP_SERVERS e SMARTDROP_SLO.
package admission
