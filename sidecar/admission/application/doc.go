// Package application contém os casos de uso do sidecar de admissão:
// ingestão do log de acesso, amostragem de CPU, recálculo da whitelist e o
// protocolo de publicação com o balanceador.
//
// Ele depende apenas do pacote domain e não conhece arquivos nem sockets
// concretos: recebe io.ReadWriter, LineSource e as interfaces do domínio.
package application
