// Package domain define contratos e tipos de domínio do sidecar de admissão.
//
// Este pacote não depende de rede, arquivos nem implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras
// (perfil de tarefa, carga por servidor, whitelist) de detalhes de infraestrutura.
package domain
