// Package domain define contratos e regras puras do admission control:
// chaves, extractors, estado de janela, algoritmos de janela e erros.
//
// Este pacote não depende de net/http nem de implementações concretas
// (store em memória, Redis, Postgres ficam em infra).
package domain
