// Package ratelimit fornece adapters HTTP (net/http) para o admission gateway
// e para o limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e regras puras (janelas, extractors, store), sem net/http
//   - application: Policy, Gateway e ConcurrencyService, sem net/http
//   - infra: relógios, counter stores (memória, Redis, Postgres), stats, semáforo
//   - ratelimit (este pacote): middlewares HTTP, montagem do domain.Request,
//     identidade (header/JWT) e tradução da decisão para status/headers
//
// Fluxo no gateway:
//
//  1. Monta o domain.Request (endereço/XFF, identidade, headers configurados)
//  2. Chama Gateway.Admit para obter a decisão
//  3. Se rejeitado, responde 429 com Retry-After (ou 503 na concorrência)
//  4. Se admitido, chama o próximo handler (ex: reverse proxy)
//
// O binário cmd/gateway lê as policies de um YAML e de variáveis ADMISSION_*.
package ratelimit
