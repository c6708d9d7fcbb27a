// Package application contém os casos de uso do admission gateway:
// Policy (extractor + cota + janela + algoritmo + store), Gateway (lista
// ordenada de policies) e ConcurrencyService.
//
// Depende apenas do pacote domain e não conhece net/http.
// Ex.: Gateway.Admit(ctx, req) retorna uma domain.Decision
// (admitido/rejeitado + remaining + retry-after).
package application
