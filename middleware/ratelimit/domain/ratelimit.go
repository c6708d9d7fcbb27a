package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"net/textproto"
	"time"
)

// Key é a identidade sob a qual a cota é contabilizada.
// É opaca para o resto do sistema; use os extractors para construí-la.
type Key string

// Request é o descritor de uma requisição de entrada.
//
// Identity vazia significa "não autenticado". Headers guarda apenas os
// headers que algum extractor precisa (chaves canônicas, ex: "X-Api-Key").
type Request struct {
	Address  string
	Identity string
	Path     string
	Method   string
	Headers  map[string]string
}

// Header retorna o valor do header (nome em qualquer capitalização).
func (r Request) Header(name string) (string, bool) {
	if r.Headers == nil {
		return "", false
	}
	v, ok := r.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// Reason explica por que uma decisão foi tomada.
type Reason string

const (
	ReasonAdmitted         Reason = "admitted"
	ReasonQuotaExceeded    Reason = "quota_exceeded"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonMissingKey       Reason = "missing_key"
)

// RemainingUnknown é usado quando nenhuma policy conseguiu contabilizar o evento.
const RemainingUnknown = -1

type Decision struct {
	Admitted bool
	// Remaining é quanto ainda cabe na janela da policy mais apertada.
	// RemainingUnknown quando nenhuma policy foi aplicada.
	Remaining int
	// Limit é a cota da policy que definiu Remaining (0 se desconhecida).
	Limit int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// Policy é o nome da policy que rejeitou (ou a mais apertada, se admitido).
	// Key é a chave contabilizada por essa policy; nunca vai para o cliente.
	Policy string
	Key    Key
	Reason Reason
}
