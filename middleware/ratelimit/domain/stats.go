package domain

import (
	"context"
	"time"
)

// StatsEvent é o registro de uma Decision para estatística.
//
// Method/Path são strings genéricas, não dependem de HTTP.
// Key e Path têm cardinalidade alta: os sinks só agregam por chave quando
// isso é ligado explicitamente.
type StatsEvent struct {
	Key     Key
	Policy  string
	Reason  Reason
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// EventFor monta o evento de uma decisão já tomada.
func EventFor(dec Decision, method, path string, at time.Time) StatsEvent {
	return StatsEvent{
		Key:     dec.Key,
		Policy:  dec.Policy,
		Reason:  dec.Reason,
		Allowed: dec.Admitted,
		Method:  method,
		Path:    path,
		At:      at,
	}
}

// StatsStore recebe os eventos. Falha em Record nunca muda a decisão.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
