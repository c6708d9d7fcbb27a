package domain

import (
	"context"
	"time"
)

// WindowState é o registro por chave mantido pelo CounterStore.
//
// Start/Count descrevem a janela corrente. PrevStart/PrevCount guardam a
// janela imediatamente anterior enquanto ela ainda cruza o intervalo
// [now-Window, now]; só o algoritmo sliding usa esses campos.
type WindowState struct {
	Start     time.Time
	Count     int64
	Window    time.Duration
	PrevStart time.Time
	PrevCount int64
}

// Live informa se a janela corrente ainda vale em now.
func (s WindowState) Live(window time.Duration, now time.Time) bool {
	if s.Start.IsZero() || s.Count <= 0 {
		return false
	}
	return now.Sub(s.Start) < window
}

// Advance aplica um evento em now e retorna o novo estado.
//
// Se a janela expirou, a nova começa em now com Count=1 (reset e primeiro
// incremento no mesmo passo). A janela antiga vira a anterior só se ainda
// cruza [now-window, now].
func (s WindowState) Advance(window time.Duration, now time.Time) WindowState {
	if s.Live(window, now) {
		s.Count++
		s.Window = window
		return s
	}

	next := WindowState{Start: now, Count: 1, Window: window}
	if s.Count > 0 && !s.Start.IsZero() && s.Start.Add(2*window).After(now) {
		next.PrevStart = s.Start
		next.PrevCount = s.Count
	}
	return next
}

// Evictable: expirada e sem acesso por mais uma janela inteira.
func (s WindowState) Evictable(now time.Time) bool {
	if s.Window <= 0 {
		return true
	}
	return now.Sub(s.Start) >= 2*s.Window
}

// CounterStore é o substrato de contagem. Dono de todos os WindowState.
//
// Increment deve ser linearizável por chave: dois incrementos concorrentes
// na mesma chave nunca se perdem, e a decisão de reset + primeiro incremento
// da janela nova é atômica. Chaves diferentes não podem disputar um lock global.
//
// Falhas do backend devem ser embrulhadas em ErrStoreUnavailable.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (WindowState, error)
	// Peek não altera estado. ok=false quando não há janela viva para a chave.
	Peek(ctx context.Context, key string, window time.Duration, now time.Time) (state WindowState, ok bool, err error)
}
