package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Algorithm é o conjunto fechado de algoritmos de janela.
type Algorithm int

const (
	// FixedWindow conta eventos numa janela ancorada no primeiro evento.
	// Permite até 2x a cota na virada de janela.
	FixedWindow Algorithm = iota
	// SlidingWindow pondera a janela anterior pela fração que ainda cruza
	// [now-W, now], sem guardar timestamp por evento.
	SlidingWindow
)

func (a Algorithm) String() string {
	switch a {
	case FixedWindow:
		return "fixed-window"
	case SlidingWindow:
		return "sliding-window"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed", "fixed-window":
		return FixedWindow, nil
	case "sliding", "sliding-window":
		return SlidingWindow, nil
	default:
		return 0, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfiguration, s)
	}
}

type Evaluation struct {
	Admitted   bool
	Remaining  int
	RetryAfter time.Duration
	// Estimate é a contagem efetiva usada na decisão (ponderada no sliding).
	Estimate float64
}

// Evaluate decide sobre um estado que já inclui o evento corrente.
func (a Algorithm) Evaluate(st WindowState, quota int64, window time.Duration, now time.Time) Evaluation {
	switch a {
	case SlidingWindow:
		return evaluateSliding(st, quota, window, now)
	default:
		return evaluateFixed(st, quota, window, now)
	}
}

func evaluateFixed(st WindowState, quota int64, window time.Duration, now time.Time) Evaluation {
	count := st.Count
	elapsed := now.Sub(st.Start)
	if !st.Live(window, now) {
		// janela expirada conta como nova
		count, elapsed = 0, 0
	}

	ev := Evaluation{
		Admitted:  count <= quota,
		Remaining: clampRemaining(float64(quota - count)),
		Estimate:  float64(count),
	}
	if !ev.Admitted {
		ev.RetryAfter = atLeastMillisecond(window - elapsed)
	}
	return ev
}

func evaluateSliding(st WindowState, quota int64, window time.Duration, now time.Time) Evaluation {
	count := st.Count
	if !st.Live(window, now) {
		count = 0
	}
	prev := min(st.PrevCount, quota)
	estimate := float64(prev)*prevOverlap(st, window, now) + float64(count)

	ev := Evaluation{
		Admitted:  estimate <= float64(quota),
		Remaining: clampRemaining(math.Floor(float64(quota) - estimate)),
		Estimate:  estimate,
	}
	if !ev.Admitted {
		ev.RetryAfter = slidingRetryAfter(st.Start, count, st.PrevStart, prev, quota, window, now)
	}
	return ev
}

// prevOverlap é a fração da janela anterior ainda dentro de [now-W, now].
func prevOverlap(st WindowState, window time.Duration, now time.Time) float64 {
	if st.PrevCount <= 0 || st.PrevStart.IsZero() || window <= 0 {
		return 0
	}
	f := float64(st.PrevStart.Add(2*window).Sub(now)) / float64(window)
	return math.Max(0, math.Min(1, f))
}

// slidingRetryAfter estima quando o próximo evento caberia, supondo que
// nenhum outro evento chegue até lá.
func slidingRetryAfter(start time.Time, count int64, prevStart time.Time, prev, quota int64, window time.Duration, now time.Time) time.Duration {
	windowEnd := start.Add(window)

	// ainda cabe na janela corrente, basta a anterior "escorrer"
	if count+1 <= quota && prev > 0 {
		frac := float64(quota-count-1) / float64(prev)
		at := prevStart.Add(2*window - time.Duration(frac*float64(window)))
		if at.Before(windowEnd) {
			return atLeastMillisecond(at.Sub(now))
		}
	}

	// só depois da virada: a janela corrente (limitada à cota) vira a anterior
	carried := min(count, quota)
	at := windowEnd
	if carried > 0 && quota-1 < carried {
		frac := float64(quota-1) / float64(carried)
		if t := start.Add(2*window - time.Duration(frac*float64(window))); t.After(at) {
			at = t
		}
	}
	return atLeastMillisecond(at.Sub(now))
}

func clampRemaining(v float64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}

func atLeastMillisecond(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
