// Formatação de valores numéricos em headers, sem passar por fmt.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// retryAfterSeconds arredonda para cima: 2.5s vira 3, nunca menos que 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func formatRetryAfter(d time.Duration) string { return formatInt(retryAfterSeconds(d)) }
