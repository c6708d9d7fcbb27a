package ratelimit

import (
	"testing"
	"time"
)

func TestFormatRetryAfter(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		time.Millisecond:        "1",
		time.Second:             "1",
		1001 * time.Millisecond: "2",
		2500 * time.Millisecond: "3",
		50 * time.Second:        "50",
	}
	for d, want := range cases {
		if got := formatRetryAfter(d); got != want {
			t.Fatalf("formatRetryAfter(%s) = %q, want %q", d, got, want)
		}
	}
}
