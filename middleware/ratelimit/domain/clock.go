package domain

import "time"

// Clock fornece o tempo atual. Deve ser não-decrescente dentro do processo.
type Clock interface {
	Now() time.Time
}
