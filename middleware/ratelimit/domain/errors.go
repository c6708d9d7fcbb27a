package domain

import "errors"

var (
	// ErrExtraction indica que o atributo exigido pelo extractor não veio na requisição.
	ErrExtraction = errors.New("rate limit key could not be extracted")
	// ErrStoreUnavailable indica falha ou timeout do store de contadores.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrInvalidConfiguration é fatal: policies inválidas não sobem.
	ErrInvalidConfiguration = errors.New("invalid rate limit configuration")
)

func IsExtractionError(err error) bool {
	return errors.Is(err, ErrExtraction)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsInvalidConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
