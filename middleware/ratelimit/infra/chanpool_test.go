package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanPool_BlocksWhenFull(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx)
	assert.False(t, ok)

	// release duplo não libera vaga extra
	release()
	release()

	r1, ok := p.Acquire(context.Background())
	require.True(t, ok)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	_, ok = p.Acquire(ctx2)
	assert.False(t, ok)
	r1()
}

func TestChanPool_CanceledContextNeverAcquires(t *testing.T) {
	p := NewChanPool(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := p.Acquire(ctx)
	assert.False(t, ok)
}
