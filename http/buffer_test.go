package http //nolint:revive // intentional naming for domain clarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBuffer(t *testing.T) {
	t.Parallel()

	out := make([]byte, 6)
	b := NewBoundedBuffer(out)

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.Truncated())

	n, err = b.Write([]byte("defgh"))
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 3, n)
	assert.True(t, b.Truncated())
	assert.Equal(t, []byte("abcdef"), b.Bytes())
	assert.Equal(t, []byte("abcdef"), out)
}
