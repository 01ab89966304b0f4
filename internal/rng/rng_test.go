package rng

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoSourceStaysInRange(t *testing.T) {
	ctx := context.Background()
	var src CryptoSource
	for i := 0; i < 1000; i++ {
		d, err := src.Draw(ctx, 10000, "")
		require.NoError(t, err)
		assert.Less(t, d.Value, uint64(10000))
	}

	_, err := src.Draw(ctx, 0, "")
	assert.Error(t, err)
}

func TestSeedHashDrawsVerifyAfterReveal(t *testing.T) {
	ctx := context.Background()
	src, err := NewSeedHashSource()
	require.NoError(t, err)
	committed := src.Commitment()

	var draws []Draw
	for i := 0; i < 5; i++ {
		d, err := src.Draw(ctx, 10000, "0xa1")
		require.NoError(t, err)
		assert.Equal(t, committed, d.Commitment)
		assert.Equal(t, uint64(i+1), d.Nonce)
		draws = append(draws, d)
	}

	revealed, err := src.Rotate()
	require.NoError(t, err)
	assert.NotEqual(t, committed, src.Commitment())

	for _, d := range draws {
		ok, err := Verify(revealed, d, 10000)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	tampered := draws[0]
	tampered.Value = (tampered.Value + 1) % 10000
	ok, err := Verify(revealed, tampered, 10000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFixedReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	src := NewFixed(3, 9999)

	d, err := src.Draw(ctx, 10000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d.Value)

	d, err = src.Draw(ctx, 10000, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(9999), d.Value)

	_, err = src.Draw(ctx, 100, "")
	require.NoError(t, err)
	_, err = src.Draw(ctx, 100, "")
	assert.Error(t, err)
}
