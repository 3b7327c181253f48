package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{-1, 0, MaxCapacity + 1} {
		_, err := New(capacity)
		assert.ErrorIs(t, err, ErrInvalidCapacity, "capacity=%d", capacity)
	}
}

func TestGetDefaultsToZero(t *testing.T) {
	s, err := New(8)
	require.NoError(t, err)
	for k := uint32(0); k < 8; k++ {
		v, err := s.Get(k)
		require.NoError(t, err)
		assert.Zero(t, v)
	}
	assert.Equal(t, 0, s.Written())
}

func TestSetGetLastWriteWins(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	require.NoError(t, s.Set(3, 10))
	require.NoError(t, s.Set(3, -11))

	v, err := s.Get(3)
	require.NoError(t, err)
	assert.Equal(t, int32(-11), v)
	assert.Equal(t, 1, s.Written())
}

func TestOutOfRangeLeavesStoreUnchanged(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	require.NoError(t, s.Set(0, 1))

	for _, k := range []uint32{4, 5, 0xFFFFFFFF} {
		_, err := s.Get(k)
		assert.True(t, errors.Is(err, ErrOutOfRange), "get key=%d", k)
		assert.ErrorIs(t, s.Set(k, 9), ErrOutOfRange)
	}
	assert.Equal(t, []Entry{
		{Key: 0, Value: 1, Written: true},
		{Key: 1}, {Key: 2}, {Key: 3},
	}, s.Range(0, 10))
}

func TestRangeBounds(t *testing.T) {
	s, err := New(4)
	require.NoError(t, err)
	assert.Nil(t, s.Range(4, 1))
	assert.Nil(t, s.Range(-1, 1))
	assert.Nil(t, s.Range(0, 0))
	assert.Len(t, s.Range(2, 100), 2)
}
