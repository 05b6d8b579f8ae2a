package bitops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBitsAllFree(t *testing.T) {
	b := NewBits(17)
	assert.Equal(t, 17, b.Cap())
	assert.Equal(t, 17, b.CountFree())
	assert.Equal(t, 0, b.FindFirstFree())
}

func TestAllocateAndFree(t *testing.T) {
	b := NewBits(8)
	require.NoError(t, b.Allocate(3))
	allocated, err := b.IsAllocated(3)
	require.NoError(t, err)
	assert.True(t, allocated)

	err = b.Allocate(3)
	assert.True(t, errors.Is(err, ErrAlreadyAllocated))

	require.NoError(t, b.Free(3))
	err = b.Free(3)
	assert.True(t, errors.Is(err, ErrAlreadyFree))
}

func TestForceAllocateIgnoresPriorState(t *testing.T) {
	b := NewBits(4)
	require.NoError(t, b.ForceAllocate(0))
	require.NoError(t, b.ForceAllocate(0))
	allocated, err := b.IsAllocated(0)
	require.NoError(t, err)
	assert.True(t, allocated)
}

func TestOutOfRange(t *testing.T) {
	b := NewBits(4)
	_, err := b.IsAllocated(4)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	_, err = b.IsAllocated(-1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestFindFirstFreeSkipsAllocated(t *testing.T) {
	b := NewBits(8)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allocate(i))
	}
	assert.Equal(t, 5, b.FindFirstFree())
}

func TestFindFirstFreeNoneLeft(t *testing.T) {
	b := NewBits(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allocate(i))
	}
	assert.Equal(t, -1, b.FindFirstFree())
}

func TestFindContiguousFree(t *testing.T) {
	b := NewBits(10)
	require.NoError(t, b.Allocate(3))
	require.NoError(t, b.Allocate(4))

	// the free run 0,1,2 is only 3 long before bits 3,4; the first clean
	// run of length 4 is 5,6,7,8.
	assert.Equal(t, 5, b.FindContiguousFree(4))
	assert.Equal(t, 0, b.FindContiguousFree(2))
}

func TestFindContiguousFreeNoRun(t *testing.T) {
	b := NewBits(4)
	require.NoError(t, b.Allocate(1))
	assert.Equal(t, -1, b.FindContiguousFree(3))
}

func TestNewWrapsExistingBytes(t *testing.T) {
	data := []byte{0b00000101}
	b := New(data, 8)
	allocated, err := b.IsAllocated(0)
	require.NoError(t, err)
	assert.True(t, allocated)
	allocated, err = b.IsAllocated(1)
	require.NoError(t, err)
	assert.False(t, allocated)

	require.NoError(t, b.Allocate(1))
	assert.Equal(t, byte(0b00000111), data[0])
}
