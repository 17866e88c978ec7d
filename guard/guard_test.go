package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetSlice(_ []int) []int { return nil }

func TestLockOrResetMutatesValue(t *testing.T) {
	g := New([]int{}, "test")

	g.LockOrReset(resetSlice, func(v *[]int) { *v = append(*v, 1, 2) })

	var got []int
	g.LockOrReset(resetSlice, func(v *[]int) { got = append(got, *v...) })
	assert.Equal(t, []int{1, 2}, got)
	assert.Zero(t, g.Resets())
}

func TestLockOrResetRecoversAfterPanic(t *testing.T) {
	g := New([]int{7}, "test")

	require.Panics(t, func() {
		g.LockOrReset(resetSlice, func(v *[]int) {
			*v = append(*v, 8)
			panic("interrupted mid-update")
		})
	})

	var got []int
	resetCalled := false
	g.LockOrReset(func(old []int) []int {
		resetCalled = true
		assert.Equal(t, []int{7, 8}, old, "reset sees the half-updated value")
		return nil
	}, func(v *[]int) { got = *v })

	assert.True(t, resetCalled)
	assert.Empty(t, got)
	assert.Equal(t, uint64(1), g.Resets())

	// A clean critical section does not reset again.
	g.LockOrReset(func(old []int) []int {
		t.Fatal("unexpected reset")
		return old
	}, func(v *[]int) {})
	assert.Equal(t, uint64(1), g.Resets())
}
