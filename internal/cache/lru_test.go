package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU_SetGetEvict(t *testing.T) {
	c := newLRU[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	evicted, ok := c.Set("c", 3)
	assert.True(t, ok)
	assert.Equal(t, "b", evicted)
	assert.Equal(t, []int{3, 1}, c.Values())
}

func TestLRU_UpdateDoesNotEvict(t *testing.T) {
	c := newLRU[string, int](1)
	c.Set("a", 1)
	_, evicted := c.Set("a", 2)
	assert.False(t, evicted)
	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
}

func TestLRU_DeleteAndPurge(t *testing.T) {
	c := newLRU[string, int](0)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
