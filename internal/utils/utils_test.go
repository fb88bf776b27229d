package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type ids []string

func TestStringOrNil(t *testing.T) {
	assert.Nil(t, StringOrNil("   "))
	assert.Equal(t, "bea", *StringOrNil("  bea "))
}

func TestOrZero(t *testing.T) {
	assert.Equal(t, 0, OrZero[int](nil))
	assert.Equal(t, 7, OrZero(Ptr(7)))
}

func TestSliceEditsCopy(t *testing.T) {
	src := ids{"a", "b", "c"}

	assert.Equal(t, ids{"a", "c"}, RemoveAt(src, 1))
	assert.Equal(t, ids{"a", "b", "c", "d"}, InsertAt(src, 3, "d"))
	assert.Equal(t, ids{"x", "a", "b", "c"}, InsertAt(src, 0, "x"))
	assert.Equal(t, ids{"a", "c"}, Without(src, "b"))
	assert.Equal(t, ids{"a", "b", "c"}, src, "source slice is untouched")
}
