package cleanstack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupOrder(t *testing.T) {
	var order []string
	s := NewCleanStack()
	for _, name := range []string{"A", "B", "C"} {
		name := name
		s.Push(func() error {
			order = append(order, name)
			return nil
		})
	}
	require.Equal(t, 3, s.Len())

	assert.NoError(t, s.Cleanup(nil))
	assert.Equal(t, []string{"C", "B", "A"}, order)
	assert.Equal(t, 0, s.Len())
}

func TestCleanupContinuesAfterFailure(t *testing.T) {
	var ran []string
	first := errors.New("umount failed")
	s := NewCleanStack()
	s.Push(func() error {
		ran = append(ran, "losetup -d")
		return nil
	})
	s.Push(func() error {
		ran = append(ran, "umount")
		return first
	})

	cause := errors.New("mksquashfs failed")
	err := s.Cleanup(cause)
	assert.Equal(t, []string{"umount", "losetup -d"}, ran)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, first)
}

func TestCleanupEmpty(t *testing.T) {
	s := NewCleanStack()
	assert.NoError(t, s.Cleanup(nil))
	// a second run is a no-op
	assert.NoError(t, s.Cleanup(nil))
}
