package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUReplacer(t *testing.T) {
	t.Run("unpin inserts at the front", func(t *testing.T) {
		r := newLRUReplacer(5)

		r.unpin(1)
		r.unpin(2)
		r.unpin(3)

		assert.Equal(t, 3, r.size())
		assert.Equal(t, listOf(r), []int{3, 2, 1})
	})

	t.Run("unpin is a no-op if already present", func(t *testing.T) {
		r := newLRUReplacer(5)

		r.unpin(1)
		r.unpin(2)
		r.unpin(1)

		assert.Equal(t, 2, r.size())
		assert.Equal(t, listOf(r), []int{2, 1})
	})

	t.Run("pin removes a frame from the replacer", func(t *testing.T) {
		r := newLRUReplacer(5)

		r.unpin(1)
		r.unpin(2)
		r.unpin(3)
		r.pin(2)

		assert.Equal(t, 2, r.size())
		assert.Equal(t, listOf(r), []int{3, 1})
	})

	t.Run("pin on an absent frame is a no-op", func(t *testing.T) {
		r := newLRUReplacer(5)
		r.unpin(1)

		r.pin(99)

		assert.Equal(t, 1, r.size())
	})

	t.Run("victim evicts the least recently unpinned frame", func(t *testing.T) {
		r := newLRUReplacer(5)

		r.unpin(1)
		r.unpin(2)
		r.unpin(3)

		id, ok := r.victim()
		assert.True(t, ok)
		assert.Equal(t, 1, id)
		assert.Equal(t, 2, r.size())
	})

	t.Run("victim on an empty replacer returns false", func(t *testing.T) {
		r := newLRUReplacer(5)

		_, ok := r.victim()
		assert.False(t, ok)
	})
}

func listOf(r *lruReplacer) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := []int{}
	for n := r.head.next; n != r.tail; n = n.next {
		res = append(res, n.frameID)
	}
	return res
}
