package buffer

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivetdb/rivet/config"
	"github.com/rivetdb/rivet/storage/disk"
)

func TestNewFromConfig(t *testing.T) {
	file := createDbFile(t)
	dm := disk.NewManager(file)

	cfg := config.Default()
	cfg.BufferPoolSize = 5
	bpm := NewFromConfig(cfg, dm, nil)

	assert.Len(t, bpm.frames, 5)
}

func TestBufferPoolManager(t *testing.T) {
	t.Run("new page then fetch reads back the same bytes", func(t *testing.T) {
		bpm := createBpm(t, 3)

		var pageID disk.PageID
		f, ok := bpm.NewPage(&pageID)
		assert.True(t, ok)
		copy(f.data, []byte("hello, world!"))
		assert.True(t, bpm.UnpinPage(pageID, true))
		assert.True(t, bpm.FlushPage(pageID))

		f2, ok := bpm.FetchPage(pageID)
		assert.True(t, ok)
		assert.True(t, bytes.HasPrefix(f2.data, []byte("hello, world!")))
		assert.True(t, bpm.UnpinPage(pageID, false))
	})

	t.Run("evicts the least recently used unpinned frame", func(t *testing.T) {
		bpm := createBpm(t, 3)

		ids := make([]disk.PageID, 4)
		for i := 0; i < 3; i++ {
			var id disk.PageID
			f, ok := bpm.NewPage(&id)
			assert.True(t, ok)
			copy(f.data, []byte(fmt.Sprintf("page-%d", i)))
			ids[i] = id
		}

		// pages 0,1,2 are pinned; unpin 0 to make it evictable
		assert.True(t, bpm.UnpinPage(ids[0], true))

		var id3 disk.PageID
		f3, ok := bpm.NewPage(&id3)
		assert.True(t, ok)
		copy(f3.data, []byte("page-3"))
		ids[3] = id3

		// page 0 should have been evicted; unpin page 3 so the refetch has a
		// frame to take, then refetching re-reads page 0 from disk
		assert.True(t, bpm.UnpinPage(ids[3], false))
		f0, ok := bpm.FetchPage(ids[0])
		assert.True(t, ok)
		assert.True(t, bytes.HasPrefix(f0.data, []byte("page-0")))
		assert.True(t, bpm.UnpinPage(ids[0], false))
	})

	t.Run("fetch and new page return false when every frame is pinned", func(t *testing.T) {
		bpm := createBpm(t, 2)

		var id1, id2 disk.PageID
		_, ok1 := bpm.NewPage(&id1)
		_, ok2 := bpm.NewPage(&id2)
		assert.True(t, ok1)
		assert.True(t, ok2)

		var id3 disk.PageID
		_, ok3 := bpm.NewPage(&id3)
		assert.False(t, ok3)
	})

	t.Run("unpin on a non-resident page is idempotent", func(t *testing.T) {
		bpm := createBpm(t, 2)
		assert.True(t, bpm.UnpinPage(disk.PageID(999), false))
	})

	t.Run("unpin below zero reports failure", func(t *testing.T) {
		bpm := createBpm(t, 2)

		var pageID disk.PageID
		_, ok := bpm.NewPage(&pageID)
		assert.True(t, ok)

		assert.True(t, bpm.UnpinPage(pageID, false))
		assert.False(t, bpm.UnpinPage(pageID, false))
	})

	t.Run("delete page fails while pinned, succeeds once unpinned", func(t *testing.T) {
		bpm := createBpm(t, 2)

		var pageID disk.PageID
		_, ok := bpm.NewPage(&pageID)
		assert.True(t, ok)

		assert.False(t, bpm.DeletePage(pageID))
		assert.True(t, bpm.UnpinPage(pageID, false))
		assert.True(t, bpm.DeletePage(pageID))
	})

	t.Run("delete on a non-resident page deallocates and succeeds", func(t *testing.T) {
		bpm := createBpm(t, 2)
		assert.True(t, bpm.DeletePage(disk.PageID(42)))
	})

	t.Run("two successive flushes with no writes write identical bytes", func(t *testing.T) {
		bpm := createBpm(t, 2)

		var pageID disk.PageID
		f, ok := bpm.NewPage(&pageID)
		assert.True(t, ok)
		copy(f.data, []byte("stable"))

		assert.True(t, bpm.FlushPage(pageID))
		first := append([]byte(nil), f.data...)
		assert.True(t, bpm.FlushPage(pageID))
		assert.Equal(t, first, f.data)
	})
}

func createBpm(t *testing.T, poolSize int) *BufferPoolManager {
	t.Helper()
	file := createDbFile(t)
	dm := disk.NewManager(file)
	return NewBufferPoolManager(poolSize, dm, nil)
}

func createDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}
	if err := file.Truncate(int64(disk.DefaultPageCapacity) * disk.PageSize); err != nil {
		panic(fmt.Sprintf("failed truncating db file\n%v", err))
	}

	t.Cleanup(func() {
		_ = os.Remove(file.Name())
	})

	return file
}
