package disk

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiskManager(t *testing.T) {
	t.Run("allocate hands out monotonically increasing page ids", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)

		id1, err := dm.AllocatePage()
		assert.NoError(t, err)
		id2, err := dm.AllocatePage()
		assert.NoError(t, err)

		assert.Equal(t, PageID(0), id1)
		assert.Equal(t, PageID(1), id2)
	})

	t.Run("allocate reuses freed slots", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)

		id1, _ := dm.AllocatePage()
		offset := dm.pages[id1]
		dm.DeallocatePage(id1)

		assert.Equal(t, []int64{offset}, dm.freeSlots)
	})

	t.Run("round trips a page's bytes", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)

		pageID, err := dm.AllocatePage()
		assert.NoError(t, err)

		buf := make([]byte, PageSize)
		copy(buf, []byte("hello world"))

		assert.NoError(t, dm.WritePage(pageID, buf))

		res, err := dm.ReadPage(pageID)
		assert.NoError(t, err)
		assert.Equal(t, buf, res)
	})

	t.Run("two successive flushes with no writes in between write identical bytes", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)

		pageID, _ := dm.AllocatePage()
		buf := make([]byte, PageSize)
		copy(buf, []byte("stable"))
		assert.NoError(t, dm.WritePage(pageID, buf))

		first, err := dm.ReadPage(pageID)
		assert.NoError(t, err)
		assert.NoError(t, dm.WritePage(pageID, first))
		second, err := dm.ReadPage(pageID)
		assert.NoError(t, err)

		assert.True(t, bytes.Equal(first, second))
	})

	t.Run("db file grows once capacity is exceeded", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)
		dm.pageCapacity = 1

		_, err := dm.AllocatePage()
		assert.NoError(t, err)
		_, err = dm.AllocatePage()
		assert.NoError(t, err)

		fileInfo, err := os.Stat(dbFile.Name())
		assert.NoError(t, err)
		assert.Equal(t, int64(PageSize)*2, fileInfo.Size())
	})
}

func createDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}

	if err := file.Truncate(int64(DefaultPageCapacity) * PageSize); err != nil {
		panic(fmt.Sprintf("failed truncating db file\n%v", err))
	}

	t.Cleanup(func() {
		_ = os.Remove(file.Name())
	})

	return file
}
