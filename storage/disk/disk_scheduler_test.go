package disk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rivetdb/rivet/config"
)

func TestNewSchedulerFromConfig(t *testing.T) {
	dbFile := createDbFile(t)
	dm := NewManager(dbFile)

	cfg := config.Default()
	cfg.DiskWorkerPoolSize = 3

	ds, err := NewSchedulerFromConfig(dm, cfg)
	assert.NoError(t, err)
	t.Cleanup(ds.Stop)

	pageID, err := ds.AllocatePage()
	assert.NoError(t, err)
	assert.NotEqual(t, InvalidPageID, pageID)
}

func TestDiskScheduler(t *testing.T) {
	t.Run("schedule is non-blocking", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)
		ds, err := NewScheduler(dm, 4)
		assert.NoError(t, err)
		t.Cleanup(ds.Stop)

		pageID, _ := dm.AllocatePage()
		data := make([]byte, PageSize)
		copy(data, []byte("hello world"))

		writeReq := Req{Kind: ReqWrite, PageID: pageID, Data: data, RespCh: make(chan Resp, 1)}

		start := time.Now()
		ds.Schedule(writeReq)
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 50*time.Millisecond)
		resp := <-writeReq.RespCh
		assert.True(t, resp.Success)
	})

	t.Run("can schedule read and write requests", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)
		ds, err := NewScheduler(dm, 4)
		assert.NoError(t, err)
		t.Cleanup(ds.Stop)

		pageID, _ := dm.AllocatePage()
		data := make([]byte, PageSize)
		copy(data, []byte("hello world"))

		writeReq := Req{Kind: ReqWrite, PageID: pageID, Data: data, RespCh: make(chan Resp, 1)}
		ds.Schedule(writeReq)
		writeResp := <-writeReq.RespCh
		assert.True(t, writeResp.Success)

		readReq := NewRequest(pageID)
		ds.Schedule(readReq)
		readResp := <-readReq.RespCh

		assert.True(t, readResp.Success)
		assert.Equal(t, data, readResp.Data)
	})

	t.Run("can schedule allocate and deallocate requests", func(t *testing.T) {
		dbFile := createDbFile(t)
		dm := NewManager(dbFile)
		ds, err := NewScheduler(dm, 4)
		assert.NoError(t, err)
		t.Cleanup(ds.Stop)

		allocReq := Req{Kind: ReqAllocate, RespCh: make(chan Resp, 1)}
		ds.Schedule(allocReq)
		allocResp := <-allocReq.RespCh
		assert.True(t, allocResp.Success)

		deallocReq := Req{Kind: ReqDeallocate, PageID: allocResp.PageID, RespCh: make(chan Resp, 1)}
		ds.Schedule(deallocReq)
		deallocResp := <-deallocReq.RespCh
		assert.True(t, deallocResp.Success)
	})
}
