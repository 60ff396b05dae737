// Package headerpage implements the fixed page-0 directory mapping index
// names to their B+tree root page ids, so a freshly opened database can
// find every index without a separate catalog (spec.md §3, §6).
package headerpage

import (
	"sync"

	"github.com/rivetdb/rivet/buffer"
	"github.com/rivetdb/rivet/storage/disk"
	"github.com/rivetdb/rivet/util"
)

// PageID is the fixed, well-known location of the directory.
const PageID disk.PageID = 0

// record is one (index name -> root page id) entry.
type record struct {
	IndexName  string
	RootPageID disk.PageID
}

// directory is the msgpack payload stored on PageID.
type directory struct {
	Records []record
}

// Directory manages the on-disk index-name -> root-page-id mapping. It
// serializes access with its own mutex on top of the buffer pool's
// pin/latch bookkeeping, since a directory mutation is a read-modify-write
// cycle over the whole page-0 payload rather than a single field update.
type Directory struct {
	mu  sync.Mutex
	bpm *buffer.BufferPoolManager
}

// New wraps bpm's page 0 as an index directory, allocating it on first use
// if the database file is brand new.
func New(bpm *buffer.BufferPoolManager) (*Directory, error) {
	if g, ok := bpm.FetchPageRead(PageID); ok {
		g.Drop()
		return &Directory{bpm: bpm}, nil
	}

	var id disk.PageID
	if g, ok := bpm.NewPageWrite(&id); ok && id == PageID {
		g.SetData(make([]byte, disk.PageSize))
		g.Drop()
	}

	return &Directory{bpm: bpm}, nil
}

func (d *Directory) load() (directory, *buffer.WritePageGuard, bool) {
	g, ok := d.bpm.FetchPageWrite(PageID)
	if !ok {
		return directory{}, nil, false
	}
	dir, err := util.ToStruct[directory](g.Data())
	if err != nil {
		g.Drop()
		return directory{}, nil, false
	}
	return dir, g, true
}

func (d *Directory) save(g *buffer.WritePageGuard, dir directory) bool {
	defer g.Drop()
	data, err := util.ToByteSlice(dir)
	if err != nil {
		return false
	}
	g.SetData(data)
	return true
}

// InsertRecord adds a new index-name -> root mapping. Returns false if the
// name is already recorded.
func (d *Directory) InsertRecord(indexName string, rootPageID disk.PageID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir, g, ok := d.load()
	if !ok {
		return false
	}

	for _, r := range dir.Records {
		if r.IndexName == indexName {
			g.Drop()
			return false
		}
	}

	dir.Records = append(dir.Records, record{IndexName: indexName, RootPageID: rootPageID})
	return d.save(g, dir)
}

// UpdateRecord changes an existing mapping's root page id.
func (d *Directory) UpdateRecord(indexName string, rootPageID disk.PageID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir, g, ok := d.load()
	if !ok {
		return false
	}

	for i, r := range dir.Records {
		if r.IndexName == indexName {
			dir.Records[i].RootPageID = rootPageID
			return d.save(g, dir)
		}
	}

	g.Drop()
	return false
}

// DeleteRecord removes indexName's mapping.
func (d *Directory) DeleteRecord(indexName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir, g, ok := d.load()
	if !ok {
		return false
	}

	for i, r := range dir.Records {
		if r.IndexName == indexName {
			dir.Records = append(dir.Records[:i], dir.Records[i+1:]...)
			return d.save(g, dir)
		}
	}

	g.Drop()
	return false
}

// GetRootID returns indexName's current root page id.
func (d *Directory) GetRootID(indexName string) (disk.PageID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.bpm.FetchPageRead(PageID)
	if !ok {
		return disk.InvalidPageID, false
	}
	defer g.Drop()

	dir, err := util.ToStruct[directory](g.Data())
	if err != nil {
		return disk.InvalidPageID, false
	}

	for _, r := range dir.Records {
		if r.IndexName == indexName {
			return r.RootPageID, true
		}
	}
	return disk.InvalidPageID, false
}
