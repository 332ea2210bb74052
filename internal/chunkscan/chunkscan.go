// Package chunkscan is the low-level shared machinery for reading
// finalized Arrow IPC chunk files from a dataset directory: listing
// them in index order and opening each as a zero-copy, memory-mapped
// source of record batches, using github.com/edsrzf/mmap-go. Both the
// in-progress table (which needs to know how many rows are already
// safely on disk) and the completed/live dataset reader build on this.
package chunkscan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/edsrzf/mmap-go"

	"github.com/fricon-project/fricon/internal/ferrors"
)

// List returns the paths of every data_chunk_<n>.arrow file under dir,
// in ascending index order.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeReadIO, err, "list dataset directory")
	}
	type indexed struct {
		idx  int
		path string
	}
	var found []indexed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "data_chunk_") || !strings.HasSuffix(name, ".arrow") {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(name, "data_chunk_%d.arrow", &idx); err != nil {
			continue
		}
		found = append(found, indexed{idx, filepath.Join(dir, name)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].idx < found[j].idx })
	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

// File is a single opened, memory-mapped chunk file.
type File struct {
	path   string
	f      *os.File
	mapped mmap.MMap
	fr     *ipc.FileReader
	rows   []int64 // cumulative row offsets, len == fr.NumRecords()+1
}

// Open memory-maps path and decodes its IPC footer. The mapping's
// lifetime is tied to the returned File; callers must call Close.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.New(ferrors.KindInternal, ferrors.CodeReadNotFound)
		}
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeReadIO, err, "open chunk file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeReadIO, err, "stat chunk file")
	}
	if info.Size() == 0 {
		f.Close()
		return nil, ferrors.New(ferrors.KindInternal, ferrors.CodeInvalidFormat)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeReadIO, err, "mmap chunk file")
	}
	fr, err := ipc.NewFileReader(bytes.NewReader(m))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeInvalidFormat, err, "decode chunk footer")
	}
	cf := &File{path: path, f: f, mapped: m, fr: fr}
	cf.rows = make([]int64, fr.NumRecords()+1)
	var total int64
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			cf.Close()
			return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeInvalidFormat, err, "read chunk record")
		}
		total += rec.NumRows()
		cf.rows[i+1] = total
	}
	return cf, nil
}

func (c *File) Schema() *arrow.Schema { return c.fr.Schema() }

// NumRows is the total row count of every batch in this chunk.
func (c *File) NumRows() int64 { return c.rows[len(c.rows)-1] }

// Records returns every record batch contained in this chunk, in
// order. Each call decodes fresh zero-copy slices backed by the
// mapping; callers should Release() what they no longer need.
func (c *File) Records() ([]arrow.Record, error) {
	n := c.fr.NumRecords()
	out := make([]arrow.Record, n)
	for i := 0; i < n; i++ {
		rec, err := c.fr.Record(i)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindInternal, ferrors.CodeInvalidFormat, err, "read chunk record")
		}
		rec.Retain()
		out[i] = rec
	}
	return out, nil
}

// Close unmaps the file and releases the OS handle. Records returned
// by Records are backed by the mapping, so none of them may be used
// after Close, retained or not; this package's callers keep a File
// open for as long as they hand out its records.
func (c *File) Close() error {
	var errMap, errClose error
	if c.mapped != nil {
		errMap = c.mapped.Unmap()
		c.mapped = nil
	}
	if c.f != nil {
		errClose = c.f.Close()
		c.f = nil
	}
	if errMap != nil {
		return errMap
	}
	return errClose
}
