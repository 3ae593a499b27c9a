package binlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DirStream replays binlog events from a directory of binlog files —
// a server's --log-bin directory, or the output of Client.DumpTo — the
// same way Client.NextEvent/NextRow replay a live connection.
type DirStream struct {
	dir   string
	names []string // remaining filenames to open, in order

	cur        *os.File
	r          *reader
	binlogFile string
	binlogPos  uint32
	tmeCache   map[uint64]*TableMapEvent
	rowsReader *reader
}

// OpenDir opens every binlog file under dir, in filename sequence-number
// order, for replay starting at the first file's beginning.
func OpenDir(dir string) (*DirStream, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type named struct {
		name string
		seq  int
	}
	var files []named
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, seq, ok := parseBinlogName(e.Name()); ok {
			files = append(files, named{e.Name(), seq})
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("binlog: %s: no binlog files found", dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}

	ds := &DirStream{dir: dir, names: names, tmeCache: make(map[uint64]*TableMapEvent)}
	if err := ds.openNext(); err != nil {
		return nil, err
	}
	return ds, nil
}

// parseBinlogName splits a binlog filename into its base name and
// numeric sequence suffix, e.g. "mysql-bin.000042" -> ("mysql-bin", 42).
func parseBinlogName(name string) (base string, seq int, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot == -1 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(name[dot+1:])
	if err != nil {
		return "", 0, false
	}
	return name[:dot], seq, true
}

func (ds *DirStream) openNext() error {
	if len(ds.names) == 0 {
		return io.EOF
	}
	name := ds.names[0]
	ds.names = ds.names[1:]

	f, err := os.Open(filepath.Join(ds.dir, name))
	if err != nil {
		return err
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return err
	}
	if !bytes.Equal(magic, binlogFileMagic) {
		f.Close()
		return unexpectedDataf("%s: bad file header", name)
	}

	if ds.cur != nil {
		ds.cur.Close()
	}
	ds.cur = f
	ds.binlogFile = name
	ds.binlogPos = uint32(len(binlogFileMagic))
	ds.r = &reader{rd: f, limit: -1, tmeCache: ds.tmeCache, fde: FormatDescriptionEvent{BinlogVersion: 4}}
	return nil
}

// Close releases the currently open binlog file.
func (ds *DirStream) Close() error {
	if ds.cur == nil {
		return nil
	}
	return ds.cur.Close()
}

// NextEvent decodes and returns the next event, opening the next file
// in sequence once the current one is exhausted. io.EOF means every
// file under dir has been fully replayed.
func (ds *DirStream) NextEvent() (Event, error) {
	for {
		if ds.r.limit != -1 {
			// finish the previous event: its undecoded tail plus the
			// trailing checksum, both skipped lazily so NextRow had a
			// chance to read the RowsEvent this reader was set to.
			ds.r.limit += ds.r.checksum
			if err := ds.r.drain(); err != nil {
				return Event{}, err
			}
			ds.r.limit = -1
		}

		if !ds.r.more() {
			if err := ds.openNext(); err != nil {
				return Event{}, err
			}
			continue
		}

		ds.r.binlogFile = ds.binlogFile
		ds.r.binlogPos = ds.binlogPos

		ev, err := decodeEvent(ds.r)

		ds.binlogFile = ds.r.binlogFile
		ds.binlogPos = ds.r.binlogPos

		if err != nil {
			return Event{}, err
		}

		if _, ok := ev.Data.(RowsEvent); ok {
			ds.rowsReader = ds.r
		} else {
			ds.rowsReader = nil
		}
		return ev, nil
	}
}

// NextRow returns the next changed row belonging to the RowsEvent most
// recently returned by NextEvent.
func (ds *DirStream) NextRow() (values []interface{}, valuesBeforeUpdate []interface{}, err error) {
	if ds.rowsReader == nil {
		return nil, nil, io.EOF
	}
	return nextRow(ds.rowsReader)
}
