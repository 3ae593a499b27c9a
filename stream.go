package binlog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

const (
	comBinlogDumpCmd     = 0x12
	comBinlogDumpGtidCmd = 0x1e

	bindumpThruGtid = 0x04 // BINLOG_THROUGH_GTID: a gtid set follows the position
)

// comBinlogDump is the replication subscribe command, either the
// filename/position form (COM_BINLOG_DUMP) or the GTID form
// (COM_BINLOG_DUMP_GTID).
//
// https://dev.mysql.com/doc/internals/en/com-binlog-dump.html
// https://dev.mysql.com/doc/internals/en/com-binlog-dump-gtid.html
type comBinlogDump struct {
	serverID       uint32
	binlogFilename string
	binlogPos      uint32
	gtidSet        *GtidSet // non-nil selects COM_BINLOG_DUMP_GTID
}

func (d comBinlogDump) encode(w *writer) error {
	if d.gtidSet == nil {
		w.int1(comBinlogDumpCmd)
		w.int4(d.binlogPos)
		w.int2(0)
		w.int4(d.serverID)
		w.string(d.binlogFilename)
		return w.err
	}

	w.int1(comBinlogDumpGtidCmd)
	w.int2(bindumpThruGtid)
	w.int4(d.serverID)
	w.int4(uint32(len(d.binlogFilename)))
	w.string(d.binlogFilename)
	w.int8(uint64(d.binlogPos))

	gw := newWriter(io.Discard, new(uint8))
	if err := d.gtidSet.encode(gw); err != nil {
		return err
	}
	data := gw.buf[4:] // strip the unused packet-header placeholder
	w.int4(uint32(len(data)))
	w.Write(data)
	return w.err
}

// StartReplication finishes the orchestration connect() performs after
// authentication: resolving a starting position (or GTID set) if none
// was given explicitly, negotiating the event checksum, enabling
// heartbeats, and issuing the replication subscribe command. It must
// be called once, after Connect and before the first NextEvent.
func (c *Client) StartReplication() error {
	if c.cfg.GtidEnabled {
		if c.cfg.GtidSet == nil {
			gs, err := c.fetchGtidSet()
			if err != nil {
				return err
			}
			c.cfg.GtidSet = gs
		}
	} else if c.cfg.BinlogFilename == "" {
		file, pos, err := c.MasterStatus()
		if err != nil {
			return err
		}
		if file == "" {
			return connectError("show master status returned no row")
		}
		if pos < 4 {
			pos = 4
		}
		c.cfg.BinlogFilename, c.cfg.BinlogPosition = file, pos
	}

	if err := c.negotiateChecksum(); err != nil {
		return err
	}
	if c.cfg.HeartbeatInterval > 0 {
		if err := c.SetHeartbeatPeriod(c.cfg.HeartbeatInterval); err != nil {
			return err
		}
	}

	dump := comBinlogDump{
		serverID:       c.cfg.ServerID,
		binlogFilename: c.cfg.BinlogFilename,
		binlogPos:      c.cfg.BinlogPosition,
	}
	if c.cfg.GtidEnabled {
		dump.gtidSet = c.cfg.GtidSet
	}
	w := newWriter(c.ch.conn, &c.ch.seq)
	c.ch.seq = 0 // the dump command starts a fresh logical request
	if err := dump.encode(w); err != nil {
		return wrapConnectError("dump_binlog", err)
	}
	if err := w.Close(); err != nil {
		return wrapConnectError("dump_binlog", err)
	}

	c.binlogFile = c.cfg.BinlogFilename
	c.binlogPos = c.cfg.BinlogPosition
	c.fde = FormatDescriptionEvent{BinlogVersion: 4} // 19-byte event headers until the server's own FDE arrives
	c.tmeCache = make(map[uint64]*TableMapEvent)
	return nil
}

func (c *Client) fetchGtidSet() (*GtidSet, error) {
	rows, err := c.queryRows("show master status")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) < 5 {
		return nil, connectError("show master status returned no executed_gtid_set column")
	}
	return NewGtidSet(rows[0][4])
}

// NextEvent blocks until the next binlog event arrives, decodes it,
// and returns it. Row events are followed by zero or more NextRow
// calls before the next NextEvent call. io.EOF means the server ended
// the stream in non-blocking mode; any other error leaves the Client
// unusable and the caller should Close and reconnect.
func (c *Client) NextEvent() (Event, error) {
	buf, err := c.ch.read()
	if err != nil {
		return Event{}, err
	}
	if len(buf) == 0 {
		return Event{}, unexpectedData("empty binlog packet")
	}

	marker := buf[0]
	body := buf[1:]
	switch marker {
	case errMarker:
		r := newByteReader(buf)
		ep := errPacket{}
		if err := ep.decode(r, c.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, connectError(ep.errorMessage)
	case eofMarker:
		if len(buf) < 9 {
			return Event{}, io.EOF
		}
	case okMarker:
	default:
		return Event{}, unexpectedDataf("binlog stream: unexpected marker 0x%02x", marker)
	}

	if c.checksum == 4 {
		if err := verifyChecksum(body); err != nil {
			return Event{}, err
		}
	}
	c.lastEventRaw = body

	r := newByteReader(body)
	r.binlogFile = c.binlogFile
	r.binlogPos = c.binlogPos
	r.fde = c.fde
	r.tmeCache = c.tmeCache
	r.checksum = c.checksum

	ev, err := decodeEvent(r)

	c.binlogFile = r.binlogFile
	c.binlogPos = r.binlogPos
	c.fde = r.fde
	c.tmeCache = r.tmeCache
	c.checksum = r.checksum

	if err != nil {
		return Event{}, err
	}

	if _, ok := ev.Data.(RowsEvent); ok {
		c.rowsReader = r
	} else {
		c.rowsReader = nil
	}
	return ev, nil
}

// verifyChecksum checks the trailing 4-byte CRC32 the server appends
// to every event when binlog_checksum=CRC32, over the full event
// bytes (header+body) that precede it.
func verifyChecksum(body []byte) error {
	if len(body) < 4 {
		return unexpectedData("binlog event shorter than its checksum")
	}
	data, want := body[:len(body)-4], binary.LittleEndian.Uint32(body[len(body)-4:])
	if got := crc32.ChecksumIEEE(data); got != want {
		return unexpectedDataf("binlog event checksum mismatch: got %#x want %#x", got, want)
	}
	return nil
}

// NextRow returns the next changed row belonging to the RowsEvent
// most recently returned by NextEvent. It returns io.EOF once every
// row in that event has been consumed. valuesBeforeUpdate is non-nil
// only for UpdateRowsEvent.
func (c *Client) NextRow() (values []interface{}, valuesBeforeUpdate []interface{}, err error) {
	if c.rowsReader == nil {
		return nil, nil, io.EOF
	}
	return nextRow(c.rowsReader)
}
