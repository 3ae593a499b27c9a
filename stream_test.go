package binlog

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/uuid"
)

func TestComBinlogDump_encodeFilePosition(t *testing.T) {
	var buf bytes.Buffer
	var seq uint8
	w := newWriter(&buf, &seq)
	d := comBinlogDump{serverID: 7, binlogFilename: "binlog.000001", binlogPos: 4}
	if err := d.encode(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	payload := buf.Bytes()[4:] // strip the packet length+seq header
	if payload[0] != comBinlogDumpCmd {
		t.Fatalf("command byte: got 0x%02x want 0x%02x", payload[0], comBinlogDumpCmd)
	}
	pos := binary.LittleEndian.Uint32(payload[1:5])
	if pos != 4 {
		t.Fatalf("pos: got %d want 4", pos)
	}
	serverID := binary.LittleEndian.Uint32(payload[7:11])
	if serverID != 7 {
		t.Fatalf("serverID: got %d want 7", serverID)
	}
	if string(payload[11:]) != "binlog.000001" {
		t.Fatalf("filename: got %q", payload[11:])
	}
}

func TestComBinlogDump_encodeGtid(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	gs := &GtidSet{Sets: map[string]*UuidSet{}}
	gs.AddGtid(id, 5)

	var buf bytes.Buffer
	var seq uint8
	w := newWriter(&buf, &seq)
	d := comBinlogDump{serverID: 1, binlogFilename: "", binlogPos: 4, gtidSet: gs}
	if err := d.encode(w); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	payload := buf.Bytes()[4:]
	if payload[0] != comBinlogDumpGtidCmd {
		t.Fatalf("command byte: got 0x%02x want 0x%02x", payload[0], comBinlogDumpGtidCmd)
	}

	r := newByteReader(payload[1:])
	_ = r.int2() // flags
	_ = r.int4() // server id
	nameLen := r.int4()
	_ = r.string(int(nameLen))
	_ = r.int8() // binlog pos
	dataSize := r.int4()
	if r.err != nil {
		t.Fatal(r.err)
	}
	gsr := newByteReader(r.bytesInternal(int(dataSize)))
	var got GtidSet
	if err := got.decode(gsr); err != nil {
		t.Fatal(err)
	}
	if got.String() != gs.String() {
		t.Fatalf("got %q want %q", got.String(), gs.String())
	}
}

func TestVerifyChecksum(t *testing.T) {
	body := []byte("pretend this is a full binlog event")
	sum := crc32.ChecksumIEEE(body)
	full := append(append([]byte{}, body...), byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))
	if err := verifyChecksum(full); err != nil {
		t.Fatal(err)
	}

	full[0] ^= 0xff
	if err := verifyChecksum(full); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
