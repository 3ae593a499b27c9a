package binlog

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compression algorithms used inside a TransactionPayloadEvent.
const (
	payloadCompressionZstd uint64 = 0
	payloadCompressionNone uint64 = 255
)

// Transaction payload header field tags, terminated by
// payloadHeaderEndMark; see WL#3549.
const (
	payloadHeaderEndMark    uint64 = 0
	payloadFieldSize        uint64 = 1
	payloadFieldCompression uint64 = 2
	payloadFieldUncompSize  uint64 = 3
)

// TransactionPayloadEvent wraps a (usually zstd-compressed) run of
// ordinary binlog events emitted together for a single transaction,
// introduced so row events in a large transaction compress better as
// a group than individually.
type TransactionPayloadEvent struct {
	CompressionType  uint64
	UncompressedSize uint64
	PayloadSize      uint64
	Events           []Event
}

func (e *TransactionPayloadEvent) decode(r *reader) error {
	for {
		fieldType := r.intN()
		if r.err != nil {
			return r.err
		}
		if fieldType == payloadHeaderEndMark {
			break
		}
		fieldLen := r.intN()
		if r.err != nil {
			return r.err
		}
		switch fieldType {
		case payloadFieldCompression:
			e.CompressionType = r.intFixed(int(fieldLen))
		case payloadFieldUncompSize:
			e.UncompressedSize = r.intFixed(int(fieldLen))
		case payloadFieldSize:
			e.PayloadSize = r.intFixed(int(fieldLen))
		default:
			r.skip(int(fieldLen))
		}
		if r.err != nil {
			return r.err
		}
	}

	body := r.bytesEOF()
	if r.err != nil {
		return r.err
	}

	plain, err := decompressPayload(e.CompressionType, body)
	if err != nil {
		return err
	}

	events, err := decodeSubEvents(plain, r.fde)
	if err != nil {
		return err
	}
	e.Events = events
	return nil
}

func decompressPayload(compressionType uint64, body []byte) ([]byte, error) {
	switch compressionType {
	case payloadCompressionNone:
		return body, nil
	case payloadCompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, unexpectedDataf("transaction payload: %v", err)
		}
		defer dec.Close()
		plain, err := io.ReadAll(dec)
		if err != nil {
			return nil, unexpectedDataf("transaction payload: %v", err)
		}
		return plain, nil
	default:
		return nil, unexpectedDataf("transaction payload: unsupported compression type %d", compressionType)
	}
}

// decodeSubEvents parses the concatenated, checksum-free events inside
// a decompressed transaction payload. Sub-events share the enclosing
// FormatDescriptionEvent but never reference table maps from outside
// the payload, so table-map state starts fresh.
func decodeSubEvents(data []byte, fde FormatDescriptionEvent) ([]Event, error) {
	sr := newByteReader(data)
	sr.fde = fde
	sr.checksum = 0

	var events []Event
	for {
		if sr.limit != -1 {
			// skip whatever the previous event left undecoded
			if err := sr.drain(); err != nil {
				return events, err
			}
			sr.limit = -1
		}
		if !sr.more() {
			break
		}
		ev, err := decodeEvent(sr)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}
