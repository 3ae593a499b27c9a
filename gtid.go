package binlog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Interval is a half-open range [Start, End) of transaction sequence
// numbers belonging to one source UUID.
type Interval struct {
	Start uint64 // inclusive
	End   uint64 // exclusive
}

// UuidSet is every Interval of committed GTIDs for one source UUID,
// kept sorted and with adjacent/overlapping intervals merged.
type UuidSet struct {
	UUID      uuid.UUID
	Intervals []Interval
}

// GtidSet is the set of all transactions a server has committed or
// replicated, keyed by source UUID. It is the textual form exchanged
// in Previous_gtids_log_event and in COM_BINLOG_DUMP_GTID requests.
//
// https://dev.mysql.com/doc/refman/8.0/en/replication-gtids-concepts.html
type GtidSet struct {
	Sets map[string]*UuidSet // keyed by UUID.String()
}

// NewGtidSet parses the canonical textual form:
//
//	uuid:interval[:interval...][,uuid:interval...]
//
// where interval is "n" or "n-m" (inclusive on both ends, unlike the
// half-open Interval used internally).
func NewGtidSet(text string) (*GtidSet, error) {
	gs := &GtidSet{Sets: make(map[string]*UuidSet)}
	text = strings.TrimSpace(text)
	if text == "" {
		return gs, nil
	}
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 {
			return nil, &InvalidGtidError{Text: text}
		}
		id, err := uuid.Parse(fields[0])
		if err != nil {
			return nil, &InvalidGtidError{Text: text}
		}
		us := gs.uuidSet(id)
		for _, rng := range fields[1:] {
			start, end, err := parseInterval(rng)
			if err != nil {
				return nil, &InvalidGtidError{Text: text}
			}
			us.addInterval(Interval{Start: start, End: end + 1})
		}
	}
	return gs, nil
}

func parseInterval(s string) (start, end uint64, err error) {
	if i := strings.IndexByte(s, '-'); i != -1 {
		start, err = strconv.ParseUint(s[:i], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		end, err = strconv.ParseUint(s[i+1:], 10, 64)
		return start, end, err
	}
	start, err = strconv.ParseUint(s, 10, 64)
	return start, start, err
}

func (gs *GtidSet) uuidSet(id uuid.UUID) *UuidSet {
	key := id.String()
	us, ok := gs.Sets[key]
	if !ok {
		us = &UuidSet{UUID: id}
		gs.Sets[key] = us
	}
	return us
}

// AddGtid records one committed transaction (source UUID, sequence
// number) into the set, merging it into an existing interval where
// possible.
func (gs *GtidSet) AddGtid(id uuid.UUID, gno uint64) {
	gs.uuidSet(id).addInterval(Interval{Start: gno, End: gno + 1})
}

// addInterval inserts iv, merging with any overlapping or adjacent
// existing interval, keeping Intervals sorted and disjoint.
func (us *UuidSet) addInterval(iv Interval) {
	idx := sort.Search(len(us.Intervals), func(i int) bool {
		return us.Intervals[i].Start >= iv.Start
	})
	merged := append(append([]Interval{}, us.Intervals[:idx]...), iv)
	merged = append(merged, us.Intervals[idx:]...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })

	out := merged[:1]
	for _, next := range merged[1:] {
		last := &out[len(out)-1]
		if next.Start <= last.End {
			if next.End > last.End {
				last.End = next.End
			}
			continue
		}
		out = append(out, next)
	}
	us.Intervals = out
}

// Contains reports whether gno (for the given source UUID) is already
// present in the set.
func (gs *GtidSet) Contains(id uuid.UUID, gno uint64) bool {
	us, ok := gs.Sets[id.String()]
	if !ok {
		return false
	}
	i := sort.Search(len(us.Intervals), func(i int) bool {
		return us.Intervals[i].End > gno
	})
	return i < len(us.Intervals) && us.Intervals[i].Start <= gno
}

// String renders the set in canonical textual form, source UUIDs
// sorted lexically, each with its intervals in ascending order.
func (gs *GtidSet) String() string {
	keys := make([]string, 0, len(gs.Sets))
	for k := range gs.Sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		us := gs.Sets[k]
		var b strings.Builder
		b.WriteString(k)
		for _, iv := range us.Intervals {
			b.WriteByte(':')
			if iv.End-iv.Start == 1 {
				b.WriteString(strconv.FormatUint(iv.Start, 10))
			} else {
				b.WriteString(strconv.FormatUint(iv.Start, 10))
				b.WriteByte('-')
				b.WriteString(strconv.FormatUint(iv.End-1, 10))
			}
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ",")
}

// decode reads the binary GTID set encoding used by
// Previous_gtids_log_event: an 8-byte little-endian UUID count, then
// per UUID a 16-byte raw id, an 8-byte interval count, and per
// interval two 8-byte little-endian bounds (start inclusive, end
// exclusive).
func (gs *GtidSet) decode(r *reader) error {
	nSids := r.int8()
	if r.err != nil {
		return r.err
	}
	gs.Sets = make(map[string]*UuidSet, nSids)
	for i := uint64(0); i < nSids; i++ {
		raw := r.bytesInternal(16)
		if r.err != nil {
			return r.err
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return unexpectedDataf("previous gtids: %v", err)
		}
		us := gs.uuidSet(id)
		nIntervals := r.int8()
		if r.err != nil {
			return r.err
		}
		us.Intervals = make([]Interval, nIntervals)
		for j := uint64(0); j < nIntervals; j++ {
			start := r.int8()
			end := r.int8()
			us.Intervals[j] = Interval{Start: start, End: end}
		}
	}
	return r.err
}

// encode writes the same binary layout decode reads, for use in
// COM_BINLOG_DUMP_GTID requests.
func (gs *GtidSet) encode(w *writer) error {
	keys := make([]string, 0, len(gs.Sets))
	for k := range gs.Sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.int8(uint64(len(keys)))
	for _, k := range keys {
		us := gs.Sets[k]
		raw, err := us.UUID.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
		w.int8(uint64(len(us.Intervals)))
		for _, iv := range us.Intervals {
			w.int8(iv.Start)
			w.int8(iv.End)
		}
	}
	return w.err
}

// GtidEvent is logged before a transaction's first real event,
// identifying the GTID the transaction will commit as.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/classGtid__log__event.html
type GtidEvent struct {
	CommitFlag          bool
	UUID                uuid.UUID
	GNO                 uint64
	LastCommitted        int64
	SequenceNumber       int64
	ImmediateCommitTime  uint64
	OriginalCommitTime   uint64
}

func (e *GtidEvent) decode(r *reader) error {
	e.CommitFlag = r.int1() != 0
	raw := r.bytesInternal(16)
	if r.err != nil {
		return r.err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return unexpectedDataf("gtid event: %v", err)
	}
	e.UUID = id
	e.GNO = r.int8()
	if !r.more() {
		return r.err
	}
	_ = r.int1() // logical timestamp typecode
	e.LastCommitted = int64(r.int8())
	e.SequenceNumber = int64(r.int8())
	if r.more() {
		_ = r.bytesEOF() // remaining optional timestamp/server-version fields, not surfaced
	}
	return r.err
}

// PreviousGtidsEvent carries the GTID set of everything already in
// earlier binlog files, written once at the start of each file when
// GTIDs are enabled.
type PreviousGtidsEvent struct {
	GtidSet GtidSet
}

func (e *PreviousGtidsEvent) decode(r *reader) error {
	return e.GtidSet.decode(r)
}

// XidEvent is generated for a COMMIT of a transaction that modifies
// one or more tables using a transactional storage engine.
//
// https://dev.mysql.com/doc/internals/en/xid-event.html
type XidEvent struct {
	Xid uint64
}

func (e *XidEvent) decode(r *reader) error {
	e.Xid = r.int8()
	return r.err
}

// XaPrepareEvent is logged for the PREPARE phase of an XA transaction.
type XaPrepareEvent struct {
	OnePhase bool
	FormatID uint32
	Gtrid    string
	Bqual    string
}

func (e *XaPrepareEvent) decode(r *reader) error {
	e.OnePhase = r.int1() != 0
	e.FormatID = r.int4()
	gtridLen := r.int4()
	bqualLen := r.int4()
	if r.err != nil {
		return r.err
	}
	data := r.bytesEOF()
	if r.err != nil {
		return r.err
	}
	if uint32(len(data)) < gtridLen+bqualLen {
		return unexpectedData("xa prepare: truncated gtrid/bqual")
	}
	e.Gtrid = string(data[:gtridLen])
	e.Bqual = string(data[gtridLen : gtridLen+bqualLen])
	return nil
}
