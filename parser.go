package binlog

import "fmt"

// decodeEvent reads one binlog event header and its body from r,
// updating the shared parsing state (current FormatDescriptionEvent,
// table-map cache, in-progress RowsEvent) that later calls to
// decodeEvent and nextRow depend on.
//
// Every concrete *XxxEvent decode method is called against the same
// reader regardless of whether bytes are arriving live off the wire
// or from an in-memory TransactionPayloadEvent body; decodeSubEvents
// relies on that to reuse this dispatcher for compressed sub-events.
func decodeEvent(r *reader) (Event, error) {
	h := EventHeader{}
	if err := h.decode(r); err != nil {
		return Event{}, err
	}

	headerSize := uint32(13)
	if r.fde.BinlogVersion > 1 {
		headerSize = 19
	}
	r.limit = int(h.EventSize-headerSize) - r.checksum

	if h.NextPos != 0 {
		r.binlogPos = h.NextPos
	}

	var data interface{}
	var err error
	switch h.EventType {
	case FORMAT_DESCRIPTION_EVENT:
		fde := FormatDescriptionEvent{}
		err = fde.decode(r, h.EventSize)
		r.fde = fde
		data = fde
	case ROTATE_EVENT:
		re := RotateEvent{}
		err = re.decode(r)
		if err == nil {
			r.binlogFile, r.binlogPos = re.NextBinlog, uint32(re.Position)
		}
		r.tmeCache = make(map[uint64]*TableMapEvent)
		data = re
	case TABLE_MAP_EVENT:
		tme := TableMapEvent{}
		err = tme.decode(r)
		r.tmeCache[tme.tableID] = &tme
		data = tme
	case WRITE_ROWS_EVENTv0, WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2,
		UPDATE_ROWS_EVENTv0, UPDATE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv2,
		DELETE_ROWS_EVENTv0, DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2:
		r.re = RowsEvent{}
		err = r.re.decode(r, h.EventType)
		data = r.re
	case QUERY_EVENT:
		qe := QueryEvent{}
		err = qe.decode(r)
		data = qe
	case XID_EVENT:
		xe := XidEvent{}
		err = xe.decode(r)
		data = xe
	case GTID_EVENT, ANONYMOUS_GTID_EVENT:
		ge := GtidEvent{}
		err = ge.decode(r)
		data = ge
	case PREVIOUS_GTIDS_EVENT:
		pe := PreviousGtidsEvent{}
		err = pe.decode(r)
		data = pe
	case XA_PREPARE_LOG_EVENT:
		xp := XaPrepareEvent{}
		err = xp.decode(r)
		data = xp
	case TRANSACTION_PAYLOAD_EVENT:
		tp := TransactionPayloadEvent{}
		err = tp.decode(r)
		data = tp
	case INTVAR_EVENT:
		ie := IntVarEvent{}
		err = ie.decode(r)
		data = ie
	case RAND_EVENT:
		re := RandEvent{}
		err = re.decode(r)
		data = re
	case USER_VAR_EVENT:
		ue := UserVarEvent{}
		err = ue.decode(r)
		data = ue
	case INCIDENT_EVENT:
		ie := IncidentEvent{}
		err = ie.decode(r)
		data = ie
	case ROWS_QUERY_EVENT:
		rq := RowsQueryEvent{}
		err = rq.decode(r)
		data = rq
	case STOP_EVENT:
		data = StopEvent{}
	case HEARTBEAT_EVENT, HEARTBEAT_LOG_EVENT_V2:
		data = HeartbeatEvent{}
	case LOAD_EVENT:
		data = loadEvent{}
	case SLAVE_EVENT:
		data = slaveEvent{}
	case CREATE_FILE_EVENT:
		data = createFileEvent{}
	case DELETE_FILE_EVENT:
		data = deleteFileEvent{}
	case BEGIN_LOAD_QUERY_EVENT:
		data = beginLoadQueryEvent{}
	case EXECUTE_LOAD_QUERY_EVENT:
		data = executeLoadQueryEvent{}
	case NEW_LOAD_EVENT:
		data = newLoadEvent{}
	case EXEC_LOAD_EVENT:
		data = execLoadEvent{}
	case APPEND_BLOCK_EVENT:
		data = appendBlockEvent{}
	case IGNORABLE_EVENT, TRANSACTION_CONTEXT_EVENT, VIEW_CHANGE_EVENT, PARTIAL_UPDATE_ROWS_EVENT:
		data = ignorableEvent{}
	case UNKNOWN_EVENT:
		data = UnknownEvent{}
	default:
		data = UnknownEvent{}
	}
	h.LogFile = r.binlogFile
	if err != nil {
		return Event{}, fmt.Errorf("binlog: decode %s event: %w", h.EventType, err)
	}
	return Event{Header: h, Data: data}, r.err
}
