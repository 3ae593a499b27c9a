package binlog

import "fmt"

// sendQuery issues a COM_QUERY command, resetting the sequence id as
// every new command must.
func (c *Client) sendQuery(q string) error {
	payload := append([]byte{COM_QUERY}, []byte(q)...)
	return c.ch.write(payload, 0)
}

func (c *Client) queryError(r *reader) (error, error) {
	ep := errPacket{}
	if err := ep.decode(r, c.hs.capabilityFlags); err != nil {
		return nil, err
	}
	return fmt.Errorf("binlog: query: %s", ep.errorMessage), nil
}

// queryRows runs q as a one-shot text-protocol query and collects its
// result set as strings, with SQL NULL rendered as the empty string.
// It exists to serve the handful of administrative statements
// (SHOW BINARY LOGS, SHOW MASTER STATUS, SELECT VERSION()) the
// replication client needs; it is not a general-purpose query API.
func (c *Client) queryRows(q string) ([][]string, error) {
	if err := c.sendQuery(q); err != nil {
		return nil, err
	}
	buf, _, err := c.ch.readWithSequence()
	if err != nil {
		return nil, err
	}
	r := newByteReader(buf)
	marker, err := r.peek()
	if err != nil {
		return nil, err
	}
	if marker == errMarker {
		qerr, err := c.queryError(r)
		if err != nil {
			return nil, err
		}
		return nil, qerr
	}
	if marker == okMarker {
		return nil, nil
	}

	columnCount := r.intN()
	if r.err != nil {
		return nil, r.err
	}
	for i := uint64(0); i < columnCount; i++ {
		if _, _, err := c.ch.readWithSequence(); err != nil {
			return nil, err
		}
	}
	if _, _, err := c.ch.readWithSequence(); err != nil { // column-definitions EOF
		return nil, err
	}

	var rows [][]string
	for {
		buf, _, err := c.ch.readWithSequence()
		if err != nil {
			return nil, err
		}
		if len(buf) < 9 && len(buf) > 0 && buf[0] == eofMarker {
			break
		}
		rr := newByteReader(buf)
		row := make([]string, columnCount)
		for i := range row {
			marker, err := rr.peek()
			if err != nil {
				return nil, err
			}
			if marker == 0xfb {
				rr.skip(1)
				continue
			}
			row[i] = rr.stringN()
		}
		if rr.err != nil {
			return nil, rr.err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// exec runs q and returns the affected-row count reported by its OK
// packet, for administrative statements that return no result set.
func (c *Client) exec(q string) (uint64, error) {
	if err := c.sendQuery(q); err != nil {
		return 0, err
	}
	buf, _, err := c.ch.readWithSequence()
	if err != nil {
		return 0, err
	}
	r := newByteReader(buf)
	marker, err := r.peek()
	if err != nil {
		return 0, err
	}
	if marker == errMarker {
		qerr, err := c.queryError(r)
		if err != nil {
			return 0, err
		}
		return 0, qerr
	}
	r.skip(1) // OK marker
	affectedRows := r.intN()
	r.intN() // last insert id, unused
	return affectedRows, r.err
}
