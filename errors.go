package binlog

import "fmt"

// ConnectError reports a failure in the handshake, authentication, or
// replication setup phase. Every such failure is fatal for the stream;
// callers must reconnect.
type ConnectError struct {
	Msg string
	Err error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("binlog: connect: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("binlog: connect: %s", e.Msg)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func connectError(msg string) error { return &ConnectError{Msg: msg} }

func connectErrorf(format string, args ...interface{}) error {
	return &ConnectError{Msg: fmt.Sprintf(format, args...)}
}

func wrapConnectError(msg string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectError{Msg: msg, Err: err}
}

// UnsupportedColumnTypeError reports a binlog column type code the value
// decoder has no handler for.
type UnsupportedColumnTypeError struct {
	TypeName string
}

func (e *UnsupportedColumnTypeError) Error() string {
	return fmt.Sprintf("binlog: unsupported column type: %s", e.TypeName)
}

// UnexpectedDataError reports malformed stream data: bad magic, an
// unexpected packet marker, a checksum mismatch, too many zero-length
// reads, or a failed or timed-out read.
type UnexpectedDataError struct {
	Msg string
}

func (e *UnexpectedDataError) Error() string {
	return fmt.Sprintf("binlog: unexpected data: %s", e.Msg)
}

func unexpectedData(msg string) error { return &UnexpectedDataError{Msg: msg} }

func unexpectedDataf(format string, args ...interface{}) error {
	return &UnexpectedDataError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidGtidError reports a malformed GTID textual form.
type InvalidGtidError struct {
	Text string
}

func (e *InvalidGtidError) Error() string {
	return fmt.Sprintf("binlog: invalid gtid %q", e.Text)
}

// ParseJsonError reports malformed binary JSON: a bad type code, a bad
// literal byte, an oversize offset, or a bad var-int length.
type ParseJsonError struct {
	Msg string
}

func (e *ParseJsonError) Error() string {
	return fmt.Sprintf("binlog: parse json: %s", e.Msg)
}

func parseJSONError(msg string) error { return &ParseJsonError{Msg: msg} }
