package binlog

import (
	"io"
	"os"
	"path/filepath"
)

// binlogFileMagic is the four-byte header every MySQL binary log file
// starts with.
var binlogFileMagic = []byte{0xfe, 'b', 'i', 'n'}

// DumpTo streams the replication feed to a directory, writing one file
// per source binlog file (named after the source's own filename) the
// same way mysqlbinlog --raw does. StartReplication must have been
// called first. DumpTo runs until NextEvent returns an error; a nil
// stop channel runs forever, so callers typically wrap this in a
// goroutine and close stop to end the dump.
func (c *Client) DumpTo(dir string, stop <-chan struct{}) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var out *os.File
	defer func() {
		if out != nil {
			out.Close()
		}
	}()

	openFile := func(name string) error {
		if out != nil {
			out.Close()
		}
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := f.Write(binlogFileMagic); err != nil {
			f.Close()
			return err
		}
		out = f
		return nil
	}

	if c.binlogFile != "" {
		if err := openFile(c.binlogFile); err != nil {
			return err
		}
	}

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		ev, err := c.NextEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if out == nil {
			if err := openFile(c.binlogFile); err != nil {
				return err
			}
		}
		if _, err := out.Write(c.lastEventRaw); err != nil {
			return err
		}

		if re, ok := ev.Data.(RotateEvent); ok {
			if err := openFile(re.NextBinlog); err != nil {
				return err
			}
		}
	}
}
