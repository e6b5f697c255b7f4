package probe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/zenddiff/internal/ir"
)

// maxLine bounds one JSON line from the probe file.
const maxLine = 16 << 20

type line struct {
	ID       string          `json:"id"`
	Depth    int64           `json:"depth"`
	Vars     json.RawMessage `json:"vars"`
	Value    json.RawMessage `json:"value"`
	Overflow bool            `json:"overflow"`
}

// ReadSnapshots decodes the probe file written by the prelude. At most max
// snapshots are returned; overflow reports that more were produced, either
// here or by the prelude's own cap. A truncated final line, left by a
// killed process, is ignored.
func ReadSnapshots(r io.Reader, max int) (snaps []ir.Snapshot, overflow bool, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		n++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			if !json.Valid(raw) {
				// Only the last line may be partial; keep scanning to
				// find out whether this was it.
				if sc.Scan() {
					return nil, false, fmt.Errorf("probe: line %d: %w", n, err)
				}
				break
			}
			return nil, false, fmt.Errorf("probe: line %d: %w", n, err)
		}
		if l.Overflow {
			overflow = true
			continue
		}
		if max > 0 && len(snaps) >= max {
			overflow = true
			continue
		}
		s := ir.Snapshot{ProbeID: l.ID, Depth: l.Depth, Vars: compact(l.Vars)}
		if len(l.Value) > 0 {
			s.Value = compact(l.Value)
		}
		snaps = append(snaps, s)
	}
	if err := sc.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return snaps, true, nil
		}
		return nil, false, fmt.Errorf("probe: %w", err)
	}
	return snaps, overflow, nil
}

func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
