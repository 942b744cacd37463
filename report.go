package sensorboard

import (
	"time"

	json "github.com/goccy/go-json"
)

// Report is the periodic status line a board emits between commands. The
// wire format is a single JSON object terminated by LF, matching what the
// observatory boards send: a board name, a milliseconds-since-start stamp,
// a monotonically increasing report number and the relay states.
type Report struct {
	Name      string  `json:"name"`
	Millis    int64   `json:"millis"`
	ReportNum int64   `json:"report_num"`
	Relays    []Relay `json:"relays"`
}

// Reporter builds status reports for one board.
type Reporter struct {
	name    string
	relays  *RelayBank
	started time.Time
	num     int64
}

// NewReporter returns a reporter for the given board name and relay bank.
func NewReporter(name string, relays *RelayBank) *Reporter {
	return &Reporter{
		name:    name,
		relays:  relays,
		started: time.Now(),
	}
}

// Next builds the next report and advances the sequence number.
func (r *Reporter) Next() Report {
	r.num++
	rep := Report{
		Name:      r.name,
		Millis:    time.Since(r.started).Milliseconds(),
		ReportNum: r.num,
	}
	if r.relays != nil {
		rep.Relays = r.relays.Snapshot()
	}
	return rep
}

// Encode serializes the next report as one LF-terminated JSON line.
func (r *Reporter) Encode() ([]byte, error) {
	b, err := json.Marshal(r.Next())
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeReport parses one report line, as a host-side consumer would.
func DecodeReport(line []byte) (Report, error) {
	var rep Report
	err := json.Unmarshal(line, &rep)
	return rep, err
}
