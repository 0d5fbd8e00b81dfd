package depth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	SnapshotCode     = "200000"
	incrementType    = "message"
	incrementSubject = "trade.l2update"
)

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Size.String()})
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var raw []decimal.Decimal
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("level: expected [price,size], got %d elements", len(raw))
	}
	l.Price, l.Size = raw[0], raw[1]
	return nil
}

func (e DiffEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.Price.String(), e.Size.String(), strconv.FormatUint(e.Sequence, 10)})
}

func (e *DiffEntry) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("diff entry: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("diff entry: expected [price,size,sequence], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Price); err != nil {
		return fmt.Errorf("diff entry price: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Size); err != nil {
		return fmt.Errorf("diff entry size: %w", err)
	}
	var seq SequenceString
	if err := json.Unmarshal(raw[2], &seq); err != nil {
		return fmt.Errorf("diff entry sequence: %w", err)
	}
	e.Sequence = uint64(seq)
	return nil
}

// SequenceString is a sequence number written as a JSON string. It also
// accepts a bare number.
type SequenceString uint64

func (s SequenceString) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(s), 10))
}

func (s *SequenceString) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseUint(string(bytes.Trim(b, `"`)), 10, 64)
	if err != nil {
		return fmt.Errorf("sequence %s: %w", b, err)
	}
	*s = SequenceString(v)
	return nil
}

// Millis is an epoch-millisecond timestamp written as a JSON number. It also
// accepts a quoted number.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(bytes.Trim(b, `"`)), 10, 64)
	if err != nil {
		return fmt.Errorf("time %s: %w", b, err)
	}
	*m = Millis(v)
	return nil
}

type SnapshotData struct {
	Time     Millis         `json:"time"`
	Sequence SequenceString `json:"sequence"`
	Bids     []Level        `json:"bids"`
	Asks     []Level        `json:"asks"`
}

type SnapshotMessage struct {
	Code string       `json:"code"`
	Data SnapshotData `json:"data"`
}

func (s Snapshot) Message() SnapshotMessage {
	return SnapshotMessage{
		Code: SnapshotCode,
		Data: SnapshotData{
			Time:     Millis(s.Timestamp),
			Sequence: SequenceString(s.Sequence),
			Bids:     nonNil(s.Bids),
			Asks:     nonNil(s.Asks),
		},
	}
}

func (d SnapshotData) Snapshot() Snapshot {
	return Snapshot{
		Sequence:  uint64(d.Sequence),
		Timestamp: int64(d.Time),
		Bids:      d.Bids,
		Asks:      d.Asks,
	}
}

// DecodeSnapshot accepts either the {"code","data":{...}} envelope or the bare
// data object.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	body := b
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		body = env.Data
	}
	var d SnapshotData
	if err := json.Unmarshal(body, &d); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot data: %w", err)
	}
	return d.Snapshot(), nil
}

type IncrementData struct {
	Changes       Changes `json:"changes"`
	SequenceStart uint64  `json:"sequenceStart"`
	SequenceEnd   uint64  `json:"sequenceEnd"`
	Symbol        string  `json:"symbol"`
	Time          int64   `json:"time"`
}

type IncrementMessage struct {
	Topic   string        `json:"topic"`
	Type    string        `json:"type"`
	Subject string        `json:"subject"`
	Data    IncrementData `json:"data"`
}

func Topic(symbol string) string { return "/market/level2:" + symbol }

func (inc Increment) Message(symbol string) IncrementMessage {
	return IncrementMessage{
		Topic:   Topic(symbol),
		Type:    incrementType,
		Subject: incrementSubject,
		Data: IncrementData{
			Changes: Changes{
				Bids: nonNil(inc.Changes.Bids),
				Asks: nonNil(inc.Changes.Asks),
			},
			SequenceStart: inc.SequenceStart,
			SequenceEnd:   inc.SequenceEnd,
			Symbol:        symbol,
			Time:          inc.Timestamp,
		},
	}
}

func (m IncrementMessage) Increment() Increment {
	return Increment{
		Changes:       m.Data.Changes,
		SequenceStart: m.Data.SequenceStart,
		SequenceEnd:   m.Data.SequenceEnd,
		Timestamp:     m.Data.Time,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
