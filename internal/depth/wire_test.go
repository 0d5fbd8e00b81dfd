package depth

import (
	"encoding/json"
	"testing"
)

func TestSnapshotMessageShape(t *testing.T) {
	snap := Snapshot{
		Sequence:  16,
		Timestamp: 1700000000123,
		Bids:      []Level{lvl("3988.51", "56")},
	}
	b, err := json.Marshal(snap.Message())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"code":"200000","data":{"time":1700000000123,"sequence":"16","bids":[["3988.51","56"]],"asks":[]}}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}
}

func TestIncrementMessageShape(t *testing.T) {
	inc := Increment{
		Changes: Changes{
			Bids: []DiffEntry{{Price: d("99"), Size: d("3"), Sequence: 2}},
		},
		SequenceStart: 2,
		SequenceEnd:   2,
		Timestamp:     5,
	}
	b, err := json.Marshal(inc.Message("BTC-USDT"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"topic":"/market/level2:BTC-USDT","type":"message","subject":"trade.l2update",` +
		`"data":{"changes":{"bids":[["99","3","2"]],"asks":[]},"sequenceStart":2,"sequenceEnd":2,"symbol":"BTC-USDT","time":5}}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}

	var back IncrementMessage
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	got := back.Increment()
	if got.SequenceStart != 2 || len(got.Changes.Bids) != 1 || got.Changes.Bids[0].Sequence != 2 {
		t.Fatalf("decoded increment %+v", got)
	}
}

func TestDecodeSnapshotAcceptsEnvelopeAndBareData(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "envelope", in: `{"code":"200000","data":{"time":"1","sequence":"7","bids":[["100","5"]],"asks":[["101",5]]}}`},
		{name: "bare", in: `{"time":1,"sequence":7,"bids":[[100,"5"]],"asks":[["101","5"]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := DecodeSnapshot([]byte(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if snap.Sequence != 7 || snap.Timestamp != 1 {
				t.Fatalf("header got %d/%d", snap.Sequence, snap.Timestamp)
			}
			if len(snap.Bids) != 1 || !snap.Bids[0].Price.Equal(d("100")) || !snap.Asks[0].Size.Equal(d("5")) {
				t.Fatalf("levels got %v / %v", snap.Bids, snap.Asks)
			}
		})
	}
}

func TestDecodeSnapshotRejectsMalformedLevels(t *testing.T) {
	bad := []string{
		`{"sequence":"1","bids":[["100"]],"asks":[]}`,
		`{"sequence":"x","bids":[],"asks":[]}`,
		`not json`,
	}
	for _, in := range bad {
		if _, err := DecodeSnapshot([]byte(in)); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}
