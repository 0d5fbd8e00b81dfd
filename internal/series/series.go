// Package series loads the historical last-traded-price series that drives
// the simulator in autonomous mode.
package series

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

//go:embed default_series.json
var defaultSeries []byte

// file is the on-disk layout: parallel OHLC arrays, of which only "close" is
// used. Entries that are not numbers (gaps, nulls) are skipped.
type file struct {
	Close []json.RawMessage `json:"close"`
}

// Load reads a series file, or the embedded default when path is empty.
func Load(path string) ([]decimal.Decimal, error) {
	b := defaultSeries
	if path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return Parse(b)
}

func Parse(b []byte) ([]decimal.Decimal, error) {
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse series: %w", err)
	}
	out := make([]decimal.Decimal, 0, len(f.Close))
	for _, raw := range f.Close {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		px, err := decimal.NewFromString(n.String())
		if err != nil || px.Sign() <= 0 {
			continue
		}
		out = append(out, px)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse series: no usable close prices")
	}
	return out, nil
}
