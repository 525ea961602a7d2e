package refresh

import (
	"fmt"
	"strings"
)

// Kind is a refreshed dataset
type Kind string

const (
	KindOHLCV        Kind = "ohlcv"
	KindFundamentals Kind = "fundamentals"
	KindEstimates    Kind = "estimates"
	KindNews         Kind = "news"
)

// Kinds lists every kind in the order a run processes them
var Kinds = []Kind{KindOHLCV, KindFundamentals, KindEstimates, KindNews}

// ParseKind parses a kind name
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown data kind %q", s)
}

// ordered returns the distinct kinds of ks in run order
func ordered(ks []Kind) []Kind {
	want := make(map[Kind]bool, len(ks))
	for _, k := range ks {
		want[k] = true
	}
	out := make([]Kind, 0, len(want))
	for _, k := range Kinds {
		if want[k] {
			out = append(out, k)
		}
	}
	return out
}
