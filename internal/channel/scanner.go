package channel

import "bytes"

// markerScanner finds the termination marker in a byte stream that may be
// split at arbitrary points between reads. It carries at most
// len(Marker)-1 bytes from one Feed to the next.
type markerScanner struct {
	marker []byte
	tail   []byte
}

func newMarkerScanner() *markerScanner {
	return &markerScanner{marker: []byte(Marker)}
}

// Feed consumes p and reports whether a complete marker was seen, either
// within p or straddling the previous Feed.
func (s *markerScanner) Feed(p []byte) bool {
	if len(p) == 0 {
		return false
	}

	buf := append(s.tail, p...)

	found := false
	rest := buf
	if idx := bytes.LastIndex(buf, s.marker); idx >= 0 {
		found = true
		rest = buf[idx+len(s.marker):]
	}

	keep := len(s.marker) - 1
	if len(rest) < keep {
		keep = len(rest)
	}
	s.tail = append(s.tail[:0:0], rest[len(rest)-keep:]...)

	return found
}
