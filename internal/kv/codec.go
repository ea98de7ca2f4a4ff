package kv

import "strconv"

// encodeInt/decodeInt store integer counters as their decimal ASCII
// representation, matching how Redis' INCRBY treats string values —
// this keeps Memory and Redis byte-compatible for any caller that reads
// a counter key with Get instead of Incr.
func encodeInt(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func decodeInt(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
