package throttle

import (
	"strconv"
)

func parseQuotaDuration(args []string) (quota int64, duration int64) {
	quota = parseInt64(args[0])
	duration = parseInt64(args[1])
	return
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// quotaArgs formats the common (quota, duration) argument pair that
// every algorithm's atomic script expects as ARGV[1], ARGV[2].
func quotaArgs(quota int, durationSeconds int64, extra ...string) []string {
	out := []string{strconv.Itoa(quota), strconv.FormatInt(durationSeconds, 10)}
	return append(out, extra...)
}
