package throttle

import (
	"strconv"
	"time"

	"gateway-service/internal/kv"
)

// fixedWindowScript implements spec §4.B "Fixed window":
//
//	Read (window_end, count). If absent or now > window_end: reset the
//	window (count=1, TTL=duration), admit. Else if count >= quota:
//	reject with wait = window_end - now. Else increment and admit.
var fixedWindowScript = &kv.Script{
	Name: "throttle_fixed_window",
	Run: func(now int64, fields map[string]string, args []string) (kv.Result, map[string]string, time.Duration) {
		quota, duration := parseQuotaDuration(args)

		windowEndStr, has := fields["window_end"]
		windowEnd := parseInt64(windowEndStr)
		count := parseInt64(fields["count"])

		if !has || now > windowEnd {
			newFields := map[string]string{
				"window_end": strconv.FormatInt(now+duration, 10),
				"count":      "1",
			}
			return kv.Result{Wait: -1}, newFields, time.Duration(duration) * time.Second
		}

		if count >= quota {
			return kv.Result{Wait: float64(windowEnd - now)}, fields, time.Duration(windowEnd-now) * time.Second
		}

		newFields := map[string]string{
			"window_end": strconv.FormatInt(windowEnd, 10),
			"count":      strconv.FormatInt(count+1, 10),
		}
		return kv.Result{Wait: -1}, newFields, time.Duration(windowEnd-now) * time.Second
	},
	Lua: `
local window_end = tonumber(redis.call('HGET', KEYS[1], 'window_end'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0
local quota = tonumber(ARGV[1])
local duration = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1])

if window_end == nil or now > window_end then
    window_end = now + duration
    count = 1
    redis.call('HSET', KEYS[1], 'window_end', window_end, 'count', count)
    redis.call('EXPIRE', KEYS[1], duration)
    return {1, -1000, 0, ''}
end

if count >= quota then
    return {0, (window_end - now) * 1000, 0, ''}
end

count = count + 1
redis.call('HSET', KEYS[1], 'count', count)
redis.call('EXPIRE', KEYS[1], window_end - now)
return {1, -1000, 0, ''}
`,
}
