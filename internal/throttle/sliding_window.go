package throttle

import (
	"strconv"
	"time"

	"gateway-service/internal/kv"
)

// slidingWindowScript implements spec §4.B "Sliding window":
//
//	Read (t0, count) defaulting to (now, 0). elapsed = now - t0,
//	progress = elapsed mod duration, adj = max(0, count -
//	floor(elapsed/duration)*quota). If adj >= quota: reject with
//	wait = (duration - progress) + ((adj - quota + 1)/quota)*duration.
//	Else write t0 = now - progress, count = adj + 1; admit.
var slidingWindowScript = &kv.Script{
	Name: "throttle_sliding_window",
	Run: func(now int64, fields map[string]string, args []string) (kv.Result, map[string]string, time.Duration) {
		quota, duration := parseQuotaDuration(args)

		t0 := now
		if v, ok := fields["t0"]; ok {
			t0 = parseInt64(v)
		}
		count := parseInt64(fields["count"])

		elapsed := now - t0
		progress := elapsed % duration
		adj := count - (elapsed/duration)*quota
		if adj < 0 {
			adj = 0
		}

		if adj >= quota {
			wait := float64(duration-progress) + (float64(adj-quota+1)/float64(quota))*float64(duration)
			return kv.Result{Wait: wait}, fields, time.Duration(duration) * time.Second
		}

		newFields := map[string]string{
			"t0":    strconv.FormatInt(now-progress, 10),
			"count": strconv.FormatInt(adj+1, 10),
		}
		return kv.Result{Wait: -1}, newFields, time.Duration(duration) * time.Second
	},
	Lua: `
local t0 = tonumber(redis.call('HGET', KEYS[1], 't0'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0
local quota = tonumber(ARGV[1])
local duration = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1])

if t0 == nil then
    t0 = now
    count = 0
end

local elapsed = now - t0
local progress = elapsed % duration
local adj = count - math.floor(elapsed / duration) * quota
if adj < 0 then adj = 0 end

if adj >= quota then
    local wait = (duration - progress) + ((adj - quota + 1) / quota) * duration
    return {0, math.floor(wait * 1000), 0, ''}
end

local new_t0 = now - progress
local new_count = adj + 1
redis.call('HSET', KEYS[1], 't0', new_t0, 'count', new_count)
redis.call('EXPIRE', KEYS[1], duration)
return {1, -1000, 0, ''}
`,
}
