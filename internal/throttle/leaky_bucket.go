package throttle

import (
	"strconv"
	"time"

	"gateway-service/internal/kv"
)

// leakyBucketScript implements spec §4.B "Leaky bucket":
//
//	Read (last_leak, level) defaulting to (now, 0). leak rate
//	r = quota/duration. level = max(0, level - (now-last_leak)*r). If
//	level >= bucket_size: fail BucketFull. Else write (now, level+1);
//	delay = level/r (pre-increment level); return delay if > 0 else -1.
//	TTL = 2*duration.
var leakyBucketScript = &kv.Script{
	Name: "throttle_leaky_bucket",
	Run: func(now int64, fields map[string]string, args []string) (kv.Result, map[string]string, time.Duration) {
		quota, duration := parseQuotaDuration(args)
		bucketSize := parseFloat(args[2])
		rate := float64(quota) / float64(duration)

		lastLeak := now
		level := 0.0
		if v, ok := fields["last_leak"]; ok {
			lastLeak = parseInt64(v)
			level = parseFloat(fields["level"])
		}

		level -= float64(now-lastLeak) * rate
		if level < 0 {
			level = 0
		}

		if level >= bucketSize {
			decayed := map[string]string{
				"last_leak": strconv.FormatInt(now, 10),
				"level":     formatFloat(level),
			}
			return kv.Result{Full: true}, decayed, time.Duration(duration) * 2 * time.Second
		}

		delay := level / rate
		newFields := map[string]string{
			"last_leak": strconv.FormatInt(now, 10),
			"level":     formatFloat(level + 1),
		}
		wait := -1.0
		if delay > 0 {
			wait = delay
		}
		return kv.Result{Wait: wait}, newFields, time.Duration(duration) * 2 * time.Second
	},
	Lua: `
local last_leak = tonumber(redis.call('HGET', KEYS[1], 'last_leak'))
local level = tonumber(redis.call('HGET', KEYS[1], 'level'))
local quota = tonumber(ARGV[1])
local duration = tonumber(ARGV[2])
local bucket_size = tonumber(ARGV[3])
local t = redis.call('TIME')
local now = tonumber(t[1])

if last_leak == nil then
    last_leak = now
    level = 0
end

local rate = quota / duration
level = level - (now - last_leak) * rate
if level < 0 then level = 0 end

if level >= bucket_size then
    redis.call('HSET', KEYS[1], 'last_leak', now, 'level', level)
    redis.call('EXPIRE', KEYS[1], duration * 2)
    return {0, 0, 1, ''}
end

local delay = level / rate
redis.call('HSET', KEYS[1], 'last_leak', now, 'level', level + 1)
redis.call('EXPIRE', KEYS[1], duration * 2)

if delay > 0 then
    return {0, math.floor(delay * 1000), 0, ''}
else
    return {1, -1000, 0, ''}
end
`,
}
