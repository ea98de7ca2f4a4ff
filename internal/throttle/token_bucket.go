package throttle

import (
	"strconv"
	"time"

	"gateway-service/internal/kv"
)

// tokenBucketScript implements spec §4.B "Token bucket":
//
//	Read (last, tokens) defaulting to (now, quota). refill rate
//	r = quota/duration. new = min(quota, tokens + (now-last)*r). If
//	new < 1: reject with wait = (1-new)*(duration/quota), do not write.
//	Else write (now, new-1); admit.
var tokenBucketScript = &kv.Script{
	Name: "throttle_token_bucket",
	Run: func(now int64, fields map[string]string, args []string) (kv.Result, map[string]string, time.Duration) {
		quota, duration := parseQuotaDuration(args)
		rate := float64(quota) / float64(duration)

		last := now
		tokens := float64(quota)
		if v, ok := fields["last_refill"]; ok {
			last = parseInt64(v)
			tokens = parseFloat(fields["tokens"])
		}

		newTokens := tokens + float64(now-last)*rate
		if newTokens > float64(quota) {
			newTokens = float64(quota)
		}

		if newTokens < 1 {
			wait := (1 - newTokens) * (float64(duration) / float64(quota))
			return kv.Result{Wait: wait}, fields, time.Duration(duration) * 2 * time.Second
		}

		newFields := map[string]string{
			"last_refill": strconv.FormatInt(now, 10),
			"tokens":      formatFloat(newTokens - 1),
		}
		return kv.Result{Wait: -1}, newFields, time.Duration(duration) * 2 * time.Second
	},
	Lua: `
local last = tonumber(redis.call('HGET', KEYS[1], 'last_refill'))
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local quota = tonumber(ARGV[1])
local duration = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1])

if last == nil then
    last = now
    tokens = quota
end

local rate = quota / duration
local new_tokens = tokens + (now - last) * rate
if new_tokens > quota then new_tokens = quota end

if new_tokens < 1 then
    local wait = (1 - new_tokens) * (duration / quota)
    return {0, math.floor(wait * 1000), 0, ''}
end

redis.call('HSET', KEYS[1], 'last_refill', now, 'tokens', new_tokens - 1)
redis.call('EXPIRE', KEYS[1], duration * 2)
return {1, -1000, 0, ''}
`,
}
