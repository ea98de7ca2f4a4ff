package cache

import (
	"time"

	"gateway-service/internal/kv"
)

// cacheLockScript implements spec §4.C step 2: "Acquire single-flight
// lock key:sf (atomic set-if-absent with short TTL)". Admitted means
// this caller is the winner and must run the producer; !Admitted means
// someone else already holds the lock.
var cacheLockScript = &kv.Script{
	Name: "cache_single_flight_lock",
	Run: func(now int64, fields map[string]string, args []string) (kv.Result, map[string]string, time.Duration) {
		ttlSeconds := parseInt64(args[0])

		if fields["locked"] == "1" {
			return kv.Result{Wait: 1}, fields, time.Duration(ttlSeconds) * time.Second
		}

		newFields := map[string]string{"locked": "1"}
		return kv.Result{Wait: -1, Admitted: true}, newFields, time.Duration(ttlSeconds) * time.Second
	},
	Lua: `
local locked = redis.call('HGET', KEYS[1], 'locked')
local ttl = tonumber(ARGV[1])

if locked == '1' then
    return {0, 1000, 0, ''}
end

redis.call('HSET', KEYS[1], 'locked', '1')
redis.call('EXPIRE', KEYS[1], ttl)
return {1, -1000, 0, ''}
`,
}

func parseInt64(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
