package breaker

import (
	"strconv"
	"time"

	"gateway-service/internal/kv"
)

// breakerScript implements the CLOSED/OPEN/HALF_OPEN transition table of
// spec §4.E as a single op-multiplexed atomic script, so the fleet-wide
// state for one backend key lives behind one lock instead of three.
// args: [op, failure_threshold, recovery_timeout_seconds]
//
// Fields: state, failures, opened_at, probing.
//   - CLOSED: failures counts consecutive RecordFailure calls. Reaching
//     failure_threshold trips the breaker (state=OPEN, opened_at=now).
//   - OPEN: Allow rejects until now >= opened_at+recovery_timeout, at
//     which point the first caller to observe it transitions to
//     HALF_OPEN and is marked the probe; every other caller in the same
//     instant still rejects (spec: "at most one probe request passes").
//   - HALF_OPEN: RecordSuccess closes the breaker and clears failures;
//     RecordFailure reopens it immediately with a fresh opened_at.
var breakerScript = &kv.Script{
	Name: "circuit_breaker",
	Run: func(now int64, fields map[string]string, args []string) (kv.Result, map[string]string, time.Duration) {
		op := args[0]
		threshold := parseInt(args[1])
		recovery := parseInt(args[2])

		state := fields["state"]
		if state == "" {
			state = StateClosed
		}
		failures := parseInt(fields["failures"])
		openedAt := parseInt(fields["opened_at"])
		probing := fields["probing"] == "1"

		switch op {
		case "allow":
			switch state {
			case StateOpen:
				if now >= openedAt+int64(recovery) && !probing {
					newFields := copyFields(fields)
					newFields["state"] = StateHalfOpen
					newFields["probing"] = "1"
					return kv.Result{Admitted: true, State: StateHalfOpen}, newFields, time.Hour
				}
				return kv.Result{Admitted: false, State: StateOpen}, fields, time.Hour
			case StateHalfOpen:
				if probing {
					return kv.Result{Admitted: false, State: StateHalfOpen}, fields, time.Hour
				}
				newFields := copyFields(fields)
				newFields["probing"] = "1"
				return kv.Result{Admitted: true, State: StateHalfOpen}, newFields, time.Hour
			default:
				return kv.Result{Admitted: true, State: StateClosed}, fields, time.Hour
			}

		case "success":
			newFields := map[string]string{
				"state":    StateClosed,
				"failures": "0",
			}
			return kv.Result{Admitted: true, State: StateClosed}, newFields, time.Hour

		case "failure":
			switch state {
			case StateHalfOpen:
				newFields := map[string]string{
					"state":     StateOpen,
					"failures":  "0",
					"opened_at": strconv.FormatInt(now, 10),
				}
				return kv.Result{Admitted: false, State: StateOpen}, newFields, time.Hour
			default:
				failures++
				if failures >= threshold {
					newFields := map[string]string{
						"state":     StateOpen,
						"failures":  "0",
						"opened_at": strconv.FormatInt(now, 10),
					}
					return kv.Result{Admitted: false, State: StateOpen}, newFields, time.Hour
				}
				newFields := copyFields(fields)
				newFields["state"] = StateClosed
				newFields["failures"] = strconv.FormatInt(failures, 10)
				return kv.Result{Admitted: true, State: StateClosed}, newFields, time.Hour
			}

		default:
			return kv.Result{Admitted: true, State: state}, fields, time.Hour
		}
	},
	Lua: `
local op = ARGV[1]
local threshold = tonumber(ARGV[2])
local recovery = tonumber(ARGV[3])
local t = redis.call('TIME')
local now = tonumber(t[1])

local state = redis.call('HGET', KEYS[1], 'state')
if state == false or state == nil then state = 'CLOSED' end
local failures = tonumber(redis.call('HGET', KEYS[1], 'failures')) or 0
local opened_at = tonumber(redis.call('HGET', KEYS[1], 'opened_at')) or 0
local probing = redis.call('HGET', KEYS[1], 'probing') == '1'

if op == 'allow' then
    if state == 'OPEN' then
        if now >= opened_at + recovery and not probing then
            redis.call('HSET', KEYS[1], 'state', 'HALF_OPEN', 'probing', '1')
            redis.call('EXPIRE', KEYS[1], 3600)
            return {1, -1000, 0, 'HALF_OPEN'}
        end
        return {0, -1000, 0, 'OPEN'}
    elseif state == 'HALF_OPEN' then
        if probing then
            return {0, -1000, 0, 'HALF_OPEN'}
        end
        redis.call('HSET', KEYS[1], 'probing', '1')
        redis.call('EXPIRE', KEYS[1], 3600)
        return {1, -1000, 0, 'HALF_OPEN'}
    else
        return {1, -1000, 0, 'CLOSED'}
    end

elseif op == 'success' then
    redis.call('HSET', KEYS[1], 'state', 'CLOSED', 'failures', 0, 'probing', 0)
    redis.call('EXPIRE', KEYS[1], 3600)
    return {1, -1000, 0, 'CLOSED'}

elseif op == 'failure' then
    if state == 'HALF_OPEN' then
        redis.call('HSET', KEYS[1], 'state', 'OPEN', 'failures', 0, 'opened_at', now, 'probing', 0)
        redis.call('EXPIRE', KEYS[1], 3600)
        return {0, -1000, 0, 'OPEN'}
    else
        failures = failures + 1
        if failures >= threshold then
            redis.call('HSET', KEYS[1], 'state', 'OPEN', 'failures', 0, 'opened_at', now, 'probing', 0)
            redis.call('EXPIRE', KEYS[1], 3600)
            return {0, -1000, 0, 'OPEN'}
        end
        redis.call('HSET', KEYS[1], 'state', 'CLOSED', 'failures', failures)
        redis.call('EXPIRE', KEYS[1], 3600)
        return {1, -1000, 0, 'CLOSED'}
    end
end

return {1, -1000, 0, state}
`,
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
