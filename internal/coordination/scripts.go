package coordination

import "github.com/redis/go-redis/v9"

var compareAndDeleteScript = redis.NewScript(`
-- KEYS[1] = key, ARGV[1] = expected value
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var incrementScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = ttl_ms (0 = no expiry)
local v = redis.call('INCR', KEYS[1])
if tonumber(ARGV[1]) > 0 and redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

var advanceRingScript = redis.NewScript(`
-- KEYS[1] = pointer key
-- ARGV[1] = ttl_ms (0 = no expiry)
-- ARGV[2..] = ring slots in stable order
--
-- Returns the slot after the stored pointer, wrapping; a missing or stale
-- pointer restarts at the first slot.
local n = #ARGV - 1
if n < 1 then
  return false
end
local current = redis.call('GET', KEYS[1])
local nextIdx = 1
if current then
  for i = 2, #ARGV do
    if ARGV[i] == current then
      nextIdx = (i - 1) % n + 1
      break
    end
  end
end
local chosen = ARGV[nextIdx + 1]
if tonumber(ARGV[1]) > 0 then
  redis.call('SET', KEYS[1], chosen, 'PX', ARGV[1])
else
  redis.call('SET', KEYS[1], chosen)
end
return chosen
`)

var recordLeastLoadedScript = redis.NewScript(`
-- KEYS = per-candidate window keys (sorted sets scored by ms timestamp)
-- ARGV[1] = now_ms, ARGV[2] = window_ms, ARGV[3] = member, ARGV[4] = cutoff_ms
--
-- Prune, count and record in one step so concurrent writers never lose an entry.
local best = 0
local bestCount = -1
for i, key in ipairs(KEYS) do
  redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[4])
  local n = redis.call('ZCARD', key)
  if bestCount < 0 or n < bestCount then
    best = i
    bestCount = n
  end
end
if best == 0 then
  return -1
end
redis.call('ZADD', KEYS[best], ARGV[1], ARGV[3])
redis.call('PEXPIRE', KEYS[best], ARGV[2])
return best - 1
`)

var windowCountsScript = redis.NewScript(`
-- KEYS = window keys, ARGV[1] = cutoff_ms
local out = {}
for i, key in ipairs(KEYS) do
  redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[1])
  out[i] = redis.call('ZCARD', key)
end
return out
`)

var slotAcquireScript = redis.NewScript(`
-- KEYS[1] = counter, ARGV[1] = limit, ARGV[2] = ttl_ms
-- Returns 1 when a slot was taken, 0 at the limit.
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end

if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var slotReleaseScript = redis.NewScript(`
-- KEYS[1] = counter; dropped once it reaches zero
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)
