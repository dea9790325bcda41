package redisstore

import "github.com/redis/go-redis/v9"

// issueChallengeLua increments the send-rate counter and, only while the
// counter is within budget, replaces the OTP record. Both happen in one
// atomic step so a reader never sees an increment without its record.
//
// KEYS[1] = rate key, KEYS[2] = otp key
// ARGV[1] = window ms, ARGV[2] = max sends, ARGV[3] = otp ttl ms
// ARGV[4] = identity, ARGV[5] = purpose, ARGV[6] = code
// ARGV[7] = created_at ms, ARGV[8] = expires_at ms
//
// Returns {allowed(0|1), count, retry_after_ms}.
var issueChallengeLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if count > tonumber(ARGV[2]) then
  return {0, count, redis.call('PTTL', KEYS[1])}
end
redis.call('DEL', KEYS[2])
redis.call('HSET', KEYS[2],
  'identity', ARGV[4],
  'purpose', ARGV[5],
  'code', ARGV[6],
  'attempts', '0',
  'status', 'SENT',
  'created_at', ARGV[7],
  'expires_at', ARGV[8])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return {1, count, 0}
`)

// incrementAttemptsLua bumps the attempt counter of a SENT record.
// Returns -1 when the record is gone so HINCRBY never resurrects a partial
// hash without a TTL, and -2 when the record is already VERIFIED.
var incrementAttemptsLua = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status == 'VERIFIED' then
  return -2
end
return redis.call('HINCRBY', KEYS[1], 'attempts', '1')
`)

// blockLua replaces a SENT record with a block record. A VERIFIED record is
// left untouched and 0 is returned.
//
// KEYS[1] = otp key, KEYS[2] = block key
// ARGV[1] = blocked_at ms, ARGV[2] = expires_at ms, ARGV[3] = ttl ms
var blockLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'VERIFIED' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('DEL', KEYS[2])
redis.call('HSET', KEYS[2], 'blocked_at', ARGV[1], 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`)

// recordFailureLua counts a failed sign-in inside a fixed window.
// KEYS[1] = failure key, ARGV[1] = window ms
// Returns {count, remaining_window_ms}.
var recordFailureLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// markVerifiedLua flips an existing record to VERIFIED and extends its TTL.
// ARGV[1] = expires_at ms, ARGV[2] = ttl ms
var markVerifiedLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'VERIFIED', 'expires_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)
