package redis

import goredis "github.com/redis/go-redis/v9"

// Server-side scripts. Each one reads, decides, and writes in a single
// atomic step; the Go side never sees an intermediate state. State
// literals mirror the job.State constants.
//
// Job and eligible-set keys are derived from the claimed member inside
// the scripts, so this store targets a single Redis instance, not a
// cluster with hash-slot routing.

// claimScript pops the next eligible job from one queue and takes the
// lease. KEYS: eligible zset, running zset. ARGV: now ms, worker id,
// expiry ms, expiry iso, now iso, job key prefix. Returns the job hash
// as a flat field list, or false when the queue has nothing eligible.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then return false end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local key = ARGV[6] .. id
if redis.call('EXISTS', key) == 0 then return false end
redis.call('ZADD', KEYS[2], ARGV[3], id)
redis.call('HSET', key,
	'state', 'running',
	'locked_by', ARGV[2],
	'lock_expiry', ARGV[4],
	'updated_at', ARGV[5])
redis.call('HINCRBY', key, 'attempt_count', 1)
return redis.call('HGETALL', key)
`)

// completeScript marks an owned job succeeded. KEYS: job hash, running
// zset. ARGV: job id, worker id, now ms, now iso. The running zset
// score is the authoritative numeric lease expiry. Returns 'ok',
// 'missing', or 'lost'.
var completeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
local expiry = redis.call('ZSCORE', KEYS[2], ARGV[1])
if (not expiry) or tonumber(expiry) <= tonumber(ARGV[3])
	or redis.call('HGET', KEYS[1], 'state') ~= 'running'
	or redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[2] then
	return 'lost'
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1],
	'state', 'succeeded',
	'last_error', '',
	'locked_by', '',
	'lock_expiry', '',
	'updated_at', ARGV[4])
return 'ok'
`)

// failScript records a failed attempt on an owned job and applies the
// retry decision in place. KEYS: job hash, running zset. ARGV: job id,
// worker id, now ms, now iso, cause, next run ms, next run iso,
// eligible key prefix. Returns 'missing', 'lost', 'retrying', or
// 'dead'.
var failScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
local expiry = redis.call('ZSCORE', KEYS[2], ARGV[1])
if (not expiry) or tonumber(expiry) <= tonumber(ARGV[3])
	or redis.call('HGET', KEYS[1], 'state') ~= 'running'
	or redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[2] then
	return 'lost'
end
redis.call('ZREM', KEYS[2], ARGV[1])
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempt_count') or '0')
local max = tonumber(redis.call('HGET', KEYS[1], 'max_attempts') or '0')
if attempts < max then
	redis.call('HSET', KEYS[1],
		'state', 'retrying',
		'last_error', ARGV[5],
		'locked_by', '',
		'lock_expiry', '',
		'next_run_at', ARGV[7],
		'updated_at', ARGV[4])
	local q = redis.call('HGET', KEYS[1], 'queue')
	redis.call('ZADD', ARGV[8] .. q, tonumber(ARGV[6]), ARGV[1])
	return 'retrying'
end
redis.call('HSET', KEYS[1],
	'state', 'dead',
	'last_error', ARGV[5],
	'locked_by', '',
	'lock_expiry', '',
	'updated_at', ARGV[4])
return 'dead'
`)

// extendScript pushes an owned lease forward. KEYS: job hash, running
// zset. ARGV: job id, worker id, now ms, new expiry ms, new expiry
// iso, now iso. Returns 'ok', 'missing', or 'lost'.
var extendScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
local expiry = redis.call('ZSCORE', KEYS[2], ARGV[1])
if (not expiry) or tonumber(expiry) <= tonumber(ARGV[3])
	or redis.call('HGET', KEYS[1], 'state') ~= 'running'
	or redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[2] then
	return 'lost'
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
redis.call('HSET', KEYS[1], 'lock_expiry', ARGV[5], 'updated_at', ARGV[6])
return 'ok'
`)

// reclaimScript sweeps every lease expired at or before now. Jobs with
// budget left go back to their queue's eligible zset, spent ones go to
// dead. KEYS: running zset. ARGV: now ms, now iso, job key prefix,
// eligible key prefix. Returns the number of jobs swept.
var reclaimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local key = ARGV[3] .. id
	if redis.call('EXISTS', key) == 1 then
		local attempts = tonumber(redis.call('HGET', key, 'attempt_count') or '0')
		local max = tonumber(redis.call('HGET', key, 'max_attempts') or '0')
		if attempts < max then
			redis.call('HSET', key,
				'state', 'retrying',
				'locked_by', '',
				'lock_expiry', '',
				'next_run_at', ARGV[2],
				'updated_at', ARGV[2])
			local q = redis.call('HGET', key, 'queue')
			redis.call('ZADD', ARGV[4] .. q, tonumber(ARGV[1]), id)
		else
			redis.call('HSET', key,
				'state', 'dead',
				'last_error', 'lease expired',
				'locked_by', '',
				'lock_expiry', '',
				'updated_at', ARGV[2])
		end
		n = n + 1
	end
end
return n
`)

// requeueScript returns a dead job to its queue with a fresh attempt
// budget. KEYS: job hash. ARGV: job id, now ms, now iso, eligible key
// prefix. Returns 'ok', 'missing', or 'invalid:<state>'.
var requeueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'dead' then return 'invalid:' .. state end
redis.call('HSET', KEYS[1],
	'state', 'queued',
	'attempt_count', '0',
	'next_run_at', ARGV[3],
	'last_error', '',
	'locked_by', '',
	'lock_expiry', '',
	'updated_at', ARGV[3])
local q = redis.call('HGET', KEYS[1], 'queue')
redis.call('ZADD', ARGV[4] .. q, tonumber(ARGV[2]), ARGV[1])
return 'ok'
`)
