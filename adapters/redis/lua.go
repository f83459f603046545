package redisstore

// luaAppendEvent appends an event to its run's history and inserts the run
// id into the entity's run list if absent.
//
// KEYS[1] = run set key (membership check)
// KEYS[2] = run list key (insertion order)
// KEYS[3] = run events list key
// ARGV[1] = run id
// ARGV[2] = event JSON string
//
// Returns: new event count for the run (number)
const luaAppendEvent = `
if redis.call('SADD', KEYS[1], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
return redis.call('RPUSH', KEYS[3], ARGV[2])
`

// luaClaimPending appends the started event iff the run's latest event is
// still pending. For activity runs it also applies the attempt rule: a
// brand-new pending keeps its attempt number, while a run re-pended after a
// start moves past the highest started attempt.
//
// KEYS[1] = run events list key
// ARGV[1] = started event JSON string
//
// Returns: -1 run unknown, 0 claim lost, otherwise the recorded attempt
// number (1 for workflow runs, which carry no attempts).
const luaClaimPending = `
local n = redis.call('LLEN', KEYS[1])
if n == 0 then
  return -1
end
local last = cjson.decode(redis.call('LINDEX', KEYS[1], -1))
if last['event_type'] ~= 'pending' then
  return 0
end

local started = cjson.decode(ARGV[1])
local attempt = 1
if last['attempt_number'] ~= nil then
  attempt = last['attempt_number']
  local all = redis.call('LRANGE', KEYS[1], 0, -1)
  for _, v in ipairs(all) do
    local e = cjson.decode(v)
    if e['event_type'] == 'started' and e['attempt_number'] ~= nil and e['attempt_number'] >= attempt then
      attempt = e['attempt_number'] + 1
    end
  end
  started['attempt_number'] = attempt
  started['max_attempts'] = last['max_attempts']
end

redis.call('RPUSH', KEYS[1], cjson.encode(started))
return attempt
`

// luaFinishRun appends the terminal event iff the run has no terminal event
// yet.
//
// KEYS[1] = run events list key
// ARGV[1] = terminal event JSON string
//
// Returns: -1 run unknown, 0 already terminal, 1 applied.
const luaFinishRun = `
local all = redis.call('LRANGE', KEYS[1], 0, -1)
if #all == 0 then
  return -1
end
for _, v in ipairs(all) do
  local e = cjson.decode(v)
  if e['event_type'] == 'succeeded' or e['event_type'] == 'failed' then
    return 0
  end
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`
