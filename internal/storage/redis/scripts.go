package redis

const (
	// claimActiveSessionScript writes the active session only when the slot
	// is free. Returns 1 when the claim won, 0 when a session already runs.
	claimActiveSessionScript = `
local active_key = KEYS[1]     -- devtrack:active:{userID}

local user_id = ARGV[1]
local project_id = ARGV[2]
local project_name = ARGV[3]
local start_time = ARGV[4]

if redis.call('EXISTS', active_key) == 1 then
  return 0
end

redis.call('HSET', active_key,
  'user_id', user_id,
  'project_id', project_id,
  'project_name', project_name,
  'start_time', start_time
)

-- Abandoned sessions expire after 24 hours
redis.call('EXPIRE', active_key, 86400)

return 1
`

	// releaseActiveSessionScript fetches and deletes the active session in
	// one step. Returns the hash fields, or an empty table when idle.
	releaseActiveSessionScript = `
local active_key = KEYS[1]     -- devtrack:active:{userID}

local fields = redis.call('HGETALL', active_key)
if #fields == 0 then
  return {}
end

redis.call('DEL', active_key)

return fields
`
)
