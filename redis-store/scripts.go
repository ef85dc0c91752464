package redisstore

import "github.com/redis/go-redis/v9"

// releaseScript deletes a lock cell only while it still holds the caller's
// token, so a lock that expired and was re-taken by another holder is never
// removed.
//
// KEYS[1] = lock key
// ARGV[1] = holder token
//
// Returns 1 when the lock was deleted, 0 otherwise.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
