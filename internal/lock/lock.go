// Package lock implements the Distributed Lock (component C): fenced
// mutual exclusion used to serialize matching and stale-sweeping per
// game mode / per session, grounded on the acquire/release scripts of
// the original match_server's matchmaker/lock.rs.
package lock

import (
	"context"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const acquireScript = `
local key = KEYS[1]
local value = ARGV[1]
local ttl_ms = tonumber(ARGV[2])

local existing = redis.call("GET", key)
if existing == false then
	redis.call("SET", key, value, "PX", ttl_ms)
	return {"OK", value}
end

local ttl = redis.call("PTTL", key)
if ttl == -1 then
	-- present with no TTL: orphaned by a crash between SET and EXPIRE, repair
	redis.call("DEL", key)
	redis.call("SET", key, value, "PX", ttl_ms)
	return {"OK", value}
elseif ttl == -2 then
	-- deleted between GET and PTTL, safe to acquire
	redis.call("SET", key, value, "PX", ttl_ms)
	return {"OK", value}
else
	return {"BUSY", tostring(ttl)}
end
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

var (
	acquireSHA = redis.NewScript(acquireScript)
	releaseSHA = redis.NewScript(releaseScript)
)

// Result classifies the outcome of an acquire attempt.
type Result int

const (
	Acquired Result = iota
	Busy
)

// Lock is a held fencing token. Release must be called explicitly;
// Lock does not implement a finalizer, the same discipline as the
// original Rust DistributedLock.
type Lock struct {
	key   string
	token string
}

// Acquire attempts to take the lock at key for ttlMS milliseconds. On
// Busy, remainingMS reports the observed PTTL of the current holder.
func Acquire(ctx context.Context, rdb *redis.Client, key string, ttlMS int) (*Lock, Result, int64, error) {
	token := uuid.NewString()
	reply, err := acquireSHA.Run(ctx, rdb, []string{key}, token, ttlMS).StringSlice()
	if err != nil {
		return nil, Busy, 0, err
	}
	if len(reply) < 2 {
		log.Printf("[LOCK] unexpected script reply for key %s: %v", key, reply)
		return nil, Busy, 0, nil
	}
	switch reply[0] {
	case "OK":
		return &Lock{key: key, token: reply[1]}, Acquired, 0, nil
	case "BUSY":
		remaining, _ := strconv.ParseInt(reply[1], 10, 64)
		return nil, Busy, remaining, nil
	default:
		log.Printf("[LOCK] unknown script verdict %q for key %s", reply[0], key)
		return nil, Busy, 0, nil
	}
}

// Release frees the lock iff this holder's token still matches the
// stored value — a delayed holder cannot free a lock a newer owner has
// since re-acquired.
func (l *Lock) Release(ctx context.Context, rdb *redis.Client) (bool, error) {
	reply, err := releaseSHA.Run(ctx, rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return false, err
	}
	return reply == 1, nil
}
