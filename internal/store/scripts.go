package store

import (
	"context"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// The five atomic scripts from §4.B. Each is a total function of
// (keys, arguments) → reply: no error paths inside the script itself,
// so every multi-key transition is provably a single step of the state
// machine (§9 "script boundaries").

const enqueueScript = `
local is_member = redis.call("SISMEMBER", KEYS[1], ARGV[1])
if is_member == 1 then
	return {0, redis.call("SCARD", KEYS[1])}
end
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[1] .. ":meta", ARGV[1], ARGV[3])
redis.call("HSET", KEYS[1] .. ":ts", ARGV[1], ARGV[2])
return {1, redis.call("SCARD", KEYS[1])}
`

const popNForMatchScript = `
local n = tonumber(ARGV[1])
local card = redis.call("SCARD", KEYS[1])
if card < n then
	return {}
end
local members = redis.call("SMEMBERS", KEYS[1])
table.sort(members)
local popped = {}
for i = 1, n do
	popped[i] = members[i]
end
for i = 1, n do
	redis.call("SREM", KEYS[1], popped[i])
end
redis.call("HSET", KEYS[2], "game_mode", ARGV[3], "created_at", ARGV[4], "status", "loading")
for i = 1, n do
	redis.call("HSET", KEYS[2], popped[i], "false")
end
redis.call("EXPIRE", KEYS[2], ARGV[5])
redis.call("SADD", KEYS[3], ARGV[2])
local result = {ARGV[3], ARGV[2]}
for i = 1, n do
	result[#result + 1] = popped[i]
end
return result
`

const markReadyScript = `
local exists = redis.call("EXISTS", KEYS[1])
if exists == 0 then
	return {}
end
local is_member = redis.call("HEXISTS", KEYS[1], ARGV[1])
if is_member == 0 then
	return {}
end
local flag = redis.call("HGET", KEYS[1], ARGV[1])
if flag == "true" then
	return {}
end
redis.call("HSET", KEYS[1], ARGV[1], "true")

local all = redis.call("HGETALL", KEYS[1])
local game_mode = nil
local all_ready = true
local members = {}
for i = 1, #all, 2 do
	local k = all[i]
	local v = all[i + 1]
	if k == "game_mode" then
		game_mode = v
	elseif k == "created_at" or k == "status" then
		-- reserved field, skip
	else
		table.insert(members, k)
		if v ~= "true" then
			all_ready = false
		end
	end
end

if not all_ready then
	return {}
end

redis.call("HSET", KEYS[1], "status", "ready")
table.sort(members)
local result = {game_mode}
for i = 1, #members do
	result[#result + 1] = members[i]
end
return result
`

const cancelSessionScript = `
local exists = redis.call("EXISTS", KEYS[1])
if exists == 0 then
	return {}
end
local disconnected = ARGV[1]
local all = redis.call("HGETALL", KEYS[1])
local game_mode = nil
local status = nil
local survivors = {}
for i = 1, #all, 2 do
	local k = all[i]
	local v = all[i + 1]
	if k == "game_mode" then
		game_mode = v
	elseif k == "status" then
		status = v
	elseif k == "created_at" then
		-- reserved field, skip
	else
		if v == "true" and k ~= disconnected then
			table.insert(survivors, k)
		end
	end
end
redis.call("DEL", KEYS[1])
if status == "ready" then
	return {game_mode, "0"}
end
table.sort(survivors)
local result = {game_mode}
for i = 1, #survivors do
	result[#result + 1] = survivors[i]
end
return result
`

const sweepStaleScript = `
local exists = redis.call("EXISTS", KEYS[1])
if exists == 0 then
	return {}
end
local created_at = tonumber(redis.call("HGET", KEYS[1], "created_at"))
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
if created_at == nil or (now - created_at) < ttl then
	return {}
end
local all = redis.call("HGETALL", KEYS[1])
local game_mode = nil
local status = nil
local survivors = {}
local timed_out = 0
for i = 1, #all, 2 do
	local k = all[i]
	local v = all[i + 1]
	if k == "game_mode" then
		game_mode = v
	elseif k == "status" then
		status = v
	elseif k == "created_at" then
		-- reserved field, skip
	else
		if v == "true" then
			table.insert(survivors, k)
		else
			timed_out = timed_out + 1
		end
	end
end
redis.call("DEL", KEYS[1])
if status == "ready" then
	return {game_mode, "0"}
end
table.sort(survivors)
local result = {game_mode, tostring(timed_out)}
for i = 1, #survivors do
	result[#result + 1] = survivors[i]
end
return result
`

var (
	enqueueSHA    = redis.NewScript(enqueueScript)
	popNSHA       = redis.NewScript(popNForMatchScript)
	markReadySHA  = redis.NewScript(markReadyScript)
	cancelSessSHA = redis.NewScript(cancelSessionScript)
	sweepStaleSHA = redis.NewScript(sweepStaleScript)
)

// EnqueueResult is the reply of the Enqueue script.
type EnqueueResult struct {
	Added   bool
	NewSize int64
}

// Enqueue runs the Enqueue script against queueKey.
func (s *Store) Enqueue(ctx context.Context, queueKey, playerID string, timestamp int64, metadataJSON string) (EnqueueResult, error) {
	reply, err := enqueueSHA.Run(ctx, s.Client, []string{queueKey}, playerID, strconv.FormatInt(timestamp, 10), metadataJSON).Slice()
	if err != nil {
		return EnqueueResult{}, err
	}
	added, _ := toInt64(reply[0])
	size, _ := toInt64(reply[1])
	return EnqueueResult{Added: added == 1, NewSize: size}, nil
}

// PopNResult is the reply of the Pop-N-For-Match script.
type PopNResult struct {
	Matched   bool
	GameMode  string
	SessionID string
	Players   []string
}

// PopNForMatch runs the Pop-N-For-Match script. It creates the loading
// hash at loadingKey and adds sessionID to loadingIndexKey atomically
// with popping N members from queueKey, so a crash right after this
// call can never leave an untracked loading session for the sweep to
// miss.
func (s *Store) PopNForMatch(ctx context.Context, queueKey, loadingKey, loadingIndexKey string, n int, sessionID, gameMode string, now int64, ttlSeconds int) (PopNResult, error) {
	reply, err := popNSHA.Run(ctx, s.Client,
		[]string{queueKey, loadingKey, loadingIndexKey},
		n, sessionID, gameMode, now, ttlSeconds,
	).Slice()
	if err != nil {
		return PopNResult{}, err
	}
	if len(reply) == 0 {
		return PopNResult{Matched: false}, nil
	}
	gm, _ := reply[0].(string)
	sid, _ := reply[1].(string)
	players := make([]string, 0, len(reply)-2)
	for _, p := range reply[2:] {
		if ps, ok := p.(string); ok {
			players = append(players, ps)
		}
	}
	return PopNResult{Matched: true, GameMode: gm, SessionID: sid, Players: players}, nil
}

// MarkReadyOutcome classifies a Mark-Ready call beyond the script's own
// bare reply: the script itself only ever signals "this call completed
// the roster"; everything else is disambiguated by a follow-up hash
// read, the same two-step shape the original's handle_loading_complete
// uses when the script returns empty.
type MarkReadyOutcome int

const (
	// MarkReadyGone means loadingKey no longer exists (already
	// allocated, cancelled, or swept).
	MarkReadyGone MarkReadyOutcome = iota
	// MarkReadyWaiting means this player's flag was recorded (or was
	// already recorded) but the roster is not yet all-ready.
	MarkReadyWaiting
	// MarkReadyCompleted means this call was the one that flipped the
	// last member's flag, transitioning the session to ready.
	MarkReadyCompleted
	// MarkReadyAlreadyReady means the session had already reached
	// status=ready before this call — a late or duplicate
	// loading_complete that should re-drive allocation rather than be
	// dropped.
	MarkReadyAlreadyReady
)

// MarkReadyResult is the outcome of a Mark-Ready call.
type MarkReadyResult struct {
	Outcome  MarkReadyOutcome
	GameMode string
	Roster   []string
}

// MarkReady runs the Mark-Ready script for playerID against loadingKey.
// When the script makes no transition it re-reads the hash to tell
// "still waiting on others" apart from "already ready" — mirroring the
// original's fallback HGET/HGETALL after an empty script reply, rather
// than trying to force every case through one atomic round trip.
func (s *Store) MarkReady(ctx context.Context, loadingKey, playerID string) (MarkReadyResult, error) {
	reply, err := markReadySHA.Run(ctx, s.Client, []string{loadingKey}, playerID).Slice()
	if err != nil {
		return MarkReadyResult{}, err
	}
	if len(reply) > 0 {
		gm, _ := reply[0].(string)
		roster := make([]string, 0, len(reply)-1)
		for _, p := range reply[1:] {
			if ps, ok := p.(string); ok {
				roster = append(roster, ps)
			}
		}
		return MarkReadyResult{Outcome: MarkReadyCompleted, GameMode: gm, Roster: roster}, nil
	}

	all, err := s.Client.HGetAll(ctx, loadingKey).Result()
	if err != nil {
		return MarkReadyResult{}, err
	}
	if len(all) == 0 {
		return MarkReadyResult{Outcome: MarkReadyGone}, nil
	}

	gm := all["game_mode"]
	roster := make([]string, 0, len(all))
	for k := range all {
		if k == "game_mode" || k == "created_at" || k == "status" {
			continue
		}
		roster = append(roster, k)
	}
	sort.Strings(roster)

	if all["status"] == "ready" {
		return MarkReadyResult{Outcome: MarkReadyAlreadyReady, GameMode: gm, Roster: roster}, nil
	}
	return MarkReadyResult{Outcome: MarkReadyWaiting, GameMode: gm}, nil
}

// CancelResult is the reply of the Cancel-Session script.
type CancelResult struct {
	Existed      bool
	GameMode     string
	AlreadyReady bool
	Survivors    []string
}

// CancelSession deletes loadingKey and returns the survivors to
// re-queue. disconnectedPlayerID may be empty.
func (s *Store) CancelSession(ctx context.Context, loadingKey, disconnectedPlayerID string) (CancelResult, error) {
	reply, err := cancelSessSHA.Run(ctx, s.Client, []string{loadingKey}, disconnectedPlayerID).Slice()
	if err != nil {
		return CancelResult{}, err
	}
	if len(reply) == 0 {
		return CancelResult{Existed: false}, nil
	}
	gm, _ := reply[0].(string)
	if len(reply) == 2 {
		if s, ok := reply[1].(string); ok && s == "0" {
			return CancelResult{Existed: true, GameMode: gm, AlreadyReady: true}, nil
		}
	}
	survivors := make([]string, 0, len(reply)-1)
	for _, p := range reply[1:] {
		if ps, ok := p.(string); ok {
			survivors = append(survivors, ps)
		}
	}
	return CancelResult{Existed: true, GameMode: gm, Survivors: survivors}, nil
}

// SweepResult is the reply of the Sweep-Stale script.
type SweepResult struct {
	Stale         bool
	GameMode      string
	AlreadyReady  bool
	TimedOutCount int
	Survivors     []string
}

// SweepStale reaps loadingKey if it has exceeded ttlSeconds.
func (s *Store) SweepStale(ctx context.Context, loadingKey string, now int64, ttlSeconds int) (SweepResult, error) {
	reply, err := sweepStaleSHA.Run(ctx, s.Client, []string{loadingKey}, now, ttlSeconds).Slice()
	if err != nil {
		return SweepResult{}, err
	}
	if len(reply) == 0 {
		return SweepResult{Stale: false}, nil
	}
	gm, _ := reply[0].(string)
	if len(reply) == 2 {
		if s, ok := reply[1].(string); ok && s == "0" {
			return SweepResult{Stale: true, GameMode: gm, AlreadyReady: true}, nil
		}
	}
	timedOut := 0
	if len(reply) >= 2 {
		if n, ok := toInt64(reply[1]); ok {
			timedOut = int(n)
		}
	}
	survivors := make([]string, 0)
	if len(reply) > 2 {
		for _, p := range reply[2:] {
			if ps, ok := p.(string); ok {
				survivors = append(survivors, ps)
			}
		}
	}
	return SweepResult{Stale: true, GameMode: gm, TimedOutCount: timedOut, Survivors: survivors}, nil
}

// SortedRosterKey canonicalizes a roster into the sorted, comma-joined
// form used as the retry counter's group identity (§9: "the group is
// its canonical member list").
func SortedRosterKey(players []string) string {
	sorted := append([]string(nil), players...)
	sort.Strings(sorted)
	out := ""
	for i, p := range sorted {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
