// Package store is the Shared Store (component A): the distributed
// data plane that holds queues, loading sessions, allocation tokens,
// retry counters, and the pub/sub channels every other component
// coordinates through. All cross-pod state lives here.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the key-naming conventions used
// throughout the matchmaking core (§6 Store key layout) and the
// atomic scripts defined in scripts.go.
type Store struct {
	Client *redis.Client
}

// Connect establishes a connection to the backing Redis instance. It
// mirrors the teacher's internal/redis.Connect: parse the URL, build a
// client, verify with a PING before handing it back.
func Connect(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Store{Client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.Client.Close()
}

// Key helpers centralize the naming scheme from §3/§6 so no caller
// hand-builds a key string with a typo.

func QueueKey(prefix, gameMode string) string {
	return fmt.Sprintf("%s:%s", prefix, gameMode)
}

func LoadingKey(sessionID string) string {
	return "loading:" + sessionID
}

// LoadingIndexKey is the set of outstanding loading-session ids the
// stale-sweep enumerates, populated atomically by Pop-N-For-Match.
func LoadingIndexKey() string {
	return "loading:index"
}

// LoadingCompletedFlagKey guards the loading_session_completed emission
// against being published twice when the loading-completion path and a
// racing Cancel/Sweep both observe an already-ready session.
func LoadingCompletedFlagKey(sessionID string) string {
	return "loading:completed:" + sessionID
}

func AllocTokenKey(sessionID string) string {
	return "alloc:" + sessionID
}

func RetryKey(gameMode string, sortedMembers string) string {
	return "retry:alloc:" + gameMode + ":" + sortedMembers
}

func LockKey(domain string) string {
	return "lock:" + domain
}

func QueueTimeKey(playerID string) string {
	return "queue_time:" + playerID
}

func PlayerIPsKey(playerID string) string {
	return "player_ips:" + playerID
}

// PlayerPodKey tracks which pod currently holds a player's live
// connection, refreshed on heartbeat and cleared on disconnect, so a
// remote tick can route a message without broadcasting to every pod.
func PlayerPodKey(playerID string) string {
	return "player_pod:" + playerID
}

func NotificationChannel(playerID string) string {
	return "notifications:" + playerID
}

func PodGameMessageChannel(podID string) string {
	return "pod:" + podID + ":game_message"
}

func PodMatchResultChannel(podID string) string {
	return "pod:" + podID + ":match_result"
}

func QueueEventsChannel(gameMode string) string {
	return "events:queue:" + gameMode
}

func SessionEventsChannel(sessionID string) string {
	return "events:session:" + sessionID
}

func ViolationEventsChannel(code string) string {
	return "events:violation:" + code
}
