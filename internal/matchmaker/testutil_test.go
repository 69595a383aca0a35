package matchmaker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/playmatatu/matchcore/internal/allocator"
	"github.com/playmatatu/matchcore/internal/config"
	"github.com/playmatatu/matchcore/internal/events"
	"github.com/playmatatu/matchcore/internal/history"
	"github.com/playmatatu/matchcore/internal/models"
	"github.com/playmatatu/matchcore/internal/store"
)

// fakeAllocator is a hand-rolled allocator.Provider double, the same
// shape as the allocator package's own httptest-backed tests: every
// call is recorded on calls and answered by fn.
type fakeAllocator struct {
	calls chan []string
	fn    func(attempt int) (*allocator.Session, error)
	n     int
}

func newFakeAllocator(fn func(attempt int) (*allocator.Session, error)) *fakeAllocator {
	return &fakeAllocator{calls: make(chan []string, 16), fn: fn}
}

func (f *fakeAllocator) CreateSession(ctx context.Context, players []string) (*allocator.Session, error) {
	f.n++
	f.calls <- players
	return f.fn(f.n)
}

// newTestMatchmaker wires a Matchmaker against a real in-memory Redis
// (miniredis) so the Lua-script-backed handlers run for real instead of
// against a hand-rolled store fake.
func newTestMatchmaker(t *testing.T, alloc allocator.Provider) *Matchmaker {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		QueueKeyPrefix:               "queue",
		LoadingSessionTimeoutSeconds: 30,
		AllocationTokenTTLSeconds:    10,
		MaxDedicatedServerRetries:    2,
		GameModes:                    []models.GameMode{{ID: "Normal", RequiredPlayers: 2}},
	}

	return New(&store.Store{Client: rdb}, cfg, events.New(rdb, false, "test-run"), alloc, nil, history.NewSink(nil), nil, nil, "test-pod")
}

// seedLoadingHash writes a loading-session hash directly, bypassing
// Pop-N-For-Match, so handler tests can start from an arbitrary roster
// state without driving a full tick.
func seedLoadingHash(t *testing.T, mm *Matchmaker, sessionID, gameMode string, flags map[string]string) {
	t.Helper()
	ctx := context.Background()

	args := []interface{}{"game_mode", gameMode, "created_at", time.Now().Unix(), "status", "loading"}
	for player, flag := range flags {
		args = append(args, player, flag)
	}
	if err := mm.Store.Client.HSet(ctx, store.LoadingKey(sessionID), args...).Err(); err != nil {
		t.Fatalf("seed loading hash: %v", err)
	}
	mm.Store.Client.SAdd(ctx, store.LoadingIndexKey(), sessionID)
}

// waitFor polls cond until it reports true or timeout elapses, used in
// place of a fixed sleep to assert on a handler's background goroutine.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

func containsAll(payload string, subs ...string) bool {
	for _, s := range subs {
		if !strings.Contains(payload, s) {
			return false
		}
	}
	return true
}
