package matchmaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playmatatu/matchcore/internal/allocator"
	"github.com/playmatatu/matchcore/internal/store"
)

func TestPlayerReadyWaitingEmitsPlayerReady(t *testing.T) {
	mm := newTestMatchmaker(t, newFakeAllocator(nil))
	ctx := context.Background()
	sessionID := "sess-waiting"
	seedLoadingHash(t, mm, sessionID, "Normal", map[string]string{"p1": "false", "p2": "false"})

	mm.PlayerReady(ctx, sessionID, "p1")

	flag, err := mm.Store.Client.HGet(ctx, store.LoadingKey(sessionID), "p1").Result()
	if err != nil || flag != "true" {
		t.Fatalf("expected p1 flag true, got %q err=%v", flag, err)
	}
	status, _ := mm.Store.Client.HGet(ctx, store.LoadingKey(sessionID), "status").Result()
	if status != "loading" {
		t.Errorf("expected session to remain loading, got %q", status)
	}
	isMember, _ := mm.Store.Client.SIsMember(ctx, store.LoadingIndexKey(), sessionID).Result()
	if !isMember {
		t.Errorf("expected session to remain tracked in the sweep index while waiting")
	}
}

func TestPlayerReadyCompletedBeginsAllocationAndEmitsCompletedOnce(t *testing.T) {
	fa := newFakeAllocator(func(attempt int) (*allocator.Session, error) {
		return &allocator.Session{SessionID: "srv-1", ServerAddress: "10.0.0.1:7777"}, nil
	})
	mm := newTestMatchmaker(t, fa)
	ctx := context.Background()
	sessionID := "sess-complete"
	seedLoadingHash(t, mm, sessionID, "Normal", map[string]string{"p1": "true", "p2": "false"})

	mm.PlayerReady(ctx, sessionID, "p2")

	isMember, _ := mm.Store.Client.SIsMember(ctx, store.LoadingIndexKey(), sessionID).Result()
	if isMember {
		t.Errorf("expected session to be untracked from the sweep index once complete")
	}
	exists, _ := mm.Store.Client.Exists(ctx, store.LoadingCompletedFlagKey(sessionID)).Result()
	if exists != 1 {
		t.Errorf("expected loading-completed flag to be set")
	}

	select {
	case got := <-fa.calls:
		if len(got) != 2 {
			t.Errorf("expected both roster members allocated, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("allocator was never called")
	}
}

func TestPlayerReadyAlreadyReadyRetriggersAllocation(t *testing.T) {
	fa := newFakeAllocator(func(attempt int) (*allocator.Session, error) {
		return &allocator.Session{SessionID: "srv-2", ServerAddress: "10.0.0.2:7777"}, nil
	})
	mm := newTestMatchmaker(t, fa)
	ctx := context.Background()
	sessionID := "sess-already-ready"
	seedLoadingHash(t, mm, sessionID, "Normal", map[string]string{"p1": "true", "p2": "true"})
	mm.Store.Client.HSet(ctx, store.LoadingKey(sessionID), "status", "ready")

	// a retried loading_complete for a session that already reached
	// ready (the Mark-Ready "retry path"): the script makes no
	// transition since p1's flag is already true, so MarkReady falls
	// back to the disambiguating read and reports MarkReadyAlreadyReady.
	mm.PlayerReady(ctx, sessionID, "p1")

	select {
	case <-fa.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected retry path to re-drive allocation")
	}
	exists, _ := mm.Store.Client.Exists(ctx, store.LoadingCompletedFlagKey(sessionID)).Result()
	if exists != 1 {
		t.Errorf("expected loading-completed flag to be set on the retry path too")
	}
}

func TestPlayerReadyGoneIsNoop(t *testing.T) {
	mm := newTestMatchmaker(t, newFakeAllocator(nil))
	mm.PlayerReady(context.Background(), "nonexistent-session", "p1")

	exists, _ := mm.Store.Client.Exists(context.Background(), store.LoadingKey("nonexistent-session")).Result()
	if exists != 0 {
		t.Errorf("expected no hash to be created for a gone session")
	}
}

func TestPlayerReadyLockBusyRetriesThenSucceeds(t *testing.T) {
	mm := newTestMatchmaker(t, newFakeAllocator(nil))
	ctx := context.Background()
	sessionID := "sess-busy"
	seedLoadingHash(t, mm, sessionID, "Normal", map[string]string{"p1": "false", "p2": "false"})

	lockKey := store.LockKey("loading:" + sessionID)
	mm.Store.Client.Set(ctx, lockKey, "other-holder", 50*time.Millisecond)
	// miniredis does not expire keys on wall-clock time, so the other
	// holder's release is simulated explicitly once its TTL would lapse.
	time.AfterFunc(50*time.Millisecond, func() { mm.Store.Client.Del(context.Background(), lockKey) })

	mm.PlayerReady(ctx, sessionID, "p1")

	flag, _ := mm.Store.Client.HGet(ctx, store.LoadingKey(sessionID), "p1").Result()
	if flag == "true" {
		t.Fatalf("expected the busy attempt not to mutate the hash synchronously")
	}

	waitFor(t, 2*time.Second, func() bool {
		flag, _ := mm.Store.Client.HGet(ctx, store.LoadingKey(sessionID), "p1").Result()
		return flag == "true"
	})
}

func TestBeginAllocationBusyArmsWatchdogRetry(t *testing.T) {
	fa := newFakeAllocator(func(attempt int) (*allocator.Session, error) {
		return &allocator.Session{SessionID: "srv-3", ServerAddress: "10.0.0.3:7777"}, nil
	})
	mm := newTestMatchmaker(t, fa)
	ctx := context.Background()
	sessionID := "sess-token-busy"
	roster := []string{"p1", "p2"}

	tokenKey := store.AllocTokenKey(sessionID)
	mm.Store.Client.Set(ctx, tokenKey, "other-holder", 300*time.Millisecond)
	// miniredis does not expire keys on wall-clock time, so the other
	// holder's release is simulated explicitly once its TTL would lapse.
	time.AfterFunc(300*time.Millisecond, func() { mm.Store.Client.Del(context.Background(), tokenKey) })

	mm.beginAllocation(ctx, sessionID, "Normal", roster)

	select {
	case <-fa.calls:
		t.Fatal("allocation should not have run while the token was held")
	case <-time.After(100 * time.Millisecond):
	}

	waitFor(t, allocWatchdogDelay+2*time.Second, func() bool {
		select {
		case <-fa.calls:
			return true
		default:
			return false
		}
	})
}

func TestHandleAllocationFailureRetriesWithinLimit(t *testing.T) {
	mm := newTestMatchmaker(t, newFakeAllocator(nil))
	ctx := context.Background()
	gameMode := "Normal"
	roster := []string{"p1", "p2"}

	mm.handleAllocationFailure(ctx, "sess-retry", gameMode, roster, errors.New("boom"))

	retryKey := store.RetryKey(gameMode, store.SortedRosterKey(roster))
	attempts, err := mm.Store.Client.Get(ctx, retryKey).Int()
	if err != nil || attempts != 1 {
		t.Fatalf("expected retry counter at 1, got %d err=%v", attempts, err)
	}
	ttl, _ := mm.Store.Client.TTL(ctx, retryKey).Result()
	if ttl <= 0 {
		t.Errorf("expected retry counter to carry a TTL, got %v", ttl)
	}
}

func TestHandleAllocationFailureExhaustsRetriesSendsStandardErrorEnvelope(t *testing.T) {
	mm := newTestMatchmaker(t, newFakeAllocator(nil))
	ctx := context.Background()
	gameMode := "Normal"
	roster := []string{"p1", "p2"}
	retryKey := store.RetryKey(gameMode, store.SortedRosterKey(roster))
	mm.Store.Client.Set(ctx, retryKey, mm.Config.MaxDedicatedServerRetries, 0)

	sub := mm.Store.Client.Subscribe(ctx, store.NotificationChannel("p1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mm.handleAllocationFailure(ctx, "sess-exhausted", gameMode, roster, errors.New("boom"))

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	if err != nil {
		t.Fatalf("expected a standard error envelope, got: %v", err)
	}
	if !containsAll(msg.Payload, `"type":"error"`, `"code":"MaxRetriesExceeded"`) {
		t.Errorf("unexpected payload: %s", msg.Payload)
	}

	exists, _ := mm.Store.Client.Exists(ctx, retryKey).Result()
	if exists != 0 {
		t.Errorf("expected retry counter to be cleared once abandoned")
	}
}
