package store

import "testing"

func TestSortedRosterKeyIsOrderIndependent(t *testing.T) {
	a := SortedRosterKey([]string{"zed", "amy", "bob"})
	b := SortedRosterKey([]string{"bob", "zed", "amy"})
	if a != b {
		t.Errorf("expected canonical key to be order-independent: %q vs %q", a, b)
	}
	if a != "amy,bob,zed" {
		t.Errorf("unexpected canonical form: %q", a)
	}
}

func TestKeyHelpers(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{QueueKey("queue", "Normal"), "queue:Normal"},
		{LoadingKey("sess1"), "loading:sess1"},
		{AllocTokenKey("sess1"), "alloc:sess1"},
		{RetryKey("Normal", "a,b"), "retry:alloc:Normal:a,b"},
		{LockKey("match:Normal"), "lock:match:Normal"},
		{NotificationChannel("p1"), "notifications:p1"},
		{PodGameMessageChannel("pod-a"), "pod:pod-a:game_message"},
		{PodMatchResultChannel("pod-a"), "pod:pod-a:match_result"},
		{QueueEventsChannel("Normal"), "events:queue:Normal"},
		{SessionEventsChannel("sess1"), "events:session:sess1"},
		{ViolationEventsChannel("duplicated"), "events:violation:duplicated"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestToInt64(t *testing.T) {
	if n, ok := toInt64(int64(42)); !ok || n != 42 {
		t.Errorf("int64 case failed: %d %v", n, ok)
	}
	if n, ok := toInt64("17"); !ok || n != 17 {
		t.Errorf("string case failed: %d %v", n, ok)
	}
	if _, ok := toInt64("not-a-number"); ok {
		t.Error("expected failure for non-numeric string")
	}
	if _, ok := toInt64(3.14); ok {
		t.Error("expected failure for unsupported type")
	}
}
