package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

func fanoutNotification() Notification {
	return Notification{
		ID:          "n-1",
		RecipientID: "alice",
		Category:    CategoryCustom,
		Title:       "Hello",
		Body:        "World",
	}
}

func TestFanoutCounts(t *testing.T) {
	t.Parallel()

	now := time.Now()
	eps := newFakeEndpoints(
		PushEndpoint{RecipientID: "alice", Endpoint: "https://gw/ep-1", Active: true},
		PushEndpoint{RecipientID: "alice", Endpoint: "https://gw/ep-2", Active: true},
		PushEndpoint{RecipientID: "alice", Endpoint: "https://gw/ep-3", Active: true},
		PushEndpoint{RecipientID: "bob", Endpoint: "https://gw/other", Active: true},
	)
	sender := newFakeSender()
	sender.failFor["https://gw/ep-2"] = errors.New("gateway 502")

	eng := New(Config{}, Deps{Endpoints: eps, Sender: sender}, logx.Nop())
	cfg, _ := eng.snapshot()

	var sum Summary
	res := eng.fanout(context.Background(), cfg, now, fanoutNotification(), &sum)

	if res.Attempted != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 3/2/1", res)
	}
	if sum.PushAttempted != 3 || sum.PushSucceeded != 2 || sum.PushFailed != 1 {
		t.Fatalf("summary = %+v, want 3/2/1", sum)
	}
	if !eps.get("https://gw/ep-1").LastUsedAt.Equal(now) {
		t.Fatal("delivery must stamp last_used_at")
	}
	if eps.get("https://gw/ep-2").FailCount != 1 {
		t.Fatal("failure must increment fail_count")
	}
}

func TestFanoutNoEndpointsIsNormal(t *testing.T) {
	t.Parallel()

	eng := New(Config{}, Deps{Endpoints: newFakeEndpoints(), Sender: newFakeSender()}, logx.Nop())
	cfg, _ := eng.snapshot()

	var sum Summary
	res := eng.fanout(context.Background(), cfg, time.Now(), fanoutNotification(), &sum)

	if res != (FanoutResult{}) {
		t.Fatalf("result = %+v, want zero", res)
	}
}

func TestFanoutThresholdDeactivation(t *testing.T) {
	t.Parallel()

	eps := newFakeEndpoints(PushEndpoint{RecipientID: "alice", Endpoint: "https://gw/flaky", Active: true})
	sender := newFakeSender()
	sender.failFor["https://gw/flaky"] = errors.New("gateway 500")

	eng := New(Config{PushFailThreshold: 2}, Deps{Endpoints: eps, Sender: sender}, logx.Nop())
	cfg, _ := eng.snapshot()

	var sum Summary
	for i := 0; i < 2; i++ {
		eng.fanout(context.Background(), cfg, time.Now(), fanoutNotification(), &sum)
	}
	if ep := eps.get("https://gw/flaky"); ep.Active {
		t.Fatalf("endpoint still active after %d failures with threshold 2", ep.FailCount)
	}

	// A deactivated endpoint no longer participates.
	res := eng.fanout(context.Background(), cfg, time.Now(), fanoutNotification(), &sum)
	if res.Attempted != 0 {
		t.Fatalf("attempted = %d after deactivation, want 0", res.Attempted)
	}
}

func TestFanoutEndpointGoneDeactivatesImmediately(t *testing.T) {
	t.Parallel()

	eps := newFakeEndpoints(PushEndpoint{RecipientID: "alice", Endpoint: "https://gw/stale", Active: true})
	sender := newFakeSender()
	sender.failFor["https://gw/stale"] = fmt.Errorf("%w: status 410 Gone", ErrEndpointGone)

	eng := New(Config{PushFailThreshold: 5}, Deps{Endpoints: eps, Sender: sender}, logx.Nop())
	cfg, _ := eng.snapshot()

	var sum Summary
	eng.fanout(context.Background(), cfg, time.Now(), fanoutNotification(), &sum)

	ep := eps.get("https://gw/stale")
	if ep.Active {
		t.Fatal("gone endpoint must be deactivated on first occurrence")
	}
	if ep.FailCount != 0 {
		t.Fatalf("gone endpoint fail_count = %d, want 0 (deactivation path, not failure path)", ep.FailCount)
	}
}

func TestFanoutDeliveryResetsFailCount(t *testing.T) {
	t.Parallel()

	eps := newFakeEndpoints(PushEndpoint{RecipientID: "alice", Endpoint: "https://gw/ep-1", Active: true, FailCount: 3})
	sender := newFakeSender()

	eng := New(Config{}, Deps{Endpoints: eps, Sender: sender}, logx.Nop())
	cfg, _ := eng.snapshot()

	var sum Summary
	eng.fanout(context.Background(), cfg, time.Now(), fanoutNotification(), &sum)

	if got := eps.get("https://gw/ep-1").FailCount; got != 0 {
		t.Fatalf("fail_count = %d after successful delivery, want 0", got)
	}
}
