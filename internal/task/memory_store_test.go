package task

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Kind: KindDeploySafe, UserAddress: "0xAA", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Kind: KindInitSwap, UserAddress: "0xaa", Status: StatusPending, MaxRetries: 3},
		{ID: "t3", Kind: KindInitSwap, UserAddress: "0xbb", Status: StatusPending, MaxRetries: 3},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true, &ExecutionResult{OrderUID: "0xabc", Stage: "order_posted"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{TxHash: "0x01"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}
	if failed[0].Result == nil || failed[0].Result.OrderUID != "0xabc" {
		t.Fatalf("partial result not kept: %+v", failed[0].Result)
	}

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 2 {
		t.Fatalf("expected 2 tasks with result, got %d", len(withResult))
	}

	mine, err := store.List(ctx, buildListOptions([]ListOption{WithUserAddress("0xAA"), WithKinds(KindInitSwap)}))
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "t2" {
		t.Fatalf("unexpected user list: %+v", mine)
	}

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2), WithOffset(1)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 2 || asc[0].ID != "t2" || asc[1].ID != "t3" {
		t.Fatalf("unexpected paged list: %+v", asc)
	}

	byQuery, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("boom")}))
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0].ID != "t2" {
		t.Fatalf("unexpected query list: %+v", byQuery)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected stats window: %+v", stats)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "t1", Kind: KindDeploySafe, Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "t1"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "t1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}
	if _, err := store.Claim(ctx, "t1"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "t1", CodeTaskProcessing, "temporary", false, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	retry, err := store.Claim(ctx, "t1")
	if err != nil {
		t.Fatalf("claim retry: %v", err)
	}
	if retry.Attempts != 2 || retry.LastError != "temporary" {
		t.Fatalf("unexpected retry: %+v", retry)
	}

	if err := store.MarkFailed(ctx, "t1", CodeTaskProcessing, "temporary", false, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureIsNotClaimed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "t1", Kind: KindInitSwap, Status: StatusPending, MaxRetries: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "t1", "PARTIAL_EXECUTION", "wait failed", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "t1"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected terminal task to stay failed, got %v", err)
	}
	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Done() || got.ErrorCode != "PARTIAL_EXECUTION" {
		t.Fatalf("unexpected task: %+v", got)
	}
}
