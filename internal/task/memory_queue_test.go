package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueCloseReleasesBlockedPublisher(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), "t1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	published := make(chan error, 1)
	go func() {
		published <- queue.Publish(context.Background(), "t2")
	}()

	closed := make(chan struct{})
	go func() {
		_ = queue.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind a publisher on a full queue")
	}
	select {
	case err := <-published:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher stayed blocked after Close")
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	_ = queue.Close()
	_ = queue.Close()
	if err := queue.Publish(context.Background(), "t1"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryQueueHandlerCanRequeueIntoFullBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := NewMemoryQueue(1)
	if err := queue.Publish(ctx, "t1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	handled := make(chan string, 4)
	handler := func(ctx context.Context, id string) error {
		handled <- id
		// 队列已被其他任务占满，重投会阻塞直到关闭。
		_ = queue.Publish(ctx, "filler")
		return queue.Publish(ctx, id)
	}
	consumed := make(chan error, 1)
	go func() {
		consumed <- queue.Consume(ctx, 1, handler)
	}()

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("task was not consumed")
	}
	_ = queue.Close()
	select {
	case err := <-consumed:
		if err != nil {
			t.Fatalf("consume after close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after Close")
	}
}
