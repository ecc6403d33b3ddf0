package safeswap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testUser = "0x00000000000000000000000000000000000A11cE"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not a url", nil); err == nil {
		t.Fatal("expected error for relative url")
	}
}

func TestRequestsRequireIdentity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	})
	if _, err := client.Login(context.Background()); err == nil {
		t.Fatal("expected identity error")
	}
}

func TestLoginSendsWalletHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/session" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(WalletHeader); got != testUser {
			t.Fatalf("unexpected wallet header %q", got)
		}
		_ = json.NewEncoder(w).Encode(Account{UserAddress: testUser, LoggedIn: true, State: "unknown"})
	})
	client.SetWalletAddress(testUser)

	acct, err := client.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !acct.LoggedIn {
		t.Fatal("expected logged in account")
	}
}

func TestTokenTakesPrecedence(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer did-token" {
			t.Fatalf("unexpected authorization %q", got)
		}
		if r.Header.Get(WalletHeader) != "" {
			t.Fatal("wallet header must not be sent with a token")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	client.SetWalletAddress(testUser)
	client.SetToken("did-token")
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
}

func TestCreateSafeOptions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sync") != "" {
			t.Fatalf("queued create must not set sync, got %q", r.URL.RawQuery)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "create-1" {
			t.Fatalf("unexpected idempotency key %q", got)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(SafeResponse{
			Safe: &SafeInfo{Address: "0x5afe", State: "predicted"},
			Task: &Task{ID: "create-1", Kind: "deploy_safe", Status: "pending"},
		})
	})
	client.SetWalletAddress(testUser)

	resp, err := client.CreateSafe(context.Background(), RunOptions{IdempotencyKey: "create-1"})
	if err != nil {
		t.Fatalf("create safe: %v", err)
	}
	if resp.Task == nil || resp.Task.Kind != "deploy_safe" {
		t.Fatalf("unexpected task %+v", resp.Task)
	}
}

func TestInitSwapDecodesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sync") != "true" {
			t.Fatalf("expected sync query, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"code":"PARTIAL_EXECUTION","message":"order posted","retryable":false,"metadata":{"order_uid":"0xabc"}}`))
	})
	client.SetWalletAddress(testUser)

	_, err := client.InitSwap(context.Background(), RunOptions{Sync: true})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Code != "PARTIAL_EXECUTION" || apiErr.Metadata["order_uid"] != "0xabc" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestListTasksQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "pending,failed" || q.Get("kind") != "init_swap" || q.Get("limit") != "5" {
			t.Fatalf("unexpected query %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(TaskList{Tasks: []*Task{{ID: "t-1"}}, Stats: TaskStats{Total: 1}})
	})
	client.SetWalletAddress(testUser)

	list, err := client.ListTasks(context.Background(), ListTasksOptions{
		Statuses: []string{"pending", "failed"},
		Kinds:    []string{"init_swap"},
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(list.Tasks) != 1 || list.Stats.Total != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestWaitForTaskPollsUntilDone(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks/t-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		status := "running"
		if calls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "t-1", Status: status, Result: &TaskResult{OrderUID: "0xabc"}})
	})
	client.SetWalletAddress(testUser)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := client.WaitForTask(ctx, "t-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got.Status != "succeeded" || got.Result.OrderUID != "0xabc" {
		t.Fatalf("unexpected task %+v", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", calls.Load())
	}
}

func TestGetTaskRequiresID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	client.SetWalletAddress(testUser)
	if _, err := client.GetTask(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty id")
	}
}
