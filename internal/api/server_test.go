package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"SafeSwap-Chain/internal/account"
	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/task"
	"SafeSwap-Chain/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice     = common.HexToAddress("0x00000000000000000000000000000000000A11cE")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000B0b")
	aliceSafe = common.HexToAddress("0x5afe00000000000000000000000000000000a11c")
)

type fakeWallet struct {
	mu       sync.Mutex
	state    account.State
	deploys  int
	swaps    int
	swapErr  error
	loggedIn map[common.Address]bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{state: account.StateUnknown, loggedIn: make(map[common.Address]bool)}
}

func (f *fakeWallet) Login(_ context.Context, user common.Address) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedIn[user] = true
	acct := account.New(user)
	acct.LoggedIn = true
	return acct, nil
}

func (f *fakeWallet) Logout(_ context.Context, user common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.loggedIn, user)
	return nil
}

func (f *fakeWallet) Account(_ context.Context, user common.Address) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := account.New(user)
	acct.State = f.state
	return acct, nil
}

func (f *fakeWallet) Provision(_ context.Context, user common.Address) (*workflow.SafeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loggedIn[user] {
		return nil, xerrors.New(xerrors.CodeSessionMissing, "user is not logged in")
	}
	if f.state == account.StateUnknown {
		f.state = account.StatePredicted
	}
	return &workflow.SafeInfo{Address: aliceSafe, SaltNonce: "1234567890", State: f.state}, nil
}

func (f *fakeWallet) Deploy(context.Context, common.Address) (*workflow.DeployResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploys++
	f.state = account.StateDeployed
	return &workflow.DeployResult{SafeAddress: aliceSafe, TxHash: common.HexToHash("0x01"), BlockNumber: 7}, nil
}

func (f *fakeWallet) Status(context.Context, common.Address) (*workflow.SafeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == account.StateUnknown {
		return nil, nil
	}
	return &workflow.SafeStatus{Address: aliceSafe, Deployed: f.state == account.StateDeployed, State: f.state, Threshold: 1}, nil
}

func (f *fakeWallet) InitSwap(context.Context, common.Address) (*workflow.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swaps++
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	return &workflow.SwapResult{SafeAddress: aliceSafe, OrderUID: "0xabc", Stage: workflow.StageConfirmed}, nil
}

func (f *fakeWallet) Balances(_ context.Context, user common.Address) (*workflow.Wallet, error) {
	return &workflow.Wallet{
		Network: workflow.Network{Name: "sepolia", ChainID: 11155111, NativeToken: "ETH"},
		User:    workflow.Balance{Address: user, Display: "1"},
	}, nil
}

type observed struct {
	mu    sync.Mutex
	calls []string
}

func (o *observed) ObserveHTTPRequest(handler, method string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, method+" "+handler)
}

func do(t *testing.T, h http.Handler, method, target string, user common.Address) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if user != (common.Address{}) {
		req.Header.Set("X-Wallet-Address", user.Hex())
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRequestsWithoutIdentityAreRejected(t *testing.T) {
	server := NewServer(":0", newFakeWallet(), nil)
	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/session", common.Address{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decode[ErrorBody](t, rec)
	if body.Code != string(xerrors.CodeUnauthenticated) {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestCreateSafeRequiresSession(t *testing.T) {
	server := NewServer(":0", newFakeWallet(), nil)
	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/safe", alice)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode[ErrorBody](t, rec); body.Code != string(xerrors.CodeSessionMissing) {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestCreateSafeSynchronously(t *testing.T) {
	wallet := newFakeWallet()
	handler := NewServer(":0", wallet, nil).Handler()

	if rec := do(t, handler, http.MethodPost, "/api/v1/session", alice); rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	rec := do(t, handler, http.MethodPost, "/api/v1/safe", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("create safe failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[SafeResponse](t, rec)
	if resp.Deployment == nil || resp.Deployment.BlockNumber != 7 {
		t.Fatalf("expected deployment result, got %+v", resp.Deployment)
	}
	if resp.Safe == nil || resp.Safe.State != account.StateDeployed {
		t.Fatalf("expected deployed safe, got %+v", resp.Safe)
	}

	// A deployed Safe is not deployed again.
	if rec := do(t, handler, http.MethodPost, "/api/v1/safe", alice); rec.Code != http.StatusOK {
		t.Fatalf("second create failed: %d", rec.Code)
	}
	if wallet.deploys != 1 {
		t.Fatalf("expected one deployment, got %d", wallet.deploys)
	}
}

func TestCreateSafeQueuesDeployment(t *testing.T) {
	wallet := newFakeWallet()
	store := task.NewMemoryStore()
	tasks := task.NewService(store, task.NewMemoryQueue(8), 3)
	handler := NewServer(":0", wallet, nil, WithTasks(tasks)).Handler()

	do(t, handler, http.MethodPost, "/api/v1/session", alice)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/safe", nil)
	req.Header.Set("X-Wallet-Address", alice.Hex())
	req.Header.Set(IdempotencyHeader, "deploy-alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[SafeResponse](t, rec)
	wantID := strings.ToLower(alice.Hex()) + ":deploy-alice"
	if resp.Task == nil || resp.Task.ID != wantID || resp.Task.Kind != task.KindDeploySafe {
		t.Fatalf("unexpected task %+v", resp.Task)
	}
	if wallet.deploys != 0 {
		t.Fatal("deployment must not run inline when queued")
	}
	if _, err := store.Get(context.Background(), wantID); err != nil {
		t.Fatalf("task not stored: %v", err)
	}
}

func TestIdempotencyKeyIsScopedToCaller(t *testing.T) {
	store := task.NewMemoryStore()
	tasks := task.NewService(store, task.NewMemoryQueue(8), 3)
	handler := NewServer(":0", newFakeWallet(), nil, WithTasks(tasks)).Handler()

	submit := func(path string, user common.Address) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-Wallet-Address", user.Hex())
		req.Header.Set(IdempotencyHeader, "k1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := submit("/api/v1/swaps", alice)
	if first.Code != http.StatusAccepted {
		t.Fatalf("alice: expected 202, got %d %s", first.Code, first.Body.String())
	}
	aliceTask := decode[SwapResponse](t, first).Task

	t.Run("same caller replays", func(t *testing.T) {
		rec := submit("/api/v1/swaps", alice)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		if got := decode[SwapResponse](t, rec).Task; got == nil || got.ID != aliceTask.ID {
			t.Fatalf("expected the original task, got %+v", got)
		}
	})
	t.Run("other caller gets its own task", func(t *testing.T) {
		rec := submit("/api/v1/swaps", bob)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
		}
		got := decode[SwapResponse](t, rec).Task
		if got == nil || got.ID == aliceTask.ID || got.UserAddress != strings.ToLower(bob.Hex()) {
			t.Fatalf("bob received %+v", got)
		}
		if got.Result != nil {
			t.Fatalf("bob must not see a result, got %+v", got.Result)
		}
	})
	t.Run("key reused for another kind", func(t *testing.T) {
		do(t, handler, http.MethodPost, "/api/v1/session", alice)
		rec := submit("/api/v1/safe", alice)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
		}
		if body := decode[ErrorBody](t, rec); body.Code != string(task.CodeTaskConflict) {
			t.Fatalf("unexpected error %+v", body)
		}
	})

	stats, err := tasks.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected one task per caller, got %+v", stats)
	}
}

func TestCheckSafeWithoutSafe(t *testing.T) {
	handler := NewServer(":0", newFakeWallet(), nil).Handler()
	rec := do(t, handler, http.MethodGet, "/api/v1/safe", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if resp := decode[SafeResponse](t, rec); resp.Status != nil {
		t.Fatalf("expected no status, got %+v", resp.Status)
	}
}

func TestInitSwapMapsPartialExecution(t *testing.T) {
	wallet := newFakeWallet()
	wallet.swapErr = xerrors.New(xerrors.CodePartialExecution, "order posted but not pre-signed",
		xerrors.WithMetadata("order_uid", "0xabc"),
		xerrors.WithRetryable(false),
	)
	handler := NewServer(":0", wallet, nil).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/swaps", alice)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	body := decode[ErrorBody](t, rec)
	if body.Retryable || body.Metadata["order_uid"] != "0xabc" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestInitSwapSyncOverride(t *testing.T) {
	wallet := newFakeWallet()
	tasks := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(8), 3)
	handler := NewServer(":0", wallet, nil, WithTasks(tasks)).Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/swaps?sync=true", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	resp := decode[SwapResponse](t, rec)
	if resp.Swap == nil || resp.Swap.OrderUID != "0xabc" || resp.Task != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestWalletAndMethodChecks(t *testing.T) {
	handler := NewServer(":0", newFakeWallet(), nil).Handler()
	rec := do(t, handler, http.MethodGet, "/api/v1/wallet", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	wallet := decode[workflow.Wallet](t, rec)
	if wallet.User.Address != alice || wallet.Network.Name != "sepolia" {
		t.Fatalf("unexpected wallet %+v", wallet)
	}

	rec = do(t, handler, http.MethodDelete, "/api/v1/wallet", alice)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("unexpected Allow header %q", rec.Header().Get("Allow"))
	}
}

func TestHandleTaskDetail(t *testing.T) {
	store := task.NewMemoryStore()
	tasks := task.NewService(store, task.NewMemoryQueue(8), 3)
	handler := NewServer(":0", newFakeWallet(), nil, WithTasks(tasks)).Handler()

	sample := &task.Task{
		ID:          "task-success",
		Kind:        task.KindInitSwap,
		UserAddress: alice.Hex(),
		Status:      task.StatusSucceeded,
		Attempts:    1,
		MaxRetries:  3,
		CreatedAt:   1700000000,
		UpdatedAt:   1700000001,
		Result:      &task.ExecutionResult{OrderUID: "0xabc", Stage: "confirmed"},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/tasks/task-success", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	got := decode[task.Task](t, rec)
	if got.Result == nil || got.Result.OrderUID != "0xabc" {
		t.Fatalf("unexpected task result: %+v", got.Result)
	}

	t.Run("other user", func(t *testing.T) {
		if rec := do(t, handler, http.MethodGet, "/api/v1/tasks/task-success", bob); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
	t.Run("missing id", func(t *testing.T) {
		if rec := do(t, handler, http.MethodGet, "/api/v1/tasks/", alice); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
	t.Run("not found", func(t *testing.T) {
		if rec := do(t, handler, http.MethodGet, "/api/v1/tasks/missing", alice); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
	t.Run("invalid method", func(t *testing.T) {
		if rec := do(t, handler, http.MethodPost, "/api/v1/tasks/task-success", alice); rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
	})
}

func TestListTasksScopedToCaller(t *testing.T) {
	store := task.NewMemoryStore()
	tasks := task.NewService(store, task.NewMemoryQueue(8), 3)
	handler := NewServer(":0", newFakeWallet(), nil, WithTasks(tasks)).Handler()

	ctx := context.Background()
	for _, req := range []task.SubmitRequest{
		{ID: "a-1", Kind: task.KindDeploySafe, UserAddress: alice},
		{ID: "a-2", Kind: task.KindInitSwap, UserAddress: alice},
		{ID: "b-1", Kind: task.KindInitSwap, UserAddress: bob},
	} {
		if _, err := tasks.Submit(ctx, req); err != nil {
			t.Fatalf("submit %s: %v", req.ID, err)
		}
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/tasks?kind=init_swap", alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	resp := decode[TaskListResponse](t, rec)
	if len(resp.Tasks) != 1 || resp.Tasks[0].ID != "a-2" {
		t.Fatalf("unexpected tasks %+v", resp.Tasks)
	}
	if resp.Stats.Total != 2 {
		t.Fatalf("expected stats for the caller only, got %+v", resp.Stats)
	}
}

func TestMetricsEndpointAndObserver(t *testing.T) {
	obs := &observed{}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("safeswap_up 1\n"))
	})
	handler := NewServer(":0", newFakeWallet(), nil, WithMetrics("/metrics", metricsHandler, obs)).Handler()

	rec := do(t, handler, http.MethodGet, "/metrics", common.Address{})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "safeswap_up") {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}

	do(t, handler, http.MethodGet, "/api/v1/wallet", alice)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.calls) != 1 || obs.calls[0] != "GET /api/v1/wallet" {
		t.Fatalf("unexpected observations %v", obs.calls)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	server := NewServer("127.0.0.1:0", newFakeWallet(), nil, WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
