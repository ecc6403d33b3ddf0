package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"SafeSwap-Chain/sdk/go/safeswap"
)

const demoUser = "0x00000000000000000000000000000000000A11cE"

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(safeswap.Account{UserAddress: demoUser, LoggedIn: true, State: "unknown"})
	})
	mux.HandleFunc("/api/v1/safe", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(safeswap.SafeResponse{
			Safe: &safeswap.SafeInfo{Address: "0x5afe000000000000000000000000000000000001", State: "predicted"},
			Task: &safeswap.Task{ID: "task-demo", Kind: "deploy_safe", Status: "pending"},
		})
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(safeswap.Task{
			ID:     "task-demo",
			Kind:   "deploy_safe",
			Status: "succeeded",
			Result: &safeswap.TaskResult{SafeAddress: "0x5afe000000000000000000000000000000000001", Stage: "deployed"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := safeswap.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetWalletAddress(demoUser)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acct, err := client.Login(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("logged in as %s\n", acct.UserAddress)

	created, err := client.CreateSafe(ctx, safeswap.RunOptions{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("safe %s predicted, deployment queued as %s\n", created.Safe.Address, created.Task.ID)

	done, err := client.WaitForTask(ctx, created.Task.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s %s at stage %s\n", done.ID, done.Status, done.Result.Stage)
}
