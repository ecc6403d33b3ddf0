package task

import (
	"context"
	"errors"
	"testing"

	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
)

type fakeSequences struct {
	deploy    *workflow.DeployResult
	swap      *workflow.SwapResult
	err       error
	deployFor common.Address
}

func (f *fakeSequences) Network() workflow.Network {
	return workflow.Network{Name: "sepolia", ChainID: 11155111}
}

func (f *fakeSequences) Deploy(_ context.Context, user common.Address) (*workflow.DeployResult, error) {
	f.deployFor = user
	return f.deploy, f.err
}

func (f *fakeSequences) InitSwap(context.Context, common.Address) (*workflow.SwapResult, error) {
	return f.swap, f.err
}

func TestWorkflowExecutorDeploy(t *testing.T) {
	safeAddr := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	seq := &fakeSequences{deploy: &workflow.DeployResult{SafeAddress: safeAddr, TxHash: common.HexToHash("0x01"), BlockNumber: 9}}
	exec := NewWorkflowExecutor(seq)

	result, err := exec.Execute(context.Background(), &Task{Kind: KindDeploySafe, UserAddress: testUser.Hex()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if seq.deployFor != testUser {
		t.Fatalf("deploy called for %s", seq.deployFor.Hex())
	}
	if result.SafeAddress != safeAddr.Hex() || result.ChainID != "11155111" || result.BlockNumber != 9 || result.Stage != "deployed" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestWorkflowExecutorSwapKeepsPartialResult(t *testing.T) {
	partial := xerrors.New(xerrors.CodePartialExecution, "wait failed")
	seq := &fakeSequences{
		swap: &workflow.SwapResult{OrderUID: "0xabc", Stage: workflow.StageExecuted, TxHash: common.HexToHash("0x02")},
		err:  partial,
	}
	result, err := NewWorkflowExecutor(seq).Execute(context.Background(), &Task{Kind: KindInitSwap, UserAddress: testUser.Hex()})
	if !errors.Is(err, partial) {
		t.Fatalf("expected partial error, got %v", err)
	}
	if result == nil || result.OrderUID != "0xabc" || result.Stage != "executed" || result.SafeTxHash != "" {
		t.Fatalf("unexpected partial result: %+v", result)
	}
}

func TestWorkflowExecutorRejectsBadTasks(t *testing.T) {
	exec := NewWorkflowExecutor(&fakeSequences{})
	if _, err := exec.Execute(context.Background(), &Task{Kind: KindInitSwap, UserAddress: "nope"}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err := exec.Execute(context.Background(), &Task{Kind: "mint", UserAddress: testUser.Hex()})
	if xerrors.CodeOf(err) != CodeTaskValidation || xerrors.RetryableError(err) {
		t.Fatalf("expected non-retryable validation error, got %v", err)
	}
}
