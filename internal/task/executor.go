package task

import (
	"context"
	"strconv"

	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
)

// Executor 执行一个已领取的任务。失败时返回的结果记录已经发生的链上副作用。
type Executor interface {
	Execute(ctx context.Context, task *Task) (*ExecutionResult, error)
}

// Sequences 是任务需要的流程能力，由 workflow.Service 实现。
type Sequences interface {
	Network() workflow.Network
	Deploy(ctx context.Context, user common.Address) (*workflow.DeployResult, error)
	InitSwap(ctx context.Context, user common.Address) (*workflow.SwapResult, error)
}

// WorkflowExecutor 将任务类型映射到对应的流程。
type WorkflowExecutor struct {
	sequences Sequences
}

// NewWorkflowExecutor 创建执行器。
func NewWorkflowExecutor(sequences Sequences) *WorkflowExecutor {
	return &WorkflowExecutor{sequences: sequences}
}

// Execute 实现 Executor。
func (e *WorkflowExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	if !common.IsHexAddress(task.UserAddress) {
		return nil, xerrors.New(CodeTaskValidation, "任务缺少有效的用户地址", xerrors.WithRetryable(false))
	}
	user := common.HexToAddress(task.UserAddress)
	chainID := strconv.FormatInt(e.sequences.Network().ChainID, 10)

	switch task.Kind {
	case KindDeploySafe:
		deployed, err := e.sequences.Deploy(ctx, user)
		if deployed == nil {
			return nil, err
		}
		result := &ExecutionResult{
			SafeAddress: deployed.SafeAddress.Hex(),
			Stage:       "deployed",
			ChainID:     chainID,
			BlockNumber: deployed.BlockNumber,
		}
		if deployed.TxHash != (common.Hash{}) {
			result.TxHash = deployed.TxHash.Hex()
		}
		if deployed.AlreadyDeployed {
			result.Stage = "already_deployed"
		}
		if err != nil {
			result.Stage = "broadcast"
		}
		return result, err
	case KindInitSwap:
		swap, err := e.sequences.InitSwap(ctx, user)
		if swap == nil {
			return nil, err
		}
		result := &ExecutionResult{
			SafeAddress: swap.SafeAddress.Hex(),
			OrderUID:    swap.OrderUID,
			Stage:       string(swap.Stage),
			ChainID:     chainID,
			BlockNumber: swap.BlockNumber,
		}
		if swap.SafeTxHash != (common.Hash{}) {
			result.SafeTxHash = swap.SafeTxHash.Hex()
		}
		if swap.TxHash != (common.Hash{}) {
			result.TxHash = swap.TxHash.Hex()
		}
		return result, err
	default:
		return nil, xerrors.New(CodeTaskValidation, "不支持的任务类型 "+string(task.Kind), xerrors.WithRetryable(false))
	}
}

var _ Executor = (*WorkflowExecutor)(nil)
