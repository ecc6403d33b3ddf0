package task

import (
	"context"

	"SafeSwap-Chain/internal/cow"
	xerrors "SafeSwap-Chain/internal/errors"
)

// RecoveryHandler 定义了任务不可重试地失败后的补偿策略。
type RecoveryHandler interface {
	// Recover 根据失败原因补全部分结果。返回的结果随失败状态一同写入任务；
	// 返回 nil 时保留原有的部分结果。
	Recover(ctx context.Context, task *Task, partial *ExecutionResult, cause error) (*ExecutionResult, error)
}

// OrderLookup 查询订单簿中的订单状态。
type OrderLookup interface {
	GetOrder(ctx context.Context, uid string) (*cow.Order, error)
}

// OrderRecovery 在兑换停在订单已提交、预签名未完成时，向订单簿查询订单
// 当前状态并记录到任务结果中，便于人工跟进。
type OrderRecovery struct {
	orders OrderLookup
}

// NewOrderRecovery 创建基于订单簿查询的补偿处理器。
func NewOrderRecovery(orders OrderLookup) *OrderRecovery {
	return &OrderRecovery{orders: orders}
}

// Recover 实现 RecoveryHandler。
func (r *OrderRecovery) Recover(ctx context.Context, task *Task, partial *ExecutionResult, cause error) (*ExecutionResult, error) {
	if r == nil || r.orders == nil || task.Kind != KindInitSwap {
		return nil, nil
	}
	if xerrors.CodeOf(cause) != xerrors.CodePartialExecution {
		return nil, nil
	}
	uid := xerrors.MetadataOf(cause)["order_uid"]
	if uid == "" && partial != nil {
		uid = partial.OrderUID
	}
	if uid == "" {
		return nil, nil
	}

	order, err := r.orders.GetOrder(ctx, uid)
	if err != nil {
		return nil, xerrors.Wrap(CodeTaskCompensate, err, "查询订单状态失败",
			xerrors.WithMetadata("order_uid", uid))
	}
	var result ExecutionResult
	if partial != nil {
		result = *partial
	}
	result.OrderUID = uid
	result.OrderStatus = string(order.Status)
	return &result, nil
}

var _ RecoveryHandler = (*OrderRecovery)(nil)
