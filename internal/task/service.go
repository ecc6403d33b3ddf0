package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SubmitRequest 描述一次任务提交。
type SubmitRequest struct {
	// ID 可选。重复提交同一 ID 返回已有任务，前提是用户与任务类型一致。
	ID          string
	Kind        Kind
	UserAddress common.Address
	Metadata    map[string]any
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if !req.Kind.Valid() {
		return nil, xerrors.New(CodeTaskValidation, "不支持的任务类型 "+string(req.Kind))
	}
	if req.UserAddress == (common.Address{}) {
		return nil, xerrors.New(CodeTaskValidation, "用户地址不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	user := strings.ToLower(req.UserAddress.Hex())
	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		task, err := s.store.Get(ctx, taskID)
		if err == nil {
			return sameSubmission(task, user, req.Kind)
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:          taskID,
		Kind:        req.Kind,
		UserAddress: user,
		Metadata:    cloneMetadata(req.Metadata),
		Status:      StatusPending,
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			existing, getErr := s.store.Get(ctx, taskID)
			if getErr == nil {
				return sameSubmission(existing, user, req.Kind)
			}
			if !stdErrors.Is(getErr, ErrTaskNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true, nil)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", taskID),
		slog.String("kind", string(task.Kind)),
		slog.String("user", task.UserAddress),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// sameSubmission 只在幂等键属于同一用户、同一任务类型时返回已有任务。
func sameSubmission(existing *Task, user string, kind Kind) (*Task, error) {
	if !strings.EqualFold(existing.UserAddress, user) || existing.Kind != kind {
		return nil, xerrors.New(CodeTaskConflict, "任务 ID 已被其他提交占用",
			xerrors.WithSeverity(xerrors.SeverityWarning),
			xerrors.WithRetryable(false),
		)
	}
	return existing, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = stdErrors.Join(err, s.store.Close())
	}
	if s.producer != nil {
		err = stdErrors.Join(err, s.producer.Close())
	}
	return err
}

// WaitUntilCompleted 轮询任务直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
