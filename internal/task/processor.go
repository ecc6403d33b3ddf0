package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/observability/alerting"
	"SafeSwap-Chain/pkg/logger"
)

const (
	defaultRetryBackoff = 2 * time.Second
	maxRetryBackoff     = time.Minute
)

// Recorder 接收任务执行结果的统计。
type Recorder interface {
	ObserveTask(kind, outcome string)
}

// Processor 负责从队列消费任务并交给执行器。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	recorder    Recorder
	recovery    RecoveryHandler
	backoff     time.Duration

	retries sync.WaitGroup
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithRecorder 配置任务统计。
func WithRecorder(recorder Recorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = recorder
	}
}

// WithRecoveryHandler 配置不可重试失败后的补偿逻辑。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithRetryBackoff 设置重投前的基础等待时间，按尝试次数指数增长。
// 为 0 时立即在当前协程内重投。
func WithRetryBackoff(base time.Duration) ProcessorOption {
	return func(p *Processor) {
		if base >= 0 {
			p.backoff = base
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task-processor"),
		backoff:     defaultRetryBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	err := p.consumer.Consume(ctx, p.workerCount, p.handle)
	p.retries.Wait()
	return err
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, task)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, result, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		// 链上流程已完成，不再重投。
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		p.emitAlert(ctx, task, xerrors.CodeStorageFailure, err, "mark_succeeded")
		return err
	}
	p.observe(task, "success")
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("user", task.UserAddress),
		slog.String("safe_address", record.SafeAddress),
		slog.String("order_uid", record.OrderUID),
		slog.String("tx_hash", record.TxHash),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, partial *ExecutionResult, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	exhausted := task.Attempts >= task.MaxRetries
	terminal := exhausted || !retryable

	if !retryable && p.recovery != nil {
		recovered, recErr := p.recovery.Recover(ctx, task, partial, execErr)
		switch {
		case recErr != nil:
			p.logger.Error("执行补偿逻辑失败", slog.Any("error", recErr), slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, CodeTaskCompensate, recErr, "compensate")
		case recovered != nil:
			partial = recovered
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal, partial); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("user", task.UserAddress),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Any("metadata", xerrors.MetadataOf(execErr)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	switch {
	case !retryable:
		stage = "non_retryable"
	case exhausted:
		stage = "exhausted"
		code = CodeTaskExhausted
	}
	p.observe(task, stage)
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, task, code, execErr, stage)
	}

	if !terminal {
		return p.requeue(ctx, task)
	}
	return nil
}

// requeue 在退避时间后重新投递任务。等待在独立协程中进行，不占用消费协程。
func (p *Processor) requeue(ctx context.Context, task *Task) error {
	delay := p.retryDelay(task.Attempts)
	if delay <= 0 {
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
		return nil
	}

	p.retries.Add(1)
	go func() {
		defer p.retries.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// 任务保持 pending，重启后由队列或人工重投。
			return
		case <-timer.C:
		}
		if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
			wrapped := xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", task.ID))
			p.logger.Error("任务重投失败", slog.Any("error", wrapped), slog.String("task_id", task.ID))
			p.emitAlert(ctx, task, CodeTaskPublish, wrapped, "requeue")
			return
		}
		p.logger.Debug("任务已重新排队",
			slog.String("task_id", task.ID),
			slog.Int("attempts", task.Attempts),
			slog.Duration("delay", delay),
		)
	}()
	return nil
}

func (p *Processor) retryDelay(attempts int) time.Duration {
	if p.backoff <= 0 {
		return 0
	}
	delay := p.backoff
	for i := 1; i < attempts && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	return delay
}

func (p *Processor) observe(task *Task, outcome string) {
	if p.recorder != nil {
		p.recorder.ObserveTask(string(task.Kind), outcome)
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		for k, v := range xerrors.MetadataOf(cause) {
			metadata[k] = v
		}
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		TaskID:      task.ID,
		Kind:        string(task.Kind),
		UserAddress: task.UserAddress,
		Attempts:    task.Attempts,
		MaxRetries:  task.MaxRetries,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
