package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"SafeSwap-Chain/internal/api"
	"SafeSwap-Chain/internal/auth"
	"SafeSwap-Chain/internal/config"
	"SafeSwap-Chain/internal/cow"
	"SafeSwap-Chain/internal/observability/alerting"
	"SafeSwap-Chain/internal/observability/metrics"
	"SafeSwap-Chain/internal/safe"
	"SafeSwap-Chain/internal/task"
	"SafeSwap-Chain/internal/web3"
	"SafeSwap-Chain/internal/web3/provider"
	"SafeSwap-Chain/internal/workflow"
	"SafeSwap-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// main 是 SafeSwap 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("safeswapd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SAFESWAP_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "safeswap.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("safeswapd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	signer, err := safe.NewSigner(cfg.Agent.PrivateKey)
	if err != nil {
		return fmt.Errorf("加载代理签名账户失败: %w", err)
	}
	if want := strings.TrimSpace(cfg.Agent.Address); want != "" {
		if !common.IsHexAddress(want) || common.HexToAddress(want) != signer.Address() {
			return fmt.Errorf("agent.address %s 与私钥地址 %s 不一致", want, signer.Address().Hex())
		}
	}

	// 链不可用时服务照常启动，各流程返回 CHAIN_UNAVAILABLE。
	var chain web3.Client
	var chainDef web3.ChainDefinition
	chainName := cfg.Web3.DefaultChain
	registry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		lg.Warn("链客户端不可用", slog.Any("error", err))
	} else {
		defer registry.Close()
		if chain, err = registry.DefaultClient(); err != nil {
			return err
		}
		chainName, chainDef = registry.DefaultChain()
		if chainDef.ChainID == 0 {
			id, err := chain.ChainID(ctx)
			if err != nil {
				lg.Warn("读取链 ID 失败", slog.Any("error", err))
			} else {
				chainDef.ChainID = id.Int64()
			}
		}
	}

	deployment, err := safe.DeploymentFor(chainDef.Safe, cfg.Safe.L2)
	if err != nil {
		return err
	}

	res := &resources{cfg: cfg}
	defer res.Close()

	accounts, err := res.accountStore(ctx)
	if err != nil {
		return err
	}
	defer accounts.Close()
	locker, err := res.locker(ctx)
	if err != nil {
		return err
	}

	m := metrics.New()

	var trading *cow.TradingSDK
	if chain != nil {
		if trading, err = buildTrading(cfg, chainDef, chain); err != nil {
			return err
		}
	}

	swap, err := swapSettings(cfg.Swap)
	if err != nil {
		return err
	}

	network := workflow.Network{
		Name:        firstNonEmpty(chainDef.Network, chainName),
		ChainID:     chainDef.ChainID,
		NativeToken: firstNonEmpty(chainDef.NativeToken, "ETH"),
		ShortName:   chainDef.ShortName,
	}
	wallet, err := workflow.NewService(workflow.Config{
		Chain:      chain,
		Network:    network,
		Deployment: deployment,
		Signer:     signer,
		Trading:    trading,
		Accounts:   accounts,
		Locker:     locker,
		Swap:       swap,
		SaltMode:   workflow.SaltMode(cfg.Safe.SaltMode),
		Recorder:   m,
	})
	if err != nil {
		return err
	}

	taskStore, err := res.taskStore(ctx)
	if err != nil {
		return err
	}
	taskQueue, err := res.taskQueue(ctx)
	if err != nil {
		return err
	}
	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	defer func() {
		if err := taskService.Close(); err != nil {
			lg.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithAlertDispatcher(alertDispatcher(cfg.Observability.Alerting)),
		task.WithRecorder(m),
		task.WithRetryBackoff(time.Duration(cfg.TaskQueue.RetryBackoffMillis) * time.Millisecond),
	}
	if trading != nil {
		processorOpts = append(processorOpts, task.WithRecoveryHandler(task.NewOrderRecovery(trading.Orderbook())))
	}
	processor := task.NewProcessor(task.NewWorkflowExecutor(wallet), taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	authService, err := auth.NewService(auth.Config{
		Mode:      auth.Mode(cfg.Auth.Mode),
		Audience:  cfg.Auth.Audience,
		ClockSkew: time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if authService.Mode() == auth.ModeDisabled {
		lg.Warn("身份认证已关闭，调用者身份取自 " + auth.WalletHeader)
	}

	opts := []api.Option{
		api.WithTasks(taskService),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(cfg.Observability.Metrics.Path, m.Handler(), m))
	}
	server := api.NewServer(cfg.Server.Address, wallet, authService, opts...)

	lg.Info("safeswapd 已就绪",
		slog.String("network", network.Name),
		slog.Int64("chain_id", network.ChainID),
		slog.String("agent", signer.Address().Hex()),
		slog.String("safe_factory", deployment.ProxyFactory.Hex()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildTrading(cfg *config.Config, def web3.ChainDefinition, chain web3.Client) (*cow.TradingSDK, error) {
	baseURL := firstNonEmpty(cfg.Swap.OrderbookURL, def.CoW.OrderbookURL)
	if baseURL == "" {
		url, err := cow.BaseURLForChain(def.ChainID)
		if err != nil {
			return nil, err
		}
		baseURL = url
	}
	client, err := cow.NewClient(baseURL,
		cow.WithHTTPClient(&http.Client{Timeout: cfg.Swap.Timeout()}),
		cow.WithRateLimit(cfg.Swap.RequestsPerSecond, 1),
	)
	if err != nil {
		return nil, err
	}
	var opts []cow.SDKOption
	if s := strings.TrimSpace(def.CoW.Settlement); s != "" {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("cow.settlement 不是合法地址: %q", s)
		}
		opts = append(opts, cow.WithSettlement(common.HexToAddress(s)))
	}
	return cow.NewTradingSDK(client, chain, cfg.Swap.AppCode, opts...)
}

func swapSettings(cfg config.SwapConfig) (workflow.SwapSettings, error) {
	for field, value := range map[string]string{"swap.sell_token": cfg.SellToken, "swap.buy_token": cfg.BuyToken} {
		if !common.IsHexAddress(value) {
			return workflow.SwapSettings{}, fmt.Errorf("%s 不是合法地址: %q", field, value)
		}
	}
	return workflow.SwapSettings{
		SellToken:         common.HexToAddress(cfg.SellToken),
		SellTokenDecimals: cfg.SellTokenDecimals,
		BuyToken:          common.HexToAddress(cfg.BuyToken),
		BuyTokenDecimals:  cfg.BuyTokenDecimals,
		Amount:            cfg.Amount,
		SlippageBps:       cfg.SlippageBps,
		ValidFor:          time.Duration(cfg.ValidForSeconds) * time.Second,
	}, nil
}

func alertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if hook := alerting.NewWebhookNotifier(cfg.WebhookURL, time.Duration(cfg.TimeoutSeconds)*time.Second); hook != nil {
		notifiers = append(notifiers, hook)
	}
	return alerting.NewFanout(notifiers...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
