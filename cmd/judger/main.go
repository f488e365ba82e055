package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gavel/internal/common/mq"
	"gavel/internal/common/storage"
	"gavel/internal/judger/blobcache"
	"gavel/internal/judger/client"
	"gavel/internal/judger/config"
	"gavel/internal/judger/pipeline"
	"gavel/internal/judger/sandbox"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judger.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := sandbox.New(ctx, sandbox.Config{
		Backend:     cfg.Sandbox.Backend,
		IsolatePath: cfg.Sandbox.IsolatePath,
	})
	if err != nil {
		logger.Error(ctx, "init sandbox failed", zap.Error(err))
		return
	}
	logger.Info(ctx, "sandbox backend selected", zap.String("backend", runner.Name()))

	blobStore, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error(ctx, "init blob storage failed", zap.Error(err))
		return
	}
	cache, err := blobcache.New(cfg.Cache.Dir, cfg.Cache.MaxSizeMB*1024*1024, blobStore)
	if err != nil {
		logger.Error(ctx, "init blob cache failed", zap.Error(err))
		return
	}

	var pipelineOpts []pipeline.Option
	if len(cfg.Languages) > 0 {
		overrides := make(map[string]pipeline.ProfileOverride, len(cfg.Languages))
		for id, lang := range cfg.Languages {
			overrides[id] = pipeline.ProfileOverride{
				SourceFile:       lang.SourceFile,
				BinaryFile:       lang.BinaryFile,
				CompileCmd:       lang.CompileCmd,
				RunCmd:           lang.RunCmd,
				Env:              lang.Env,
				TimeMultiplier:   lang.TimeMultiplier,
				MemoryMultiplier: lang.MemoryMultiplier,
			}
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithProfileOverrides(overrides))
	}
	judgePipeline := pipeline.New(runner, cache, cfg.Sandbox.WorkDir, pipelineOpts...)

	transport, err := buildTransport(cfg)
	if err != nil {
		logger.Error(ctx, "init transport failed", zap.Error(err))
		return
	}
	defer func() {
		_ = transport.Close()
	}()

	judgeClient := client.New(transport, judgePipeline, client.WithIntervals(
		cfg.Coordinator.HeartbeatInterval(),
		cfg.Coordinator.PollInterval(),
		cfg.Coordinator.ReconnectBackoff(),
	))

	logger.Info(ctx, "judger starting",
		zap.String("node_id", cfg.Coordinator.NodeID),
		zap.String("transport", cfg.Coordinator.Transport),
	)
	if err := judgeClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "judger stopped", zap.Error(err))
		return
	}
	logger.Info(ctx, "judger stopped")
}

func buildTransport(cfg *config.Config) (client.Transport, error) {
	httpTransport := client.NewHTTPTransport(
		cfg.Coordinator.URL,
		cfg.Coordinator.NodeID,
		cfg.Coordinator.Secret,
	)
	if cfg.Coordinator.Transport == "http" {
		return httpTransport, nil
	}

	mqClient, err := mq.NewKafkaQueue(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		return nil, err
	}
	group := cfg.Kafka.ConsumerGroup
	if group == "" {
		group = "gavel-judgers"
	}
	return client.NewKafkaTransport(client.KafkaTransportConfig{
		Control:       httpTransport,
		Queue:         mqClient,
		TaskTopic:     cfg.Kafka.TaskTopic,
		ResultTopic:   cfg.Kafka.ResultTopic,
		ConsumerGroup: group,
		NodeID:        cfg.Coordinator.NodeID,
	}), nil
}
