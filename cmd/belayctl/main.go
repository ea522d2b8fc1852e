package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/belay-dotnet/belay-go/internal/cache"
	"github.com/belay-dotnet/belay-go/internal/config"
	"github.com/belay-dotnet/belay-go/internal/device"
	"github.com/belay-dotnet/belay-go/internal/executor"
	"github.com/belay-dotnet/belay-go/internal/logging"
	"github.com/belay-dotnet/belay-go/internal/protocol"
	"github.com/belay-dotnet/belay-go/internal/session"
	"github.com/belay-dotnet/belay-go/internal/transport"
)

func main() {
	logging.ConfigureRuntime()
	os.Exit(run())
}

// run is the body of main; an explicit exit code keeps the deferred
// cache/dispatcher/transport teardown running on every path.
func run() int {
	if len(os.Args) < 2 {
		log.Error().Msg("usage: belayctl <code> [config.toml]")
		return 2
	}
	code := os.Args[1]
	configPath := "belay.toml"
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		log.Debug().Str("path", configPath).Msg("no config file, using defaults")
	} else if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}

	ctx := context.Background()
	tr, err := transport.StartPipe(ctx, cfg.Device.Binary, cfg.Device.Args...)
	if err != nil {
		log.Error().Err(err).Msg("failed to start device")
		return 1
	}
	defer tr.Close()
	tr.DrainStartup(500 * time.Millisecond)

	engine := protocol.NewEngine(tr, cfg.EngineSettings())
	sess := session.New(engine)

	prober := device.NewReplProber(func(ctx context.Context, code string) (string, error) {
		result, err := sess.ExecuteSerialized(ctx, protocol.ExecutionRequest{Code: code})
		if err != nil {
			return "", err
		}
		if result.IsError {
			return "", &protocol.DeviceError{Traceback: result.ErrorMessage}
		}
		return result.Output, nil
	})
	info, err := prober.Probe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("device probe failed")
		return 1
	}
	log.Info().Str("session", sess.ID).
		Str("device", info.DeviceType).
		Str("firmware", info.FirmwareVersion).
		Msg("connected")

	var store cache.Storage
	if cfg.Cache.Dir != "" {
		fileStore, err := cache.NewFileStore(cfg.Cache.Dir, cfg.CacheSettings().MaxAge)
		if err != nil {
			log.Error().Err(err).Msg("failed to open cache store")
			return 1
		}
		store = fileStore
	}
	deployed := cache.New(cfg.CacheSettings(), store)
	deployed.Start()
	defer deployed.Stop()

	registry := executor.NewRegistry()
	if err := registry.Register(executor.Method{
		Name:      "collect_garbage",
		Signature: "collect_garbage()",
		Role:      executor.RoleTeardown,
		Generate: func(args ...any) (string, error) {
			return "import gc\ngc.collect()", nil
		},
	}); err != nil {
		log.Error().Err(err).Msg("failed to register methods")
		return 1
	}

	dispatcher := executor.NewDispatcher(sess, deployed, registry, info)
	defer dispatcher.Close(ctx)

	result, err := sess.ExecuteSerialized(ctx, protocol.ExecutionRequest{Code: code})
	if err != nil {
		log.Error().Err(err).Msg("execution failed")
		return 1
	}
	if result.IsError {
		fmt.Fprint(os.Stderr, result.ErrorMessage)
		return 1
	}
	fmt.Println(result.Output)
	return 0
}
