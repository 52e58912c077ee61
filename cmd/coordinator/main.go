package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/ceremony-coordinator/api/auth"
	"github.com/ruteri/ceremony-coordinator/api/coordinatorapi"
	"github.com/ruteri/ceremony-coordinator/cmd/flags"
	"github.com/ruteri/ceremony-coordinator/common"
	"github.com/ruteri/ceremony-coordinator/computation"
	"github.com/ruteri/ceremony-coordinator/coordinator"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/httpserver"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/ruteri/ceremony-coordinator/metrics"
	"github.com/ruteri/ceremony-coordinator/storage"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var flagEnvironment = &cli.StringFlag{
	Name:  "environment",
	Usage: "ceremony environment YAML file, defaults are used if empty",
}
var flagStorage = &cli.StringFlag{
	Name:  "storage",
	Value: "file:///var/lib/ceremony",
	Usage: "storage URI: file://, pebble:// or s3://, append ?compress=zstd to compress transcripts",
}
var flagMirror = &cli.StringSliceFlag{
	Name:  "mirror",
	Usage: "additional storage URI every write is replicated to, can be repeated",
}
var flagVerifierKey = &cli.StringFlag{
	Name:     "verifier-key",
	Required: true,
	Usage:    "coordinator verifier key source: a key file path, file:// or vault:// URI",
	EnvVars:  []string{"CEREMONY_VERIFIER_KEY"},
}
var flagPublishIPFS = &cli.StringFlag{
	Name:  "publish-ipfs",
	Usage: "IPFS API address final round transcripts are published to",
}
var flagUpdateInterval = &cli.DurationFlag{
	Name:  "update-interval",
	Value: 10 * time.Second,
	Usage: "interval between maintenance passes",
}
var flagWorkers = &cli.IntFlag{
	Name:  "workers",
	Value: 4,
	Usage: "workers for storage and verification",
}

func main() {
	app := &cli.App{
		Name:  "ceremony-coordinator",
		Usage: "Coordinate a multi-party setup ceremony",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagEnvironment,
			flagStorage,
			flagMirror,
			flagVerifierKey,
			flagPublishIPFS,
			flagUpdateInterval,
			flagWorkers,
			flags.LogServiceFlagFn("ceremony-coordinator"),
		}, flags.CommonFlags...),
		Action: runCoordinator,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCoordinator(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := coordinator.DefaultEnvironment()
	if path := cCtx.String(flagEnvironment.Name); path != "" {
		var err error
		env, err = coordinator.LoadEnvironment(path)
		if err != nil {
			return err
		}
	}
	if err := env.Validate(); err != nil {
		return err
	}

	verifierKey, err := cryptoutils.LoadKeyPair(ctx, cCtx.String(flagVerifierKey.Name))
	if err != nil {
		return fmt.Errorf("could not load verifier key: %w", err)
	}
	scheme, err := cryptoutils.NewSignatureScheme(env.SignatureScheme)
	if err != nil {
		return err
	}

	backend, err := openStorage(cCtx, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	comp, err := computation.New(env.Curve, env.PowersPerChunk)
	if err != nil {
		return err
	}

	var publisher interfaces.TranscriptPublisher
	if addr := cCtx.String(flagPublishIPFS.Name); addr != "" {
		ipfs, err := storage.NewIPFSPublisher(addr, logger)
		if err != nil {
			return err
		}
		if !ipfs.Available(ctx) {
			logger.Warn("IPFS node is not reachable, publication will be retried at round end", "address", addr)
		}
		publisher = ipfs
	}

	ceremonyMetrics := metrics.NewCeremonyMetrics(common.PackageName)
	coord, err := coordinator.New(ctx, coordinator.Config{
		Environment: env,
		Storage:     backend,
		Computation: comp,
		VerifierKey: verifierKey,
		Publisher:   publisher,
		Metrics:     ceremonyMetrics,
		Workers:     cCtx.Int(flagWorkers.Name),
		Log:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not start coordinator: %w", err)
	}
	logger.Info("Coordinator started",
		"curve", env.Curve,
		"chunks", env.NumberOfChunks,
		"round", coord.RoundHeight(),
		"verifier", cryptoutils.PrettyHash(coord.Verifier()),
		"storage", backend.LocationURI())

	authenticator := auth.NewRequestAuthenticator(scheme, coord.Verifier(), logger)
	handler := coordinatorapi.NewHandler(coord, authenticator, stop, logger)

	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name)), handler)
	if err != nil {
		return err
	}
	if err := ceremonyMetrics.Register(srv.MetricsRegisterer()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return coord.RunMaintenance(gctx, cCtx.Duration(flagUpdateInterval.Name))
	})
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to persist coordinator state", "err", err)
		return err
	}
	logger.Info("Coordinator stopped")
	return runErr
}

func openStorage(cCtx *cli.Context, logger *slog.Logger) (interfaces.ChunkStorage, error) {
	uris := append([]string{cCtx.String(flagStorage.Name)}, cCtx.StringSlice(flagMirror.Name)...)
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	factory := storage.NewStorageBackendFactory(logger)
	if len(locations) == 1 {
		return factory.StorageBackendFor(locations[0])
	}
	return factory.CreateMirroredBackend(locations)
}
