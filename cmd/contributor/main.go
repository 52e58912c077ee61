package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/ceremony-coordinator/api/coordinatorapi"
	"github.com/ruteri/ceremony-coordinator/cmd/flags"
	"github.com/ruteri/ceremony-coordinator/computation"
	"github.com/ruteri/ceremony-coordinator/contributor"
	"github.com/ruteri/ceremony-coordinator/coordinator"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/storage"
	"github.com/urfave/cli/v2"
)

var flagScheme = &cli.StringFlag{
	Name:  "scheme",
	Value: cryptoutils.SchemeSecp256k1,
	Usage: "signature scheme: secp256k1 or bls12381",
}
var flagOut = &cli.StringFlag{
	Name:     "out",
	Required: true,
	Usage:    "where to store the key: a file path, file:// or vault:// URI",
}
var flagEnvironment = &cli.StringFlag{
	Name:  "environment",
	Usage: "ceremony environment YAML file published by the coordinator, defaults are used if empty",
}
var flagName = &cli.StringFlag{
	Name:  "name",
	Usage: "name to publish with the contribution, anonymous if empty",
}
var flagPollInterval = &cli.DurationFlag{
	Name:  "poll-interval",
	Value: 2 * time.Second,
	Usage: "initial interval between status polls",
}
var flagIPFS = &cli.StringFlag{
	Name:  "ipfs",
	Value: "127.0.0.1:5001",
	Usage: "IPFS API address",
}
var flagCID = &cli.StringFlag{
	Name:     "cid",
	Required: true,
	Usage:    "CID of a published transcript",
}
var flagFile = &cli.StringFlag{
	Name:     "file",
	Required: true,
	Usage:    "output file",
}

func main() {
	app := &cli.App{
		Name:  "ceremony-contributor",
		Usage: "Take part in a multi-party setup ceremony",
		Flags: append([]cli.Flag{
			flags.LogServiceFlagFn("ceremony-contributor"),
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:   "generate-key",
				Usage:  "Generate a participant key",
				Flags:  []cli.Flag{flagScheme, flagOut},
				Action: generateKey,
			},
			{
				Name:  "contribute",
				Usage: "Join the queue and contribute to every chunk when the round starts",
				Flags: []cli.Flag{
					flags.CoordinatorAddrFlag,
					flags.KeyFileFlag,
					flagEnvironment,
					flagName,
					flagPollInterval,
				},
				Action: contribute,
			},
			{
				Name:   "status",
				Usage:  "Print the participant's queue status",
				Flags:  []cli.Flag{flags.CoordinatorAddrFlag, flags.KeyFileFlag},
				Action: status,
			},
			{
				Name:   "info",
				Usage:  "Print the public summary of contributions",
				Flags:  []cli.Flag{flags.CoordinatorAddrFlag, flags.KeyFileFlag},
				Action: summary,
			},
			{
				Name:  "maintain",
				Usage: "Trigger coordinator maintenance, requires the coordinator verifier key",
				Flags: []cli.Flag{flags.CoordinatorAddrFlag, flags.KeyFileFlag},
				Subcommands: []*cli.Command{
					{Name: "update", Action: maintain(func(ctx context.Context, c *coordinatorapi.Client) error { return c.Update(ctx) })},
					{Name: "verify", Action: maintain(func(ctx context.Context, c *coordinatorapi.Client) error { return c.Verify(ctx) })},
					{Name: "stop", Action: maintain(func(ctx context.Context, c *coordinatorapi.Client) error { return c.Stop(ctx) })},
				},
			},
			{
				Name:   "fetch-transcript",
				Usage:  "Download a published round transcript from IPFS",
				Flags:  []cli.Flag{flagIPFS, flagCID, flagFile},
				Action: fetchTranscript,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func generateKey(cCtx *cli.Context) error {
	scheme, err := cryptoutils.NewSignatureScheme(cCtx.String(flagScheme.Name))
	if err != nil {
		return err
	}
	key, err := scheme.GenerateKey()
	if err != nil {
		return err
	}
	if err := cryptoutils.StoreKeyPair(cCtx.Context, cCtx.String(flagOut.Name), key); err != nil {
		return err
	}
	fmt.Println(key.PublicKey)
	return nil
}

func newClient(cCtx *cli.Context) (*coordinatorapi.Client, error) {
	key, err := cryptoutils.LoadKeyPair(cCtx.Context, cCtx.String(flags.KeyFileFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("could not load key: %w", err)
	}
	return coordinatorapi.NewClient(cCtx.String(flags.CoordinatorAddrFlag.Name), key)
}

func contribute(cCtx *cli.Context) error {
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
	comp, err := computation.New(env.Curve, env.PowersPerChunk)
	if err != nil {
		return err
	}
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}

	info, err := contributor.New(contributor.Config{
		Client:            client,
		Computation:       comp,
		Seed:              seed,
		Name:              cCtx.String(flagName.Name),
		PollInterval:      cCtx.Duration(flagPollInterval.Name),
		MaxPollInterval:   time.Minute,
		HeartbeatInterval: env.SeenTimeout / 4,
		Log:               logger,
	}).Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func status(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	status, err := client.QueueStatus(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func summary(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	summary, err := client.ContributionsSummary(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func maintain(fn func(context.Context, *coordinatorapi.Client) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		client, err := newClient(cCtx)
		if err != nil {
			return err
		}
		return fn(cCtx.Context, client)
	}
}

func fetchTranscript(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ipfs, err := storage.NewIPFSPublisher(cCtx.String(flagIPFS.Name), logger)
	if err != nil {
		return err
	}
	data, err := ipfs.Fetch(cCtx.Context, cCtx.String(flagCID.Name))
	if err != nil {
		return err
	}
	return os.WriteFile(cCtx.String(flagFile.Name), data, 0644)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
