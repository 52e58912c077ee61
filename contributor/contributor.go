package contributor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/ceremony-coordinator/api/coordinatorapi"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDropped = errors.New("participant was dropped from the ceremony")

	errStillWaiting = errors.New("still waiting")
)

type Config struct {
	Client      *coordinatorapi.Client
	Computation interfaces.Computation

	// Seed is the contributor's secret randomness. Only its hash is reported.
	Seed []byte
	// Name is reported in the contribution info. Empty means anonymous.
	Name string

	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	HeartbeatInterval time.Duration

	Log *slog.Logger
}

// Contributor drives one participant through the ceremony: join the queue,
// wait for its round, contribute to every chunk, wait for verification and
// report its contribution info.
type Contributor struct {
	cfg    Config
	client *coordinatorapi.Client
	log    *slog.Logger

	hashes []string
}

func New(cfg Config) *Contributor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = 30 * cfg.PollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Contributor{
		cfg:    cfg,
		client: cfg.Client,
		log:    cfg.Log.With("participant", cryptoutils.PrettyHash(cfg.Client.Key.PublicKey)),
	}
}

// Run takes part in the ceremony and returns the contribution info it posted.
// Heartbeats are sent from joining the queue until the contribution is
// verified.
func (c *Contributor) Run(ctx context.Context) (*interfaces.ContributionInfo, error) {
	joinedAt := time.Now().UTC()
	if err := c.join(ctx); err != nil {
		return nil, err
	}

	var info *interfaces.ContributionInfo
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		c.heartbeat(gctx, done)
		return nil
	})
	g.Go(func() (err error) {
		defer close(done)
		info, err = c.participate(gctx, joinedAt)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := c.client.PostContributionInfo(ctx, info); err != nil {
		return nil, fmt.Errorf("could not post contribution info: %w", err)
	}
	return info, nil
}

// participate waits in the queue, contributes during the participant's round
// and waits for the round's verification.
func (c *Contributor) participate(ctx context.Context, joinedAt time.Time) (*interfaces.ContributionInfo, error) {
	status, err := c.waitWhile(ctx, interfaces.ContributorQueue)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	if status == interfaces.ContributorRound {
		if err := c.contributeAll(ctx); err != nil {
			return nil, err
		}
		if _, err := c.waitWhile(ctx, interfaces.ContributorRound); err != nil {
			return nil, err
		}
	}
	finishedAt := time.Now().UTC()
	c.log.Info("Contribution verified")

	return c.contributionInfo(joinedAt, startedAt, finishedAt)
}

func (c *Contributor) join(ctx context.Context) error {
	status, err := c.client.JoinQueue(ctx)
	if IsConflict(err) {
		c.log.Info("Already joined, resuming")
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not join queue: %w", err)
	}
	c.log.Info("Joined queue", "status", status.Status, "position", status.QueuePosition, "size", status.QueueSize)
	return nil
}

// waitWhile polls the queue status until it differs from kind.
func (c *Contributor) waitWhile(ctx context.Context, kind interfaces.ContributorStatusKind) (interfaces.ContributorStatusKind, error) {
	return retry.DoValue(ctx, c.backoff(), func(ctx context.Context) (interfaces.ContributorStatusKind, error) {
		status, err := c.client.QueueStatus(ctx)
		if err != nil {
			return "", retry.RetryableError(err)
		}
		switch status.Status {
		case kind:
			c.log.Debug("Waiting", "status", status.Status, "position", status.QueuePosition, "size", status.QueueSize)
			return "", retry.RetryableError(errStillWaiting)
		case interfaces.ContributorOther:
			return "", ErrDropped
		default:
			return status.Status, nil
		}
	})
}

// heartbeat keeps the participant alive until done is closed.
func (c *Contributor) heartbeat(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.client.Heartbeat(ctx); err != nil {
				c.log.Warn("Heartbeat failed", "err", err)
			}
		}
	}
}

func (c *Contributor) contributeAll(ctx context.Context) error {
	for {
		finished, err := c.contributeNext(ctx)
		if err != nil || finished {
			return err
		}
	}
}

// contributeNext contributes to the chunk of the next pending task. It
// reports true once no task is left.
func (c *Contributor) contributeNext(ctx context.Context) (bool, error) {
	tasks, err := c.client.TasksLeft(ctx)
	if err != nil {
		return false, fmt.Errorf("could not list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return true, nil
	}

	locked, err := retry.DoValue(ctx, c.backoff(), func(ctx context.Context) (*interfaces.LockedLocators, error) {
		locked, err := c.client.LockChunk(ctx)
		if IsConflict(err) {
			c.log.Debug("Chunk not available yet", "err", err)
			return nil, retry.RetryableError(err)
		}
		return locked, err
	})
	if err != nil {
		return false, fmt.Errorf("could not lock chunk: %w", err)
	}

	challenge, err := c.client.Challenge(ctx, locked)
	if err != nil {
		return false, fmt.Errorf("could not download challenge: %w", err)
	}
	response, err := c.cfg.Computation.Contribute(challenge, c.cfg.Seed)
	if err != nil {
		return false, fmt.Errorf("could not compute contribution: %w", err)
	}
	upload, err := c.client.NewPostChunkRequest(locked, challenge, response)
	if err != nil {
		return false, err
	}
	if err := c.client.UploadChunk(ctx, upload); err != nil {
		return false, fmt.Errorf("could not upload contribution: %w", err)
	}

	c.hashes = append(c.hashes, upload.ContributionFileSignature.State.ResponseHash)
	c.log.Info("Uploaded contribution",
		slog.Uint64("chunk", locked.NextContribution.ChunkID),
		slog.Uint64("contribution", locked.NextContribution.ContributionID),
		"hash", cryptoutils.PrettyHash(upload.ContributionFileSignature.State.ResponseHash))
	return false, nil
}

func (c *Contributor) contributionInfo(joinedAt, startedAt, finishedAt time.Time) (*interfaces.ContributionInfo, error) {
	info := &interfaces.ContributionInfo{
		PublicKey:            c.client.Key.PublicKey,
		ContributorName:      c.cfg.Name,
		IsAnonymous:          c.cfg.Name == "",
		JoinedQueueTime:      &joinedAt,
		StartedContributing:  &startedAt,
		FinishedContributing: &finishedAt,
		Seed:                 cryptoutils.TranscriptHashHex(c.cfg.Seed),
		ContributionHashes:   c.hashes,
	}
	if len(c.hashes) > 0 {
		message, err := json.Marshal(c.hashes)
		if err != nil {
			return nil, err
		}
		info.ContributionHashSig, err = c.client.Scheme.Sign(c.client.Key, message)
		if err != nil {
			return nil, fmt.Errorf("could not sign contribution hashes: %w", err)
		}
	}
	return info, nil
}

func (c *Contributor) backoff() retry.Backoff {
	return retry.WithCappedDuration(c.cfg.MaxPollInterval, retry.NewExponential(c.cfg.PollInterval))
}

// IsConflict reports whether err is a 409 from the coordinator.
func IsConflict(err error) bool {
	var statusErr *coordinatorapi.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict
}
