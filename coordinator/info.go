package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// PostContributionInfo stores the participant's self-reported contribution
// details and appends their public part to the contributions summary.
// Only current and finished participants may post.
func (c *Coordinator) PostContributionInfo(ctx context.Context, id string, info interfaces.ContributionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	p, ok := c.registry.Get(id)
	if !ok {
		return interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	if p.Status != interfaces.StatusCurrent && p.Status != interfaces.StatusFinished {
		return interfaces.Errorf(interfaces.KindAuthorization, "participant is %s", p.Status)
	}
	if info.PublicKey != id {
		return interfaces.Errorf(interfaces.KindAuthorization, "contribution info is for %s", info.PublicKey)
	}
	info.RoundHeight = p.RoundHeight

	encoded, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := c.pipeline.write(ctx, interfaces.ContributionInfoLocator(p.RoundHeight, id), encoded); err != nil {
		return err
	}

	summary, err := c.readSummary(ctx)
	if err != nil {
		return err
	}
	summary = append(summary, info.Trim())
	encoded, err = json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.pipeline.write(ctx, interfaces.ContributionsSummaryLocator(), encoded)
}

// ContributionsSummary returns the public summary of posted contribution infos.
func (c *Coordinator) ContributionsSummary(ctx context.Context) ([]interfaces.TrimmedContributionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkRunning(); err != nil {
		return nil, err
	}
	return c.readSummary(ctx)
}

func (c *Coordinator) readSummary(ctx context.Context) ([]interfaces.TrimmedContributionInfo, error) {
	encoded, err := c.pipeline.read(ctx, interfaces.ContributionsSummaryLocator())
	if errors.Is(err, interfaces.ErrNotFound) {
		return []interfaces.TrimmedContributionInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	var summary []interfaces.TrimmedContributionInfo
	if err := json.Unmarshal(encoded, &summary); err != nil {
		return nil, fmt.Errorf("could not decode contributions summary: %w", err)
	}
	return summary, nil
}
