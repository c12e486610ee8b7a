package correction

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// compared lists the tiers evaluated in comparison mode.
var compared = []Strategy{Conservative, Balanced, FewShot}

// compareAll runs every tier concurrently, logs each outcome next to the raw
// text and returns the outcome for selected.
func (c *Corrector) compareAll(ctx context.Context, text string, selected Strategy) Outcome {
	results := make([]Outcome, len(compared))

	var g errgroup.Group
	for i, s := range compared {
		g.Go(func() error {
			results[i] = c.Apply(ctx, text, s)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range compared {
		c.log.Info("correction: strategy comparison",
			"strategy", s.String(),
			"selected", s == selected,
			"applied", results[i].Strategy != None,
			"raw", text,
			"text", results[i].Text,
		)
	}

	for i, s := range compared {
		if s == selected {
			return results[i]
		}
	}
	return Outcome{Text: text, Strategy: None}
}
