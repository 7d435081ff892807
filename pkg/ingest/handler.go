package ingest

import "context"

// ChangeFeedHandler adapts the controller to changefeed.Handler: when a row
// is inserted into raw_ncpdp_claims, process it immediately instead of
// waiting for the next scheduled sweep. The scheduled "process pending"
// task still exists as a catch-all for rows this handler's batch-level
// checkpoint failed to advance past.
func (c *Controller) ChangeFeedHandler(ctx context.Context, rowID string) error {
	c.ProcessOne(ctx, rowID)
	return nil
}
