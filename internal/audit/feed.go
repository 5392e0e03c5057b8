package audit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// pollPageSize bounds one poll response; HasMore tells the client to poll
// again immediately instead of backing off.
const pollPageSize = 20

const opPoll = "audit.poll"

// PollResult is one page of the change feed.
type PollResult struct {
	Events     []Event
	ServerTime time.Time
	HasMore    bool
}

// FeedConfig describes the dependencies for the change feed.
type FeedConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Feed is the read-only cursor projection over the audit stream. Clients poll
// with the server time returned by the previous call, so client clock skew
// never accumulates into the cursor.
type Feed struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewFeed constructs a Feed.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Database == nil {
		return nil, newServiceError("audit.feed.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Feed{db: cfg.Database, clock: clock}, nil
}

// Poll returns the document's events strictly after since, in timestamp
// order. Events recorded by selfRef are excluded: the feed surfaces other
// parties' activity, and a client already knows what it did itself.
func (f *Feed) Poll(ctx context.Context, documentID string, since time.Time, selfRef string) (PollResult, error) {
	query := f.db.WithContext(ctx).
		Where("document_id = ? AND ts > ?", documentID, since).
		Order("ts ASC").
		Limit(pollPageSize)
	if selfRef != "" {
		query = query.Where("identity_ref <> ?", selfRef)
	}

	var events []Event
	if err := query.Find(&events).Error; err != nil {
		return PollResult{}, newServiceError(opPoll, "query_failed", err)
	}

	result := PollResult{
		Events:     events,
		ServerTime: f.clock().UTC(),
		HasMore:    len(events) == pollPageSize,
	}
	if result.HasMore {
		// A full page means events beyond it may already exist. Advance the
		// cursor only to the last returned event so the next poll picks up
		// the remainder instead of skipping past it.
		result.ServerTime = events[len(events)-1].Timestamp
	}
	return result, nil
}
