package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

// Event pages default to 100 and never exceed 1000.
const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// PullArgs cursors through the event log. Since is the last event ID
// the caller has seen; zero starts from the beginning.
type PullArgs struct {
	Since int64    `json:"since"`
	Limit int      `json:"limit"`
	Types []string `json:"types,omitempty"`
}

// PullResult is the events.pull payload. NextCursor is the ID of the
// last event returned, or Since unchanged when the page is empty, so
// the loop `since = next_cursor; pull(since)` terminates cleanly and
// never skips or repeats an event. LogTail is the last committed event
// ID at pull time; a pager is caught up when NextCursor reaches it.
type PullResult struct {
	Events     []*storage.Event `json:"events"`
	NextCursor int64            `json:"next_cursor"`
	Count      int              `json:"count"`
	LogTail    int64            `json:"log_tail"`
}

// PullEvents pages the append-only log in commit order.
func (e *Engine) PullEvents(ctx context.Context, args PullArgs) (*PullResult, error) {
	if args.Since < 0 {
		return nil, protocol.Invalid("since", "must be zero or a previously returned cursor")
	}
	for _, t := range args.Types {
		if !storage.ValidEventType(t) {
			return nil, protocol.Invalid("types",
				fmt.Sprintf("unknown event type %q; known types: %s",
					t, strings.Join(storage.EventTypes, ", ")))
		}
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := e.runtime.PullEvents(ctx, args.Since, limit, args.Types)
	if err != nil {
		return nil, err
	}
	tail, err := e.runtime.LastEventID(ctx)
	if err != nil {
		return nil, err
	}
	next := args.Since
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return &PullResult{Events: events, NextCursor: next, Count: len(events), LogTail: tail}, nil
}
