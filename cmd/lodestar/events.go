package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/logging"
	"github.com/lodestar-dev/lodestar/internal/paths"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the append-only event log",
}

var eventsPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Page events after a cursor",
	Long: `Pull events in commit order. Feed next_cursor back as --since to page;
an empty page returns the cursor unchanged, so the loop terminates
without skipping or repeating anything.`,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetInt64("since")
		limit, _ := cmd.Flags().GetInt("limit")
		types, _ := cmd.Flags().GetStringSlice("type")
		run(cmd, protocol.OpEventsPull, map[string]any{
			"since": since,
			"limit": limit,
			"types": types,
		}, func(env *protocol.Envelope) {
			res, ok := env.Data.(*engine.PullResult)
			if !ok {
				printJSON(env)
				return
			}
			renderEvents(res.Events)
			cursorLine := fmt.Sprintf("cursor: %d", res.NextCursor)
			// With a type filter the cursor stalls on the last match, so
			// raw log distance says nothing about what is left to pull.
			if len(types) == 0 {
				if behind := res.LogTail - res.NextCursor; behind > 0 {
					cursorLine += fmt.Sprintf(" (%d behind)", behind)
				} else {
					cursorLine += " (caught up)"
				}
			}
			fmt.Println(ui.RenderMuted(cursorLine))
		})
	},
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the event log live",
	Long: `Tail the event log. New events print as they commit; in --json mode
each event is one JSON line, ready for a pipe. Starts at the current
tail unless --since or --replay rewinds it. Stop with Ctrl-C.

Watching uses filesystem notifications on the runtime database and
falls back to polling when the platform cannot deliver them.`,
	Run: func(cmd *cobra.Command, args []string) {
		if introspect(cmd, protocol.OpEventsPull) {
			return
		}
		since, _ := cmd.Flags().GetInt64("since")
		replay, _ := cmd.Flags().GetBool("replay")
		types, _ := cmd.Flags().GetStringSlice("type")

		if !replay && !cmd.Flags().Changed("since") {
			since = currentEventTail()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := watchEvents(ctx, since, types); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderError("✗"), err)
			exit(1)
		}
	},
}

// currentEventTail asks status for the last committed event ID so the
// watch starts at "now". Zero on any failure: replaying from the start
// beats silently dropping events.
func currentEventTail() int64 {
	env := dispatchOp(protocol.OpRepoStatus, nil)
	if !env.OK {
		return 0
	}
	if res, ok := env.Data.(*engine.StatusResult); ok {
		return res.LastEventID
	}
	return 0
}

// watchEvents drains everything after cursor, then blocks on runtime
// database changes and drains again on each one. fsnotify delivers the
// wakeups; when it cannot, a poll ticker does.
func watchEvents(ctx context.Context, cursor int64, types []string) error {
	cursor, err := drainEvents(cursor, types)
	if err != nil {
		return err
	}

	root, err := paths.Find(workDir())
	if err != nil {
		return err
	}

	poll := config.GetDuration("watch.poll-interval")
	debounce := config.GetDuration("watch.debounce")

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		// The runtime database and its WAL sidecars live in the anchor
		// dir; watching the dir also catches the first create.
		werr = watcher.Add(root.LodestarDir)
	}
	if werr != nil {
		if watcher != nil {
			watcher.Close()
		}
		fmt.Fprintf(os.Stderr, "Warning: filesystem watch unavailable (%v), polling every %v\n", werr, poll)
		return pollEvents(ctx, cursor, types, poll)
	}
	defer watcher.Close()

	runtimeBase := filepath.Base(root.RuntimePath())
	dirty := false
	tick := time.NewTicker(debounce)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return pollEvents(ctx, cursor, types, poll)
			}
			if strings.HasPrefix(filepath.Base(ev.Name), runtimeBase) {
				dirty = true
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return pollEvents(ctx, cursor, types, poll)
			}
			logging.Logf("watch: %v", werr)
		case <-tick.C:
			if !dirty {
				continue
			}
			dirty = false
			cursor, err = drainEvents(cursor, types)
			if err != nil {
				return err
			}
		}
	}
}

func pollEvents(ctx context.Context, cursor int64, types []string, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			next, err := drainEvents(cursor, types)
			if err != nil {
				return err
			}
			cursor = next
		}
	}
}

// drainEvents pulls pages until the log is exhausted, printing each
// event, and returns the new cursor.
func drainEvents(cursor int64, types []string) (int64, error) {
	for {
		env := dispatchOp(protocol.OpEventsPull, map[string]any{
			"since": cursor,
			"types": types,
		})
		if !env.OK {
			return cursor, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		res, ok := env.Data.(*engine.PullResult)
		if !ok || len(res.Events) == 0 {
			return cursor, nil
		}
		if jsonOutput {
			for _, ev := range res.Events {
				printJSON(ev)
			}
		} else {
			renderEvents(res.Events)
		}
		cursor = res.NextCursor
	}
}

func renderEvents(events []*storage.Event) {
	if len(events) == 0 {
		fmt.Println(ui.RenderMuted("No events."))
		return
	}
	for _, ev := range events {
		line := fmt.Sprintf("%6d  %s  %-16s", ev.ID, ui.RenderMuted(ev.CreatedAt), ui.RenderAccent(ev.Type))
		if ev.ActorAgentID != "" {
			line += "  " + ev.ActorAgentID
		}
		if ev.TaskID != "" {
			line += "  " + ui.RenderMuted(ev.TaskID)
		}
		fmt.Println(line)
	}
}

func init() {
	eventsPullCmd.Flags().Int64("since", 0, "Cursor from the previous page (0 = from the beginning)")
	eventsPullCmd.Flags().Int("limit", 0, "Page size (default 100, max 1000)")
	eventsPullCmd.Flags().StringSlice("type", nil, "Only these event types (repeatable)")
	eventsWatchCmd.Flags().Int64("since", 0, "Start after this event id")
	eventsWatchCmd.Flags().Bool("replay", false, "Start from the beginning of the log")
	eventsWatchCmd.Flags().StringSlice("type", nil, "Only these event types (repeatable)")

	eventsCmd.AddCommand(eventsPullCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
	rootCmd.AddCommand(eventsCmd)
}
