package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/engine"
	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

// dispatchOp runs one operation through the shared dispatcher. The
// request carries the ambient actor and the anchor discovery root.
func dispatchOp(op string, args any) *protocol.Envelope {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return protocol.Fail(err)
		}
		raw = data
	}
	return dispatcher.Handle(context.Background(), &protocol.Request{
		Operation:     op,
		Args:          raw,
		Actor:         agentFlag,
		Cwd:           workDir(),
		ClientVersion: engine.Version,
	})
}

// run is the standard command body: introspection flags first, then
// dispatch and render. human may be nil for JSON-only payloads.
func run(cmd *cobra.Command, op string, args any, human func(*protocol.Envelope)) {
	if introspect(cmd, op) {
		return
	}
	output(dispatchOp(op, args), human)
}

// introspectArgs wraps a positional-args rule so --schema and
// --explain work without the positionals the real invocation needs.
func introspectArgs(next cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if schemaFlag || explainFlag {
			return nil
		}
		return next(cmd, args)
	}
}

// argAt is args[i] without the panic when introspection skipped the
// positional-args rule.
func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// introspect handles --schema and --explain; both print and stop
// before any state is touched.
func introspect(cmd *cobra.Command, op string) bool {
	if schemaFlag {
		if schema, ok := protocol.OutputSchema(op); ok {
			fmt.Println(string(schema))
		}
		return true
	}
	if explainFlag {
		doc := cmd.Long
		if doc == "" {
			doc = cmd.Short
		}
		fmt.Println(strings.TrimSpace(doc))
		fmt.Println()
		fmt.Println("Operation: " + op)
		if schema, ok := protocol.InputSchema(op); ok {
			fmt.Println("Input schema: " + string(schema))
		}
		return true
	}
	return false
}

// output renders an envelope and terminates the process when it
// carries an error, using the envelope's exit code contract.
func output(env *protocol.Envelope, human func(*protocol.Envelope)) {
	switch {
	case jsonOutput || human == nil:
		printJSON(env)
	case env.OK:
		for _, w := range env.Warnings {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), w)
		}
		human(env)
		renderNextSteps(env.Next)
	default:
		renderError(env.Error)
	}
	if !env.OK {
		exit(env.ExitCode())
	}
}

func printJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	fmt.Println(string(data))
}

func renderNextSteps(next []protocol.NextStep) {
	if len(next) == 0 || !ui.IsTerminal() {
		return
	}
	fmt.Println()
	for _, step := range next {
		fmt.Printf("  %s %s\n", ui.RenderMuted(step.Intent+":"), ui.RenderAccent(step.Cmd))
	}
}

func renderError(e *protocol.Error) {
	if e == nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("✗ unknown error"))
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderError("✗ "+e.Code+":"), e.Message)

	if len(e.Details) == 0 {
		return
	}
	if dym, ok := e.Details["did_you_mean"].([]string); ok && len(dym) > 0 {
		fmt.Fprintln(os.Stderr, ui.RenderSuggestions(e.Message, dym))
		return
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "  %s %v\n", ui.RenderMuted(k+":"), e.Details[k])
	}
}

// claimResult unwraps a claim payload; nil when the payload is
// something else. The dispatcher returns live structs, so in-process
// this is a type assertion, not a decode.
func claimResult(env *protocol.Envelope) *engine.ClaimResult {
	res, _ := env.Data.(*engine.ClaimResult)
	return res
}

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseTimeFlag accepts either RFC3339 or natural English ("yesterday",
// "2 hours ago") and returns the RFC3339 UTC form the engine expects.
// Empty input passes through.
func parseTimeFlag(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if t, err := clock.Parse(raw); err == nil {
		return clock.Format(t), nil
	}
	result, err := naturalDates.Parse(raw, time.Now())
	if err == nil && result != nil {
		return clock.Format(result.Time), nil
	}
	return "", fmt.Errorf("%q is not a timestamp (RFC3339 or natural language like \"2 hours ago\")", raw)
}

// timeFlag parses a --since/--until style flag or exits with a
// validation failure.
func timeFlag(name, raw string) string {
	value, err := parseTimeFlag(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: --%s: %v\n", name, err)
		exit(2)
	}
	return value
}

// taskFromEnvelope digs the task view out of the payloads that carry
// one, for compact success lines.
func taskFromEnvelope(env *protocol.Envelope) *engine.TaskView {
	switch res := env.Data.(type) {
	case *engine.TaskResult:
		return res.Task
	case *engine.VerifyResult:
		return res.Task
	case *engine.ClaimResult:
		return res.Task
	case *engine.TaskDetail:
		return res.Task
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
