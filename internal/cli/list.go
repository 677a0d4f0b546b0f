package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/yamnet/internal/pipeline"
	"github.com/roach88/yamnet/internal/query"
	"github.com/roach88/yamnet/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Since string
	Until string
	Limit int
}

// AnalysisEntry is one row of list output.
type AnalysisEntry struct {
	ID        int64   `json:"id"`
	Timestamp int64   `json:"timestamp"`
	DeviceID  string  `json:"device_id"`
	Status    string  `json:"status"`
	TopLabel  string  `json:"top_label,omitempty"`
	TopScore  float32 `json:"top_score,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// ListResult is the output of the list command.
type ListResult struct {
	Analyses []AnalysisEntry `json:"analyses"`
}

func (r ListResult) Text() string {
	if len(r.Analyses) == 0 {
		return "No analyses"
	}
	var b strings.Builder
	for i, e := range r.Analyses {
		if i > 0 {
			b.WriteByte('\n')
		}
		when := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		switch {
		case e.Status != pipeline.StatusSuccess:
			fmt.Fprintf(&b, "%s  %s  %s: %s", when, e.DeviceID, e.Status, e.Message)
		case e.TopLabel == "":
			fmt.Fprintf(&b, "%s  %s  (no predictions)", when, e.DeviceID)
		default:
			fmt.Fprintf(&b, "%s  %s  %s %.4f", when, e.DeviceID, e.TopLabel, e.TopScore)
		}
	}
	return b.String()
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "Show stored analyses, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "oldest timestamp (RFC 3339 or epoch ms)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "newest timestamp (RFC 3339 or epoch ms)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows; 0 for all")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	filter, err := rangeFilter(opts.Since, opts.Until)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	log, closeLog := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer closeLog()

	a, err := openApp(opts.RootOptions, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := a.store.ListAnalyses(ctx, filter)
	if err != nil {
		return fail(formatter, CodeStore, "list failed", err)
	}

	entries := make([]AnalysisEntry, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
		entries = append(entries, newAnalysisEntry(records[i]))
	}
	return formatter.Success(ListResult{Analyses: entries})
}

func newAnalysisEntry(r store.AnalysisRecord) AnalysisEntry {
	e := AnalysisEntry{ID: r.ID, Timestamp: r.Timestamp, DeviceID: r.DeviceID}
	doc, err := pipeline.ParseResults(r.Results)
	if err != nil {
		e.Status = "unreadable"
		e.Message = err.Error()
		return e
	}
	e.Status = doc.Status
	e.Message = doc.Message
	if len(doc.Predictions) > 0 {
		e.TopLabel = doc.Predictions[0].Label
		e.TopScore = doc.Predictions[0].Score
	}
	return e
}

// rangeFilter builds an inclusive timestamp range. Empty bounds are open.
func rangeFilter(since, until string) (query.Predicate, error) {
	var preds []query.Predicate
	if since != "" {
		ms, err := parseInstant(since)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --since", err)
		}
		preds = append(preds, query.Ge(store.ColTimestamp, ms))
	}
	if until != "" {
		ms, err := parseInstant(until)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --until", err)
		}
		preds = append(preds, query.Le(store.ColTimestamp, ms))
	}
	if len(preds) == 0 {
		return nil, nil
	}
	return query.All(preds...), nil
}

// parseInstant accepts epoch milliseconds or an RFC 3339 time.
func parseInstant(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither epoch milliseconds nor RFC 3339", s)
	}
	return t.UnixMilli(), nil
}
