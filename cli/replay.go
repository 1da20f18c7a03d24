package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulse-labs/pulse/archive"
	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"
)

// NewReplayCmd creates the "replay" subcommand.
func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [pattern]",
		Short: "Print archived events as JSON lines",
		Long:  "Replay lists events from a SQLite archive in emission order, one JSON object per line. The optional pattern argument filters by topic (literal, tail wildcard, or \"*\").",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplay,
	}

	cmd.Flags().String("db", "", "SQLite archive DSN (required)")
	cmd.Flags().Uint64("after", 0, "Only events with a sequence number greater than this")
	cmd.Flags().Int("limit", 0, "Maximum number of events to print (0 = all)")
	cmd.Flags().Bool("topics", false, "List distinct topics instead of events")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	dsn, _ := cmd.Flags().GetString("db")
	after, _ := cmd.Flags().GetUint64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	listTopics, _ := cmd.Flags().GetBool("topics")

	pattern := "*"
	if len(args) == 1 {
		pattern = strings.TrimSpace(args[0])
	}
	if err := topic.Validate(pattern); err != nil {
		return exitError(exitConfig, "invalid pattern: %v", err)
	}

	store, err := archive.NewSQLiteStore(archive.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return exitError(exitFileNotFound, "opening archive: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if listTopics {
		topics, err := store.Topics(ctx)
		if err != nil {
			return exitError(exitRuntime, "listing topics: %v", err)
		}
		for _, name := range topics {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	events, err := store.List(ctx, archive.Query{
		Pattern:  pattern,
		AfterSeq: after,
		Limit:    limit,
	})
	if err != nil {
		return exitError(exitRuntime, "listing events: %v", err)
	}

	enc := json.NewEncoder(out)
	for _, evt := range events {
		if err := enc.Encode(toReplayLine(evt)); err != nil {
			return fmt.Errorf("encoding event %s: %w", evt.ID, err)
		}
	}
	return nil
}

// replayLine is the JSON-lines shape of one archived event.
type replayLine struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Type       string `json:"type"`
	Time       string `json:"time"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Data       any    `json:"data,omitempty"`
	Source     string `json:"source,omitempty"`
	Seq        uint64 `json:"seq"`
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
}

func toReplayLine(e event.Event) replayLine {
	return replayLine{
		ID:         e.ID,
		Topic:      e.Topic,
		Type:       e.Type.String(),
		Time:       e.Time.UTC().Format(time.RFC3339Nano),
		EntityID:   e.EntityID,
		EntityType: e.EntityType,
		Data:       e.Data,
		Source:     e.Source,
		Seq:        e.Seq,
		TraceID:    e.TraceID,
		SpanID:     e.SpanID,
	}
}
