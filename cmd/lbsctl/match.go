package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/matcher"
)

type matchOptions struct {
	snapshot  string
	tenant    string
	from      string
	to        string
	direction string
}

// matchResult is what a dry run prints. Rule fields are nil when nothing
// matched.
type matchResult struct {
	TenantID     string                `json:"tenant_id"`
	Direction    catalog.Direction     `json:"direction"`
	Rule         *catalog.RoutingRule  `json:"rule"`
	OutboundRule *catalog.OutboundRule `json:"outbound_rule,omitempty"`
}

func newMatchCmd() *cobra.Command {
	opts := &matchOptions{}
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Dry-run rule matching for a call against a snapshot",
		Long: `Evaluates the tenant's routing rules, and for outbound calls the outbound
rules, exactly as the routing engine does. Nothing is reserved and no
coordination state is touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatch(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.snapshot, "snapshot", "", "snapshot file")
	f.StringVar(&opts.tenant, "tenant", "", "tenant id")
	f.StringVar(&opts.from, "from", "", "caller number")
	f.StringVar(&opts.to, "to", "", "dialed number")
	f.StringVar(&opts.direction, "direction", string(catalog.DirectionInbound), "inbound or outbound")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func runMatch(cmd *cobra.Command, opts *matchOptions) error {
	dir := catalog.Direction(opts.direction)
	if dir != catalog.DirectionInbound && dir != catalog.DirectionOutbound {
		return fmt.Errorf("direction must be inbound or outbound, got %q", opts.direction)
	}
	snap, err := catalog.LoadSnapshotFile(opts.snapshot)
	if err != nil {
		return err
	}
	src, err := catalog.NewSnapshotSource(snap)
	if err != nil {
		return err
	}
	patterns, err := matcher.NewPatterns(0)
	if err != nil {
		return err
	}
	defer patterns.Close()

	ctx := cmd.Context()
	if _, err := src.Tenant(ctx, opts.tenant); err != nil {
		return fmt.Errorf("tenant %s: %w", opts.tenant, err)
	}

	m := matcher.New(src, patterns)
	res := matchResult{TenantID: opts.tenant, Direction: dir}
	rule, ok, err := m.Match(ctx, opts.tenant, matcher.CallAttributes{Direction: dir, From: opts.from, To: opts.to})
	if err != nil {
		return err
	}
	if ok {
		res.Rule = &rule
	}
	if dir == catalog.DirectionOutbound {
		ob, ok, err := m.MatchOutbound(ctx, opts.tenant, opts.from, opts.to)
		if err != nil {
			return err
		}
		if ok {
			res.OutboundRule = &ob
		}
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
