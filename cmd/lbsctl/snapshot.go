package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"voiceagent-lbs/internal/catalog"
	"voiceagent-lbs/internal/matcher"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with configuration snapshot files",
	}
	cmd.AddCommand(newSnapshotValidateCmd())
	return cmd
}

func newSnapshotValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a snapshot file the way the API loads it",
		Long: `Parses the YAML snapshot with unknown fields rejected, then builds the
in-memory catalog from it and compiles every rule pattern. All problems are
reported, not only the first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := catalog.LoadSnapshotFile(args[0])
			if err != nil {
				return err
			}
			if _, err := catalog.NewSnapshotSource(snap); err != nil {
				return err
			}
			if err := validatePatterns(snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"ok: %d tenants, %d agents, %d groups, %d memberships, %d routing rules, %d outbound rules, %d trunks\n",
				len(snap.Tenants), len(snap.Agents), len(snap.Groups), len(snap.Memberships),
				len(snap.RoutingRules), len(snap.OutboundRules), len(snap.Trunks),
			)
			return nil
		},
	}
}

// validatePatterns compiles every rule pattern. The matcher skips a rule whose
// pattern does not compile, which is easy to miss in production.
func validatePatterns(snap *catalog.Snapshot) error {
	patterns, err := matcher.NewPatterns(0)
	if err != nil {
		return err
	}
	defer patterns.Close()

	var errs []error
	for _, r := range snap.RoutingRules {
		if err := patterns.Validate(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("routing rule %s: %w", r.ID, err))
		}
	}
	for _, r := range snap.OutboundRules {
		for _, p := range []string{r.CallerPattern, r.DestinationPattern} {
			if err := patterns.Validate(p); err != nil {
				errs = append(errs, fmt.Errorf("outbound rule %s: %w", r.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}
