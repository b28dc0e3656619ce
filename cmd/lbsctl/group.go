package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voiceagent-lbs/internal/distribution"
	"voiceagent-lbs/internal/events"
	"voiceagent-lbs/internal/lock"
	"voiceagent-lbs/internal/routing"
	"voiceagent-lbs/pkg/logger"
)

func newGroupCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage agent group coordination state",
	}
	cmd.AddCommand(newGroupInvalidateCmd(g))
	return cmd
}

func newGroupInvalidateCmd(g *globalOptions) *cobra.Command {
	var tenant, group, actor string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Reset a group's rotation state after its membership changed",
		Long: `Clears the round-robin pointer and every priority rotation counter of the
group under the group lock and publishes a group_state.invalidated event.
Load-balancing windows are kept.

Running API instances keep their cached group configuration until it expires
(CATALOG_CACHE_TTL); use the API endpoint to drop that cache immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			h, err := g.openCoordination(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = h.close() }()

			dispatcher := events.NewDispatcher(1, []events.Sink{events.NewRedisSink(h.store, h.keys)}, events.WithLogger(logger.From(ctx)))
			go dispatcher.Run()

			ctx = routing.WithActor(ctx, routing.Actor{ID: actor, Role: "cli"})
			err = invalidationEngine(h).InvalidateGroup(ctx, tenant, group, nil, dispatcher)
			if cerr := dispatcher.Close(ctx); err == nil && cerr != nil {
				err = fmt.Errorf("event flush failed: %w", cerr)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated group %s of tenant %s\n", group, tenant)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&tenant, "tenant", "", "tenant id")
	f.StringVar(&group, "group", "", "group id")
	f.StringVar(&actor, "actor", "lbsctl", "actor recorded on the event")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

// invalidationEngine builds an engine with only the coordination parts;
// invalidation never reads the catalog or reserves capacity.
func invalidationEngine(h coordinationHandle) *routing.Engine {
	return routing.NewEngine(
		nil,
		nil,
		distribution.NewRegistry(h.store, h.keys, distribution.Options{}),
		lock.New(h.store, lock.DefaultTTL),
		nil,
		h.keys,
	)
}
