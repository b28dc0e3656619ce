package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"voiceagent-lbs/internal/calls"
)

// sessionView is the printed form of a session with its consistency check.
type sessionView struct {
	Session     *calls.Session `json:"session"`
	Consistent  bool           `json:"consistent"`
	VerifyError string         `json:"verify_error,omitempty"`
	Terminal    bool           `json:"terminal"`
}

func newSessionCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect call sessions",
	}
	cmd.AddCommand(newSessionShowCmd(g))
	return cmd
}

func newSessionShowCmd(g *globalOptions) *cobra.Command {
	var tenant, token string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a session and check its history against the state machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()

			h, err := g.openCoordination(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = h.close() }()

			s, err := calls.NewStore(h.store, h.keys, 0).Get(ctx, tenant, token)
			if errors.Is(err, calls.ErrSessionNotFound) {
				return fmt.Errorf("no session %s for tenant %s", token, tenant)
			}
			if err != nil {
				return err
			}
			view := sessionView{Session: s, Consistent: true, Terminal: calls.IsTerminal(s.Status)}
			if err := s.Verify(); err != nil {
				view.Consistent = false
				view.VerifyError = err.Error()
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
	f := cmd.Flags()
	f.StringVar(&tenant, "tenant", "", "tenant id")
	f.StringVar(&token, "token", "", "session token")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
