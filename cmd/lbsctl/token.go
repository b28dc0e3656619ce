package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"voiceagent-lbs/internal/auth"
	"voiceagent-lbs/internal/config"
	"voiceagent-lbs/internal/rbac"
)

type tokenOptions struct {
	actor      string
	tenant     string
	role       string
	secret     string
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint tokens for the internal API",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access and refresh token pair",
		Long: `Signs a token pair with the API's JWT settings. Leave --tenant empty only
for the platform_admin role, which operates across tenants.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rbac.Known(opts.role) {
				return fmt.Errorf("unknown role %q", opts.role)
			}
			if opts.tenant == "" && !rbac.IsPlatformAdmin(opts.role) {
				return errors.New("--tenant is required unless --role is platform_admin")
			}
			m, err := auth.NewManager(config.AuthConfig{
				JWTSecret:       opts.secret,
				JWTIssuer:       opts.issuer,
				JWTAudience:     opts.audience,
				AccessTokenTTL:  opts.accessTTL,
				RefreshTokenTTL: opts.refreshTTL,
			})
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), opts.actor, opts.tenant, opts.role)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"access_token":  pair.AccessToken,
				"refresh_token": pair.RefreshToken,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.actor, "actor", "", "actor id (token subject)")
	f.StringVar(&opts.tenant, "tenant", "", "tenant id")
	f.StringVar(&opts.role, "role", rbac.RoleViewer, "role: admin, service, viewer or platform_admin")
	f.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	f.StringVar(&opts.issuer, "issuer", os.Getenv("JWT_ISSUER"), "token issuer")
	f.StringVar(&opts.audience, "audience", os.Getenv("JWT_AUDIENCE"), "token audience")
	f.DurationVar(&opts.accessTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	f.DurationVar(&opts.refreshTTL, "refresh-ttl", 24*time.Hour, "refresh token lifetime")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
