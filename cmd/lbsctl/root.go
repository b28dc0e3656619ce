package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"voiceagent-lbs/internal/coordination"
	"voiceagent-lbs/pkg/logger"
	"voiceagent-lbs/pkg/utils"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	env           string
	redisAddr     string
	redisPassword string
	redisDB       int
	keyPrefix     string
	timeout       time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "lbsctl",
		Short: "Operate the voice agent routing service",
		Long: `lbsctl validates configuration snapshots, dry-runs routing rules and
inspects or resets the coordination state shared by the API instances.

Flags default to the same environment variables the API reads, and a local
.env file is loaded first when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logger.NewWriter(cmd.ErrOrStderr(), opts.env))
		},
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	f := cmd.PersistentFlags()
	f.StringVar(&opts.env, "env", envOr("APP_ENV", "local"), "environment, controls log format")
	f.StringVar(&opts.redisAddr, "redis-addr", defaultRedisAddr(), "redis address")
	f.StringVar(&opts.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
	f.IntVar(&opts.redisDB, "redis-db", envInt("REDIS_DB", 0), "redis database")
	f.StringVar(&opts.keyPrefix, "key-prefix", envOr("REDIS_KEY_PREFIX", "lbs"), "coordination key prefix")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall command timeout")

	cmd.AddCommand(
		newSnapshotCmd(),
		newMatchCmd(),
		newGroupCmd(opts),
		newSessionCmd(opts),
		newTokenCmd(),
	)
	return cmd
}

// coordinationHandle is an open connection to the coordination store.
type coordinationHandle struct {
	store coordination.Store
	keys  coordination.Keys
	close func() error
}

func (o *globalOptions) openCoordination(ctx context.Context) (coordinationHandle, error) {
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     o.redisAddr,
		Password: o.redisPassword,
		DB:       o.redisDB,
	})
	if err != nil {
		return coordinationHandle{}, fmt.Errorf("redis init failed: %w", err)
	}
	return coordinationHandle{
		store: coordination.NewRedisStore(rdb, 0),
		keys:  coordination.NewKeys(o.keyPrefix),
		close: rdb.Close,
	}, nil
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := logger.With(cmd.Context(), slog.Default())
	return context.WithTimeout(ctx, o.timeout)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultRedisAddr() string {
	host := envOr("REDIS_HOST", "localhost")
	port := envOr("REDIS_PORT", "6379")
	return net.JoinHostPort(host, port)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return n
}
