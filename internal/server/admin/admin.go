// Package admin is the operator command line of the sync server: issuing
// access tokens, running migrations, inspecting a user and exporting backups.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server"
	"github.com/dmitrijs2005/finkeeper/internal/server/auth"
	"github.com/dmitrijs2005/finkeeper/internal/server/backup"
	"github.com/dmitrijs2005/finkeeper/internal/server/config"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/dmitrijs2005/finkeeper/internal/server/storage"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	dsn        string
	secret     string

	// test seams
	openStorage func(ctx context.Context, c *config.Config) (storage.Storage, error)
	exporter    func(c *config.Config, src backup.Snapshotter, l logging.Logger) exporter
}

type exporter interface {
	Export(ctx context.Context, userID string) (*backup.Result, error)
}

func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	c := &config.Config{}
	c.LoadDefaults()
	if o.configPath != "" {
		if err := config.LoadFile(o.configPath, c); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("dsn") {
		c.DatabaseDSN = o.dsn
	}
	if cmd.Flags().Changed("secret") {
		c.SecretKey = o.secret
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// service opens storage and returns a sync service seeded from it.
func (o *options) service(ctx context.Context, c *config.Config, l logging.Logger) (*services.SyncService, storage.Storage, error) {
	st, err := o.openStorage(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	clock := services.NewClock(nil)
	if err := services.SeedClock(ctx, st, clock); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return services.NewSyncService(st, clock, nil, l), st, nil
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{
		openStorage: server.OpenStorage,
		exporter: func(c *config.Config, src backup.Snapshotter, l logging.Logger) exporter {
			return backup.NewExporter(c, src, l)
		},
	})
}

func newRootCommand(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "finkeeper-admin",
		Short:         "Operate a finkeeper sync server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "server JSON config file")
	f.StringVar(&o.dsn, "dsn", "", "database DSN, overrides the config file")
	f.StringVar(&o.secret, "secret", "", "JWT secret, overrides the config file")

	root.AddCommand(
		newTokenCommand(o),
		newMigrateCommand(o),
		newStatusCommand(o),
		newBackupCommand(o),
	)
	return root
}

func newTokenCommand(o *options) *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "Manage access tokens"}

	var (
		user string
		ttl  time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = c.AccessTokenValidityDuration
			}
			tok, err := auth.GenerateToken(user, []byte(c.SecretKey), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = issue.MarkFlagRequired("user")

	token.AddCommand(issue)
	return token
}

func newMigrateCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.load(cmd)
			if err != nil {
				return err
			}
			if c.InMemory() {
				return fmt.Errorf("nothing to migrate for the %q store", config.DSNMemory)
			}
			st, err := o.openStorage(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newStatusCommand(o *options) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show record counts and clients of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.load(cmd)
			if err != nil {
				return err
			}
			svc, st, err := o.service(cmd.Context(), c, logger(cmd.ErrOrStderr(), c))
			if err != nil {
				return err
			}
			defer st.Close()

			resp, err := svc.Status(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newBackupCommand(o *options) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export records to object storage",
		Long:  "Export the records of one user, or of every user when --user is omitted, to the configured S3 bucket.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.load(cmd)
			if err != nil {
				return err
			}
			l := logger(cmd.ErrOrStderr(), c)
			svc, st, err := o.service(cmd.Context(), c, l)
			if err != nil {
				return err
			}
			defer st.Close()

			users := []string{user}
			if user == "" {
				if users, err = st.Users(cmd.Context()); err != nil {
					return err
				}
			}

			ex := o.exporter(c, svc, l)
			for _, u := range users {
				res, err := ex.Export(cmd.Context(), u)
				if err != nil {
					return fmt.Errorf("backup of %q failed: %w", u, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d records\t%s\n", u, res.Records, res.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id, all users when empty")
	return cmd
}

func logger(w io.Writer, c *config.Config) logging.Logger {
	return logging.New(w, logging.Options{Format: "text", Level: c.LogLevel})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the admin command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
