package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/client"
	"qazna.org/permgate/internal/config"
	"qazna.org/permgate/internal/migrate"
	"qazna.org/permgate/internal/obs"
	"qazna.org/permgate/internal/store/pg"
	"qazna.org/permgate/internal/token"
	"qazna.org/permgate/internal/tokencache"
)

var version = "0.1.0"

type app struct {
	cfgPath string
	out     string // json | text
	cfg     *config.Config
}

func main() {
	a := &app{cfgPath: os.Getenv("PERMGATE_CONFIG"), out: "text"}

	root := &cobra.Command{
		Use:           "permctl",
		Short:         "Operator tooling for permgate",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			obs.InitLogger(cfg.LogConfig("permctl", version))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", a.cfgPath, "path to YAML config (env PERMGATE_CONFIG)")
	root.PersistentFlags().StringVar(&a.out, "out", a.out, "output format: json|text")

	root.AddCommand(
		a.resolveCmd(),
		a.validateCmd(),
		a.hashPasswordCmd(),
		a.loginCmd(),
		a.permissionsCmd(),
		a.logoutCmd(),
		a.appsCmd(),
		a.errorsCmd(),
		a.migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "permctl:", err)
		obs.Sync()
		os.Exit(1)
	}
	obs.Sync()
}

func (a *app) openStore() (*pg.Store, error) {
	if strings.TrimSpace(a.cfg.Database.DSN) == "" {
		return nil, errors.New("database dsn missing; set database.dsn or PERMGATE_DB_DSN")
	}
	return pg.Open(a.cfg.Database.DSN, a.cfg.PoolConfig())
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the permission schema",
	}
	run := func(fn func(ctx context.Context, m *migrate.Manager, w io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			m := migrate.NewManager(store.DB(), migrate.Schema(), migrate.WithLogger(obs.Named("migrate")))
			return fn(ctx, m, cmd.OutOrStdout())
		}
	}
	printNames := func(w io.Writer, verb string, names []string) {
		if len(names) == 0 {
			fmt.Fprintf(w, "nothing %s\n", verb)
			return
		}
		for _, n := range names {
			fmt.Fprintf(w, "%s %s\n", verb, n)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager, w io.Writer) error {
				names, err := m.Up(ctx)
				printNames(w, "applied", names)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(ctx context.Context, m *migrate.Manager, w io.Writer) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager, w io.Writer) error {
				names, err := m.Status(ctx)
				if err != nil {
					return err
				}
				if a.out == "json" {
					return writeJSON(w, names)
				}
				printNames(w, "applied", names)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load the reference function catalog and roles",
			RunE: run(func(ctx context.Context, m *migrate.Manager, w io.Writer) error {
				names, err := m.Seed(ctx)
				printNames(w, "seeded", names)
				return err
			}),
		},
	)
	return cmd
}

// resolve reads straight from the database, bypassing the HTTP API.
func (a *app) resolveCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print a user's permission tree from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user-id is required")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			resolver, err := auth.NewResolver(store)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tree, err := resolver.ResolvePermissions(ctx, userID)
			if err != nil {
				return err
			}
			return a.printTree(cmd.OutOrStdout(), tree)
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <token>",
		Short: "Validate a token with the configured key, issuer and audience",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tcfg, err := a.cfg.TokenConfig()
			if err != nil {
				return err
			}
			v, err := token.NewValidator(tcfg)
			if err != nil {
				return err
			}
			id, err := v.Validate(cmd.Context(), strings.TrimSpace(args[0]), time.Now())
			if err != nil {
				return fmt.Errorf("token rejected (%s): %w", token.Reason(err), err)
			}
			w := cmd.OutOrStdout()
			if a.out == "json" {
				return writeJSON(w, id)
			}
			fmt.Fprintf(w, "subject:  %s (%s)\n", id.Subject, id.Username)
			fmt.Fprintf(w, "roles:    %s\n", strings.Join(id.Roles, ", "))
			fmt.Fprintf(w, "jti:      %s\n", id.TokenID)
			fmt.Fprintf(w, "expires:  %s\n", id.ExpiresAt.Format(time.RFC3339))
			return a.printTree(w, id.Permissions)
		},
	}
}

func (a *app) hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4<<10))
			if err != nil {
				return err
			}
			pw := strings.TrimRight(string(b), "\r\n")
			if pw == "" {
				return errors.New("empty password")
			}
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	var session, username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the API and cache the token for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				password = os.Getenv("PERMGATE_PASSWORD")
			}
			c, closeFn, err := a.client()
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := c.Login(cmd.Context(), session, username, password)
			if err != nil {
				return err
			}
			obs.Named("permctl").Info("logged in",
				zap.String("session", session),
				zap.Int64("user_id", res.UserID),
				zap.Time("expires_at", res.ExpiresAt),
			)
			if a.out == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d (%s) logged in until %s\n", res.UserID, res.Username, res.ExpiresAt.Format(time.RFC3339))
			return a.printTree(cmd.OutOrStdout(), res.Permissions.Categories)
		},
	}
	cmd.Flags().StringVar(&session, "session", "default", "session key in the token cache")
	cmd.Flags().StringVar(&username, "username", "", "user name")
	cmd.Flags().StringVar(&password, "password", "", "password (env PERMGATE_PASSWORD)")
	return cmd
}

func (a *app) permissionsCmd() *cobra.Command {
	var session string
	var userID int64
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Fetch a user's permissions through the API with a cached session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user-id is required")
			}
			c, closeFn, err := a.client()
			if err != nil {
				return err
			}
			defer closeFn()
			perms, err := c.Permissions(cmd.Context(), session, userID)
			if err != nil {
				return err
			}
			if a.out == "json" {
				return writeJSON(cmd.OutOrStdout(), perms)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d (%s)\n", perms.UserID, perms.Username)
			return a.printTree(cmd.OutOrStdout(), perms.Categories)
		},
	}
	cmd.Flags().StringVar(&session, "session", "default", "session key in the token cache")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Drop the cached token of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := a.client()
			if err != nil {
				return err
			}
			defer closeFn()
			return c.Logout(cmd.Context(), session)
		},
	}
	cmd.Flags().StringVar(&session, "session", "default", "session key in the token cache")
	return cmd
}

// client builds an API client over the configured token cache. Only the
// redis backend keeps sessions across invocations.
func (a *app) client() (*client.Client, func(), error) {
	cache, err := tokencache.Open(a.cfg.CacheConfig())
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(a.cfg.Client.BaseURL, cache, client.WithTimeout(a.cfg.Client.Timeout))
	if err != nil {
		_ = cache.Close()
		return nil, nil, err
	}
	return c, func() { _ = cache.Close() }, nil
}

func (a *app) printTree(w io.Writer, tree auth.PermissionTree) error {
	if a.out == "json" {
		return writeJSON(w, tree)
	}
	if len(tree) == 0 {
		fmt.Fprintln(w, "(no permissions)")
		return nil
	}
	for _, c := range tree {
		fmt.Fprintf(w, "%s\n", c.Name)
		for _, m := range c.Modules {
			fmt.Fprintf(w, "  %s  [%s/%s/%s]\n", m.Name, m.Area, m.Controller, m.Action)
			for _, f := range m.Functions {
				fmt.Fprintf(w, "    %-24s %s\n", f.Code, f.DisplayName)
			}
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
