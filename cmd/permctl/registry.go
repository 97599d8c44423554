package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qazna.org/permgate/internal/registry"
)

func (a *app) appsCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage registered applications through the API",
	}
	cmd.PersistentFlags().StringVar(&session, "session", "default", "session key in the token cache")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := a.client()
			if err != nil {
				return err
			}
			defer closeFn()
			apps, err := c.Applications(cmd.Context(), session)
			if err != nil {
				return err
			}
			if a.out == "json" {
				return writeJSON(cmd.OutOrStdout(), apps)
			}
			for _, app := range apps {
				fmt.Fprintf(cmd.OutOrStdout(), "%-6d %-24s %-10s %s\n", app.ID, app.Name, app.Environment, app.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	var in registry.NewApplication
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Name == "" {
				return errors.New("--name is required")
			}
			c, closeFn, err := a.client()
			if err != nil {
				return err
			}
			defer closeFn()
			app, err := c.CreateApplication(cmd.Context(), session, in)
			if err != nil {
				return err
			}
			if a.out == "json" {
				return writeJSON(cmd.OutOrStdout(), app)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "application %d (%s) registered\n", app.ID, app.Name)
			return nil
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "application name")
	create.Flags().StringVar(&in.Description, "description", "", "free-form description")
	create.Flags().StringVar(&in.Environment, "env", "", "deployment environment")

	cmd.AddCommand(list, create)
	return cmd
}

func (a *app) errorsCmd() *cobra.Command {
	var session string
	var filter registry.ErrorLogFilter
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List recorded error logs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := a.client()
			if err != nil {
				return err
			}
			defer closeFn()
			logs, err := c.ErrorLogs(cmd.Context(), session, filter)
			if err != nil {
				return err
			}
			if a.out == "json" {
				return writeJSON(cmd.OutOrStdout(), logs)
			}
			for _, l := range logs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-20s %s\n", l.LoggedAt.Format(time.RFC3339), l.Severity, l.ApplicationName, l.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "default", "session key in the token cache")
	cmd.Flags().Int64Var(&filter.ApplicationID, "app-id", 0, "only this application")
	cmd.Flags().StringVar(&filter.Severity, "severity", "", "only this severity")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum entries (server default when 0)")
	return cmd
}
