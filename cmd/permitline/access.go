package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/engine/auth"
)

func okMark() string   { return color.New(color.FgGreen).Sprint("✓") }
func failMark() string { return color.New(color.FgRed).Sprint("✗") }

func authzCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "authz", Short: "Inspect authorization decisions"}
	cmd.AddCommand(authzCheckCmd())
	cmd.AddCommand(authzMatrixCmd())
	return cmd
}

func authzCheckCmd() *cobra.Command {
	var action, target string
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Evaluate VIEW, EDIT or TRANSITION for the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act, err := domain.ParseAction(strings.ToUpper(action))
			if err != nil {
				return err
			}
			var to *domain.Status
			if t := optionalString(strings.ToUpper(target)); t != nil {
				st := domain.Status(*t)
				to = &st
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				d, err := e.Authorize(ctx, actor, act, args[0], to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if d.Allowed {
					fmt.Printf("%s %s %s on %s: %s\n", okMark(), actor.Role, act, args[0], color.GreenString("allowed"))
					return nil
				}
				fmt.Printf("%s %s %s on %s: %s %s\n", failMark(), actor.Role, act, args[0], color.RedString(string(d.Reason)), d.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", string(domain.ActionView), "VIEW, EDIT or TRANSITION")
	cmd.Flags().StringVar(&target, "target", "", "target status for TRANSITION")
	return cmd
}

func authzMatrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Print the role permission matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl := auth.DefaultTable()
			if viper.GetBool("json") {
				out := map[domain.Status]auth.PermissionEntry{}
				for _, st := range domain.Statuses() {
					out[st] = tbl.Lookup(st)
				}
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Status", "View", "Edit", "Transitions"})
			for _, st := range domain.Statuses() {
				entry := tbl.Lookup(st)
				var moves []string
				for _, rule := range entry.Transitions {
					moves = append(moves, fmt.Sprintf("%s -> %s", rule.Role, joinStatuses(rule.Targets)))
				}
				tw.AppendRow(table.Row{st, joinRoles(entry.View), joinRoles(entry.Edit), strings.Join(moves, "\n")})
				tw.AppendSeparator()
			}
			tw.Render()
			return nil
		},
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage registered actors"}
	cmd.AddCommand(actorAddCmd())
	cmd.AddCommand(actorListCmd())
	return cmd
}

func actorAddCmd() *cobra.Command {
	var role, name string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register an actor with a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				rec, err := e.RegisterActor(ctx, actor, domain.ActorRecord{
					ID:          args[0],
					Role:        domain.Role(strings.ToUpper(role)),
					DisplayName: name,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&role, "as", "", "role of the new actor")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				items, err := e.ListActors(ctx, actor, domain.Role(strings.ToUpper(role)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Name", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Role, a.DisplayName, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "filter-role", "", "only list this role")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, actorID, domain.Role(strings.ToUpper(role)), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("%s key %s for %s (%s)\n", okMark(), key.ID, key.ActorID, key.Role)
				fmt.Printf("secret: %s\n", color.YellowString(secret))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&role, "as", "", "role carried by the key")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("for")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				keys, err := e.ListAPIKeys(ctx, actor, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for", "", "only keys of this actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				if err := e.DeleteAPIKey(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Printf("%s key %s revoked\n", okMark(), args[0])
				return nil
			})
		},
	}
}

func joinRoles(rs []domain.Role) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return strings.Join(out, ", ")
}

func joinStatuses(ss []domain.Status) string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}
