package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitline/internal/domain"
	"permitline/internal/engine"
)

func appCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "app", Aliases: []string{"application"}, Short: "Manage permit applications"}
	cmd.AddCommand(appCreateCmd())
	cmd.AddCommand(appUpdateCmd())
	cmd.AddCommand(appShowCmd())
	cmd.AddCommand(appListCmd())
	cmd.AddCommand(appValidateCmd())
	cmd.AddCommand(appSubmitCmd())
	cmd.AddCommand(appResubmitCmd())
	cmd.AddCommand(appWithdrawCmd())
	cmd.AddCommand(appStatusCmd())
	cmd.AddCommand(appAssignCmd())
	cmd.AddCommand(appPaymentCmd())
	cmd.AddCommand(appHistoryCmd())
	cmd.AddCommand(appCapabilitiesCmd())
	return cmd
}

func appCreateCmd() *cobra.Command {
	var id, applicantID, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft application",
		Long:  "Create a DRAFT. OEMs always own what they create; ADMIN and SUPER_ADMIN must name the owner with --applicant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var details domain.Details
			if file != "" {
				d, err := readDetails(file)
				if err != nil {
					return err
				}
				details = d
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.CreateApplication(ctx, actor, engine.ApplicationInput{
					ID:          id,
					ApplicantID: applicantID,
					Details:     details,
				})
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "application id (generated when empty)")
	cmd.Flags().StringVar(&applicantID, "applicant", "", "owning OEM")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with application details")
	return cmd
}

func appUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the details of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := readDetails(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.UpdateApplication(ctx, actor, args[0], details)
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML or JSON file with application details")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func appShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.GetApplication(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func appListCmd() *cobra.Command {
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ListOptions{Limit: limit}
			for _, s := range statuses {
				st, err := domain.ParseStatus(strings.ToUpper(s))
				if err != nil {
					return err
				}
				opts.Statuses = append(opts.Statuses, st)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				apps, err := e.ListApplications(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Applicant", "Status", "Officer", "Updated"})
				for _, a := range apps {
					officer := ""
					if a.AssignedOfficerID != nil {
						officer = *a.AssignedOfficerID
					}
					tw.AppendRow(table.Row{a.ID, a.ApplicantID, a.Status, officer, a.UpdatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func appValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Run the completeness rules without submitting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				violations, err := e.Validate(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"complete": len(violations) == 0, "violations": violations})
				}
				if len(violations) == 0 {
					fmt.Printf("%s application %s is complete\n", okMark(), args[0])
					return nil
				}
				fmt.Printf("%s application %s has %d problem(s):\n", failMark(), args[0], len(violations))
				for _, v := range violations {
					fmt.Printf("  - %s\n", v)
				}
				return nil
			})
		},
	}
}

func appSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a draft for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.Submit(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
}

func appResubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <id>",
		Short: "Answer an officer query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.Resubmit(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
}

func appWithdrawCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Withdraw an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.Withdraw(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "withdrawal reason")
	return cmd
}

func appStatusCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an application to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := domain.Status(strings.ToUpper(args[1]))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.ChangeStatus(ctx, actor, args[0], to, remarks)
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks stored in the status history")
	return cmd
}

func appAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> [officer-id]",
		Short: "Assign a reviewing officer; omit the officer to clear",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			officer := ""
			if len(args) == 2 {
				officer = args[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.AssignOfficer(ctx, actor, args[0], officer)
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
}

func appPaymentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payment <id> <payment-id> <status>",
		Short: "Record the reconciled status of a payment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.PaymentStatus(strings.ToUpper(args[2]))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				a, err := e.RecordPayment(ctx, actor, args[0], args[1], status)
				if err != nil {
					return err
				}
				return printApplication(a)
			})
		},
	}
}

func appHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				items, err := e.History(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "Actor", "Role", "Remarks"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.CreatedAt.Format("2006-01-02 15:04:05"), h.FromStatus, h.ToStatus, h.ActorID, h.ActorRole, h.Remarks})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func appCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities <id>",
		Short: "Show what the actor may do with an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				caps, err := e.Capabilities(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(caps)
			})
		},
	}
}

func printApplication(a domain.Application) error {
	if viper.GetBool("json") {
		return printJSON(a)
	}
	fmt.Printf("%s %s [%s] owner=%s\n", okMark(), a.ID, a.Status, a.ApplicantID)
	return nil
}
