package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/project"
)

func newUsageCmd() *cobra.Command {
	var (
		configPath string
		projectID  uint
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and cost for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd, configPath, projectID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "signalbox.yaml", "path to Signalbox config file")
	cmd.Flags().UintVarP(&projectID, "project", "p", 0, "project id (defaults to default_project_id)")
	return cmd
}

func runUsage(cmd *cobra.Command, configPath string, projectID uint) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if projectID == 0 {
		projectID = cfg.DefaultProjectID
	}
	gdb, err := openDB(cfg)
	if err != nil {
		return err
	}

	p, err := project.Get(ctx, gdb, projectID)
	if err != nil {
		return err
	}
	led, err := ledger.New(ledger.Opts{DB: gdb})
	if err != nil {
		return err
	}
	totals, err := led.ProjectTotals(ctx, projectID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Project %d: %s\n\n", p.ID, p.Name)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tMODEL\tINPUT\tOUTPUT\tCOST")
	for _, a := range totals.Agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Model,
			formatTokenCount(a.InputTokens),
			formatTokenCount(a.OutputTokens),
			formatCost(a.Cost),
		)
	}
	fmt.Fprintf(w, "TOTAL\t\t%s\t%s\t%s\n",
		formatTokenCount(totals.TotalInputTokens),
		formatTokenCount(totals.TotalOutputTokens),
		formatCost(totals.TotalCost),
	)
	return w.Flush()
}
