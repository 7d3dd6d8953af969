package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/llm"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported models and their prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tCONTEXT\tINPUT/1M\tOUTPUT/1M")
			for _, d := range llm.NewRegistry(llm.RegistryOpts{}).Models() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					d.Name,
					d.Provider,
					formatTokenCount(int64(d.ContextWindow)),
					formatRate(d.Price.Input, d.Price.Divisor),
					formatRate(d.Price.Output, d.Price.Divisor),
				)
			}
			return w.Flush()
		},
	}
}
