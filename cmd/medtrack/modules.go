package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pipelined.dev/track/log"
	"pipelined.dev/track/mixer"
	"pipelined.dev/track/modules"
	"pipelined.dev/track/queue"
)

func newModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "Show the list of available stages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := modules.Builtin(queue.New(log.Discard()), mixer.New())
			c := modules.Defaults()
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Stages:")
			for _, name := range r.Names() {
				fmt.Fprintf(w, "\t%s\n", name)
			}
			fmt.Fprintln(w, "Input formats:")
			for _, ext := range sortedKeys(c.InputMap) {
				fmt.Fprintf(w, "\t.%s\t%s\n", ext, c.InputMap[ext])
			}
			fmt.Fprintln(w, "Output formats:")
			for _, ext := range sortedKeys(c.OutputMap) {
				fmt.Fprintf(w, "\t.%s\t%s\n", ext, c.OutputMap[ext])
			}
			return nil
		},
	}
}
