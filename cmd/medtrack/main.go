// Command medtrack converts, plays and records audio with the track
// engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:          "medtrack [flags] [inputs...]",
		Short:        "medtrack processes audio files, directories and network streams",
		SilenceUsage: true,
		RunE:         o.run,
	}
	o.register(cmd)
	cmd.AddCommand(newModulesCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
