package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/executor"
)

// workerCmd is the entry point of worker subprocesses. Users never invoke
// it directly; the coordinator re-execs its own binary with this
// subcommand and speaks the frame protocol over the child's stdin/stdout.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a task worker over stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		common.SetLogOutput(os.Stderr)

		// Stdout is the result protocol. Detach it before anything else
		// runs so a stray print cannot corrupt a frame.
		results, err := executor.DetachResultStream()
		if err != nil {
			common.LogError("Failed to detach result stream", map[string]interface{}{
				"error": err.Error(),
			})
			os.Exit(1)
		}
		defer results.Close()

		if err := executor.RunWorkerLoop(os.Stdin, results, GetConfig()); err != nil {
			common.LogError("Worker loop failed", map[string]interface{}{
				"error": err.Error(),
			})
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(workerCmd)
}
