package worker

import (
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background workers",
}

func NewWorkerCmd() *cobra.Command {
	workerCmd.AddCommand(drainCmd)
	return workerCmd
}
