package commands

import (
	"fmt"
	"os"

	"github.com/moolen/depman/internal/config"
	"github.com/spf13/cobra"
)

var (
	initPath  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example runtime file",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initPath, "config", "c", config.DefaultConfig().RuntimeFilePath, "Path of the bundles YAML file to write")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
	}
	if err := config.WriteRuntimeFile(initPath, config.ExampleRuntimeFile()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote example runtime file to %s\n", initPath)
	return nil
}
