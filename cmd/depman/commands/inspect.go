package commands

import (
	"context"
	"fmt"

	"github.com/moolen/depman/internal/bundle"
	"github.com/moolen/depman/internal/config"
	"github.com/moolen/depman/internal/framework"
	"github.com/moolen/depman/internal/shell"
	"github.com/spf13/cobra"
)

var (
	inspectConfigPath string
	inspectColor      string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [wtf|full|uml] [bundle-id...]",
	Short: "Print the component states a runtime file settles into",
	Long: `Load the runtime file into an in-process framework, let all service
events settle and print the dependency manager view of every component.

  full     interfaces and dependencies of every component
  uml      PlantUML class diagram
  wtf      only components that are not active
  <id>     restrict the output to these bundle ids`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectConfigPath, "config", "c", config.DefaultConfig().RuntimeFilePath, "Path to the bundles YAML file")
	inspectCmd.Flags().StringVar(&inspectColor, "color", "auto", "Colour output: auto, always or never")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return err
	}

	opts, skipped := shell.ParseArgs(args)
	for _, arg := range skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "DM: Skipping unknown argument: %s\n", arg)
	}
	switch inspectColor {
	case "always":
		opts.Colors = true
	case "never":
		opts.Colors = false
	case "auto":
		opts.Colors = shell.IsTerminal()
	default:
		return fmt.Errorf("invalid --color value %q", inspectColor)
	}

	file, err := config.LoadRuntimeFile(inspectConfigPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fw, err := framework.New()
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = fw.Stop(ctx) }()

	bundles, err := bundle.NewManager(bundle.ManagerConfig{ConfigPath: inspectConfigPath}, fw)
	if err != nil {
		return err
	}
	defer func() { _ = bundles.Stop(ctx) }()

	if err := bundles.Apply(ctx, file); err != nil {
		return err
	}
	if err := fw.WaitForEvents(ctx); err != nil {
		return err
	}

	return shell.NewPrinter(cmd.OutOrStdout()).Print(fw, opts)
}
