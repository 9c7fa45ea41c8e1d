package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// NewConfigCmd groups configuration inspection.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Long: "Prints the configuration after file, environment and defaults are merged.\n" +
			"Secrets are never printed. The output is YAML regardless of --output.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cliCtx.Config)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeSerialization, "encode config")
			}
			w := cmd.OutOrStdout()
			if cliCtx.ConfigPath != "" {
				fmt.Fprintf(w, "# source: %s\n", cliCtx.ConfigPath)
			} else {
				fmt.Fprintln(w, "# source: defaults and environment")
			}
			_, err = w.Write(out)
			return err
		},
	})
	return cmd
}

// VersionInfo is the build identity.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func (v *VersionInfo) String() string {
	return fmt.Sprintf("ddi %s\n  commit: %s\n  built:  %s\n  go:     %s\n", v.Version, v.GitCommit, v.BuildDate, v.GoVersion)
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, &VersionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
			})
		},
	}
}
