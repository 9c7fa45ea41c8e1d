package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
)

// DatasetView renders a verified dataset.
type DatasetView struct {
	*deepddi.DatasetSummary
}

func (v DatasetView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset:      %s\n", v.Dir)
	fmt.Fprintf(&sb, "Fingerprint:  %d bits, radius %d\n", v.FingerprintSize, v.Radius)
	fmt.Fprintf(&sb, "Train:        %d x %d\n", v.Train.Rows, v.Train.Cols)
	fmt.Fprintf(&sb, "Test:         %d x %d\n\n", v.Test.Rows, v.Test.Cols)
	sb.WriteString(FormatTable(v.TableHeaders(), v.TableRows()))
	return sb.String()
}

func (v DatasetView) TableHeaders() []string {
	return []string{"CLASS", "TRAIN", "TEST"}
}

func (v DatasetView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Classes))
	for i, label := range v.Classes {
		rows = append(rows, []string{
			string(label),
			fmt.Sprintf("%d (%.2f%%)", v.Train.Distribution[i].Count, v.Train.Distribution[i].Percent),
			fmt.Sprintf("%d (%.2f%%)", v.Test.Distribution[i].Count, v.Test.Distribution[i].Percent),
		})
	}
	return rows
}

// NewDatasetCmd reads a preprocessed dataset back and checks it against its
// artifact.
func NewDatasetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dataset [DIR]",
		Short: "Verify the matrices written by preprocess",
		Long: "Reads the train/test matrices and labels together with the scoring\n" +
			"artifact and checks row widths, row counts and label indices. DIR\n" +
			"defaults to preprocess.output_dir.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			dir := cliCtx.Config.Preprocess.OutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			sum, err := deepddi.VerifyDataset(dir, cliCtx.Config.Artifacts.ArtifactFile)
			if err != nil {
				return err
			}
			return PrintResult(cmd, DatasetView{sum})
		},
	}
}
