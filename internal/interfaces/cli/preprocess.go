package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/DDI-Intelligence/internal/config"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

type preprocessFlags struct {
	reference    string
	interactions string
	outputDir    string
	batchSize    int
	maxSamples   int
	testFraction float64
	seed         int64
	invalid      string
	publish      bool
}

// PreprocessResult is the printed outcome of a preprocessing run.
type PreprocessResult struct {
	OutputDir string                    `json:"output_dir"`
	Files     []string                  `json:"files"`
	Published []string                  `json:"published,omitempty"`
	Options   deepddi.PreprocessOptions `json:"options"`
	Report    deepddi.PreprocessReport  `json:"report"`
}

func (r *PreprocessResult) String() string {
	rep := r.Report
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rows in corpus:      %d (sample ratio %.4f)\n", rep.TotalRows, rep.SampleRatio)
	fmt.Fprintf(&sb, "Rows considered:     %d in %d chunks\n", rep.RowsConsidered, rep.Chunks)
	fmt.Fprintf(&sb, "Processed:           %d\n", rep.Processed)
	fmt.Fprintf(&sb, "Unknown drugs:       %d\n", rep.SkippedUnknown)
	fmt.Fprintf(&sb, "Invalid structures:  %d (%d skipped, policy %s)\n",
		rep.InvalidStructures, rep.SkippedInvalid, r.Options.InvalidStructurePolicy)
	fmt.Fprintf(&sb, "Cache clears:        %d\n", rep.CacheClears)
	fmt.Fprintf(&sb, "Train / test:        %d / %d\n", rep.TrainRows, rep.TestRows)
	fmt.Fprintf(&sb, "Duration:            %s\n\n", rep.Duration)
	sb.WriteString(FormatTable(r.TableHeaders(), r.TableRows()))
	fmt.Fprintf(&sb, "\nWrote %d files to %s\n", len(r.Files), r.OutputDir)
	for _, p := range r.Published {
		fmt.Fprintf(&sb, "Published %s\n", p)
	}
	return sb.String()
}

func (r *PreprocessResult) TableHeaders() []string {
	return []string{"CLASS", "COUNT", "PERCENT"}
}

func (r *PreprocessResult) TableRows() [][]string {
	rows := make([][]string, 0, len(r.Report.Distribution))
	for _, c := range r.Report.Distribution {
		rows = append(rows, []string{string(c.Label), fmt.Sprintf("%d", c.Count), fmt.Sprintf("%.2f%%", c.Percent)})
	}
	return rows
}

// NewPreprocessCmd builds the feature matrices and the scoring artifact from
// the reference and interactions tables.
func NewPreprocessCmd() *cobra.Command {
	f := &preprocessFlags{}
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Encode the interaction corpus into train/test feature matrices",
		Long: "Reads the drug reference table and streams the interactions table in\n" +
			"chunks, labels each description, encodes both drugs and writes a\n" +
			"stratified train/test split together with the scoring artifact.",
		Example: "  ddi preprocess --reference data/structure_links.csv --interactions data/db_drug_interactions.csv\n" +
			"  ddi preprocess --max-samples 20000 --invalid-structures skip --publish",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.reference, "reference", "", "drug reference table (Name, Drug name, Smiles)")
	fl.StringVar(&f.interactions, "interactions", "", "interactions table (Drug 1, Drug 2, Interaction Description)")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory for matrices and the artifact")
	fl.IntVar(&f.batchSize, "batch-size", config.DefaultBatchSize, "rows per chunk")
	fl.IntVar(&f.maxSamples, "max-samples", config.DefaultMaxSamples, "target number of rows to keep")
	fl.Float64Var(&f.testFraction, "test-fraction", config.DefaultTestFraction, "held-out fraction")
	fl.Int64Var(&f.seed, "seed", config.DefaultRandomSeed, "random seed for sampling and the split")
	fl.StringVar(&f.invalid, "invalid-structures", config.DefaultInvalidStructurePolicy, "invalid structure policy (zero_fill, skip)")
	fl.BoolVar(&f.publish, "publish", false, "upload the outputs to the artifact bucket")
	return cmd
}

// resolvePreprocess merges config values with the flags the user set.
func resolvePreprocess(cmd *cobra.Command, cfg *config.Config, f *preprocessFlags) (deepddi.PreprocessOptions, string, string, string) {
	pc := cfg.Preprocess
	changed := cmd.Flags().Changed
	if f.reference != "" {
		pc.ReferencePath = f.reference
	}
	if f.interactions != "" {
		pc.InteractionsPath = f.interactions
	}
	if f.outputDir != "" {
		pc.OutputDir = f.outputDir
	}
	if changed("batch-size") {
		pc.BatchSize = f.batchSize
	}
	if changed("max-samples") {
		pc.MaxSamples = f.maxSamples
	}
	if changed("test-fraction") {
		pc.TestFraction = f.testFraction
	}
	if changed("seed") {
		pc.RandomSeed = f.seed
	}
	if changed("invalid-structures") {
		pc.InvalidStructurePolicy = f.invalid
	}

	opts := deepddi.PreprocessOptions{
		FingerprintSize:        cfg.Fingerprint.Size,
		Radius:                 cfg.Fingerprint.Radius,
		BatchSize:              pc.BatchSize,
		MaxSamples:             pc.MaxSamples,
		TestFraction:           pc.TestFraction,
		RandomSeed:             pc.RandomSeed,
		CacheMaxEntries:        cfg.Fingerprint.CacheMaxEntries,
		InvalidStructurePolicy: deepddi.InvalidStructurePolicy(pc.InvalidStructurePolicy),
	}
	return opts, pc.ReferencePath, pc.InteractionsPath, pc.OutputDir
}

func runPreprocess(cmd *cobra.Command, f *preprocessFlags) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg := cliCtx.Config
	ctx := cmd.Context()

	opts, refPath, interPath, outDir := resolvePreprocess(cmd, cfg, f)
	if refPath == "" || interPath == "" {
		return errors.InvalidParam("both --reference and --interactions are required")
	}
	pre, err := deepddi.NewCorpusPreprocessor(opts, nil, cliCtx.Logger, cliCtx.Metrics)
	if err != nil {
		return err
	}
	ds, err := pre.PreprocessFiles(ctx, refPath, interPath)
	if err != nil {
		return err
	}
	if err := deepddi.SaveDataset(outDir, cfg.Artifacts.ArtifactFile, ds); err != nil {
		return err
	}

	files := []string{
		deepddi.FileXTrain, deepddi.FileXTest,
		deepddi.FileYTrain, deepddi.FileYTest,
		cfg.Artifacts.ArtifactFile,
	}
	res := &PreprocessResult{OutputDir: outDir, Files: files, Options: opts, Report: ds.Report}
	cliCtx.Logger.Info("dataset written",
		logging.String("dir", outDir),
		logging.Int("train_rows", ds.Report.TrainRows),
		logging.Int("test_rows", ds.Report.TestRows))

	if f.publish {
		bucket, err := minio.NewClient(&cfg.MinIO, cfg.Artifacts.ObjectPrefix, cliCtx.Logger)
		if err != nil {
			return err
		}
		for _, name := range files {
			if err := bucket.UploadFile(ctx, name, filepath.Join(outDir, name)); err != nil {
				return err
			}
			res.Published = append(res.Published, bucket.ObjectKey(name))
		}
	}

	writeMetrics(cliCtx)
	return PrintResult(cmd, res)
}
