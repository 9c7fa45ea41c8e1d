package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

type predictFlags struct {
	smiles bool
	batch  string
}

// PredictionView renders one prediction.
type PredictionView struct {
	*itypes.PredictionResult
}

func (v PredictionView) String() string {
	r := v.PredictionResult
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pair:            %s\n", r.DrugPair)
	fmt.Fprintf(&sb, "Prediction:      %s (%.1f%% confidence, %s)\n", r.PredictedClass, r.Confidence, r.ConfidenceTier)
	fmt.Fprintf(&sb, "Severity:        %s\n", r.Severity)
	fmt.Fprintf(&sb, "Risk score:      %.1f\n", r.RiskScore)
	fmt.Fprintf(&sb, "Assessment:      %s\n", r.RiskMessage)
	fmt.Fprintf(&sb, "Description:     %s\n", r.Description)
	fmt.Fprintf(&sb, "Mechanism:       %s\n", r.Mechanism)
	sb.WriteString("Probabilities:\n")
	for _, label := range r.Classes {
		fmt.Fprintf(&sb, "  %-9s %6.2f%%\n", label, r.Probabilities[label])
	}
	sb.WriteString("Recommendations:\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&sb, "  - %s\n", rec)
	}
	if r.ModelVersion != "" {
		fmt.Fprintf(&sb, "Model version:   %s\n", r.ModelVersion)
	}
	if r.Cached {
		sb.WriteString("(served from cache)\n")
	}
	return sb.String()
}

func (v PredictionView) TableHeaders() []string { return []string{"CLASS", "PROBABILITY"} }

func (v PredictionView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Classes))
	for _, label := range v.Classes {
		rows = append(rows, []string{string(label), fmt.Sprintf("%.2f%%", v.Probabilities[label])})
	}
	return rows
}

// BatchRow is one line of a batch prediction.
type BatchRow struct {
	Row    int                      `json:"row"`
	DrugA  string                   `json:"drug_a"`
	DrugB  string                   `json:"drug_b"`
	Result *itypes.PredictionResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// BatchResult holds batch predictions in input order.
type BatchResult struct {
	Rows      []BatchRow `json:"rows"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

func (b *BatchResult) String() string {
	return FormatTable(b.TableHeaders(), b.TableRows()) +
		fmt.Sprintf("\n%d succeeded, %d failed\n", b.Succeeded, b.Failed)
}

func (b *BatchResult) TableHeaders() []string {
	return []string{"ROW", "DRUG A", "DRUG B", "PREDICTION", "CONFIDENCE", "SEVERITY", "ERROR"}
}

func (b *BatchResult) TableRows() [][]string {
	rows := make([][]string, 0, len(b.Rows))
	for _, r := range b.Rows {
		line := []string{fmt.Sprintf("%d", r.Row), r.DrugA, r.DrugB, "", "", "", r.Error}
		if r.Result != nil {
			line[3] = string(r.Result.PredictedClass)
			line[4] = fmt.Sprintf("%.1f%%", r.Result.Confidence)
			line[5] = string(r.Result.Severity)
		}
		rows = append(rows, line)
	}
	return rows
}

// NewPredictCmd scores a drug pair, or every pair of a CSV file.
func NewPredictCmd() *cobra.Command {
	f := &predictFlags{}
	cmd := &cobra.Command{
		Use:   "predict [DRUG_A DRUG_B]",
		Short: "Predict the interaction severity of a drug pair",
		Long: "Resolves both drugs through the drug index, encodes their structures\n" +
			"and reports the predicted severity. Pair order matters: the first drug\n" +
			"fills the first half of the feature vector.\n\n" +
			"With --batch the pairs come from a CSV file with \"Drug 1\" and \"Drug 2\"\n" +
			"columns; failures are reported per row.",
		Example: "  ddi predict Aspirin Warfarin\n" +
			"  ddi predict --smiles 'CC(=O)OC1=CC=CC=C1C(=O)O' 'CC(C)CC1=CC=C(C=C1)C(C)C(=O)O'\n" +
			"  ddi predict --batch pairs.csv -o json",
		Args: func(cmd *cobra.Command, args []string) error {
			if f.batch != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.smiles, "smiles", false, "treat inputs as SMILES strings instead of drug names")
	cmd.Flags().StringVar(&f.batch, "batch", "", "CSV file of pairs to score")
	return cmd
}

func runPredict(cmd *cobra.Command, args []string, f *predictFlags) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, cleanup, err := newPredictor(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer cleanup()
	defer writeMetrics(cliCtx)

	if f.batch == "" {
		res, err := predictPair(ctx, p, f.smiles, args[0], args[1])
		if err != nil {
			return err
		}
		return PrintResult(cmd, PredictionView{res})
	}

	pairs, err := readPairs(f.batch)
	if err != nil {
		return err
	}
	res, err := predictBatch(ctx, p, f.smiles, pairs, cliCtx.Config.Predict.Concurrency)
	if err != nil {
		return err
	}
	cliCtx.Logger.Info("batch prediction finished",
		logging.Int("rows", len(res.Rows)),
		logging.Int("failed", res.Failed))
	return PrintResult(cmd, res)
}

func predictPair(ctx context.Context, p *deepddi.Predictor, smiles bool, a, b string) (*itypes.PredictionResult, error) {
	if smiles {
		return p.PredictFromSMILES(ctx, a, b)
	}
	return p.PredictFromNames(ctx, a, b)
}

// predictBatch scores pairs with at most limit in flight. Row failures are
// recorded on the row; only cancellation fails the batch.
func predictBatch(ctx context.Context, p *deepddi.Predictor, smiles bool, pairs [][2]string, limit int) (*BatchResult, error) {
	rows := make([]BatchRow, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row := BatchRow{Row: i + 1, DrugA: pair[0], DrugB: pair[1]}
			res, err := predictPair(gctx, p, smiles, pair[0], pair[1])
			if err != nil {
				row.Error = err.Error()
			} else {
				row.Result = res
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "batch prediction interrupted")
	}

	out := &BatchResult{Rows: rows}
	for _, r := range rows {
		if r.Result != nil {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

// readPairs reads the "Drug 1" and "Drug 2" columns of a CSV file.
func readPairs(path string) ([][2]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open batch file").WithDetailf("path=%q", path)
	}
	defer fh.Close()
	return parsePairs(fh)
}

func parsePairs(r io.Reader) ([][2]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCorpusSchema, "read batch header")
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	ia, okA := cols[deepddi.ColumnDrug1]
	ib, okB := cols[deepddi.ColumnDrug2]
	if !okA || !okB {
		have := make([]string, 0, len(cols))
		for k := range cols {
			have = append(have, k)
		}
		sort.Strings(have)
		return nil, errors.New(errors.ErrCodeCorpusSchema, "batch file needs \"Drug 1\" and \"Drug 2\" columns").
			WithDetailf("columns=%v", have)
	}

	var pairs [][2]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCorpusSchema, "read batch row")
		}
		if ia >= len(rec) || ib >= len(rec) {
			continue
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(rec[ia]), strings.TrimSpace(rec[ib])})
	}
	if len(pairs) == 0 {
		return nil, errors.InvalidParam("batch file has no pairs")
	}
	return pairs, nil
}
