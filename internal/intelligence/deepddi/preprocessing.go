package deepddi

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/turtacn/DDI-Intelligence/internal/domain/interaction"
	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/common"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// Interactions table columns.
const (
	ColumnDrug1       = "Drug 1"
	ColumnDrug2       = "Drug 2"
	ColumnDescription = "Interaction Description"
)

// InvalidStructurePolicy decides what batch preprocessing does with a row
// whose structure does not parse.
type InvalidStructurePolicy string

const (
	// PolicyZeroFill keeps the row with an all-zero fingerprint half.
	PolicyZeroFill InvalidStructurePolicy = "zero_fill"
	// PolicySkip drops the row.
	PolicySkip InvalidStructurePolicy = "skip"
)

const fingerprintCacheName = "fingerprint"

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// PreprocessOptions configures one preprocessing run.
type PreprocessOptions struct {
	FingerprintSize        int                    `json:"fingerprint_size" yaml:"fingerprint_size"`
	Radius                 int                    `json:"radius" yaml:"radius"`
	BatchSize              int                    `json:"batch_size" yaml:"batch_size"`
	MaxSamples             int                    `json:"max_samples" yaml:"max_samples"`
	TestFraction           float64                `json:"test_fraction" yaml:"test_fraction"`
	RandomSeed             int64                  `json:"random_seed" yaml:"random_seed"`
	CacheMaxEntries        int                    `json:"cache_max_entries" yaml:"cache_max_entries"`
	InvalidStructurePolicy InvalidStructurePolicy `json:"invalid_structure_policy" yaml:"invalid_structure_policy"`
}

// DefaultPreprocessOptions returns the reference settings.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		FingerprintSize:        molecule.DefaultFingerprintSize,
		Radius:                 molecule.DefaultRadius,
		BatchSize:              10000,
		MaxSamples:             50000,
		TestFraction:           0.2,
		RandomSeed:             42,
		CacheMaxEntries:        molecule.DefaultCacheMaxEntries,
		InvalidStructurePolicy: PolicyZeroFill,
	}
}

// Validate checks every field.
func (o *PreprocessOptions) Validate() error {
	switch {
	case o.FingerprintSize < 1:
		return errors.InvalidParam("fingerprint_size must be positive")
	case o.Radius < 0:
		return errors.InvalidParam("radius must not be negative")
	case o.BatchSize < 1:
		return errors.InvalidParam("batch_size must be positive")
	case o.MaxSamples < 1:
		return errors.InvalidParam("max_samples must be positive")
	case o.TestFraction <= 0 || o.TestFraction >= 1:
		return errors.InvalidParam("test_fraction must be in (0, 1)")
	}
	switch o.InvalidStructurePolicy {
	case PolicyZeroFill, PolicySkip:
	default:
		return errors.InvalidParam("unknown invalid structure policy").
			WithDetailf("policy=%q", o.InvalidStructurePolicy)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// PreprocessReport summarizes a run.
type PreprocessReport struct {
	TotalRows         int                 `json:"total_rows"`
	SampleRatio       float64             `json:"sample_ratio"`
	RowsConsidered    int                 `json:"rows_considered"`
	Processed         int                 `json:"processed"`
	SkippedUnknown    int                 `json:"skipped_unknown"`
	InvalidStructures int                 `json:"invalid_structures"`
	SkippedInvalid    int                 `json:"skipped_invalid"`
	Chunks            int                 `json:"chunks"`
	CacheClears       int                 `json:"cache_clears"`
	Distribution      []itypes.ClassCount `json:"distribution"`
	TrainRows         int                 `json:"train_rows"`
	TestRows          int                 `json:"test_rows"`
	Duration          time.Duration       `json:"duration"`
}

// Dataset is the output of a preprocessing run.
type Dataset struct {
	XTrain   []molecule.Vector
	XTest    []molecule.Vector
	YTrain   []int
	YTest    []int
	Artifact *ScoringArtifact
	Report   PreprocessReport
}

// Taxonomy is shorthand for Artifact.Taxonomy.
func (d *Dataset) Taxonomy() *interaction.Taxonomy { return d.Artifact.Taxonomy }

// TableOpener reopens the interactions table. The table is read twice: once
// to count rows, once to stream them.
type TableOpener func() (io.ReadCloser, error)

// FileOpener returns a TableOpener for path.
func FileOpener(path string) TableOpener {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open interactions table").
				WithDetailf("path=%q", path)
		}
		return f, nil
	}
}

// ---------------------------------------------------------------------------
// CorpusPreprocessor
// ---------------------------------------------------------------------------

// CorpusPreprocessor streams an interactions table into feature matrices.
// A run is single-threaded; memory stays bounded by chunked reads and by
// clearing the fingerprint cache after any chunk that left it over its bound.
type CorpusPreprocessor struct {
	opts    PreprocessOptions
	labeler *interaction.SeverityLabeler
	logger  logging.Logger
	metrics common.IntelligenceMetrics
}

// NewCorpusPreprocessor validates opts and wires the collaborators. A nil
// labeler selects the default lexicon.
func NewCorpusPreprocessor(
	opts PreprocessOptions,
	labeler *interaction.SeverityLabeler,
	logger logging.Logger,
	metrics common.IntelligenceMetrics,
) (*CorpusPreprocessor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if labeler == nil {
		labeler = interaction.DefaultSeverityLabeler()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = common.NewNoopIntelligenceMetrics()
	}
	return &CorpusPreprocessor{
		opts:    opts,
		labeler: labeler,
		logger:  logger.Named("preprocess"),
		metrics: metrics,
	}, nil
}

// PreprocessFiles runs Preprocess over two CSV files.
func (p *CorpusPreprocessor) PreprocessFiles(ctx context.Context, referencePath, interactionsPath string) (*Dataset, error) {
	ref, err := os.Open(referencePath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open reference table").
			WithDetailf("path=%q", referencePath)
	}
	defer ref.Close()
	return p.Preprocess(ctx, ref, FileOpener(interactionsPath))
}

// Preprocess builds the drug index from reference, streams the interactions
// table and returns the stratified split with its scoring artifact. Per-row
// problems are counted; only table-level failures abort.
func (p *CorpusPreprocessor) Preprocess(ctx context.Context, reference io.Reader, interactions TableOpener) (*Dataset, error) {
	start := time.Now()

	index, err := molecule.LoadDrugIndexCSV(reference)
	if err != nil {
		return nil, err
	}
	p.logger.Info("drug index loaded", logging.Int("keys", index.Len()))

	total, err := countRows(interactions)
	if err != nil {
		return nil, err
	}

	report := PreprocessReport{TotalRows: total, SampleRatio: 1}
	maxSamples := p.opts.MaxSamples
	if total > maxSamples {
		report.SampleRatio = float64(maxSamples) / float64(total)
		p.logger.Info("sampling corpus",
			logging.Int("total_rows", total),
			logging.Float64("ratio", report.SampleRatio))
	} else {
		maxSamples = total
	}

	cache := molecule.NewFingerprintCache(p.opts.CacheMaxEntries)
	encoder, err := molecule.NewFingerprintEncoder(p.opts.FingerprintSize, p.opts.Radius, cache)
	if err != nil {
		return nil, err
	}

	rc, err := interactions()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCorpusSchema, "read interactions header")
	}
	cols, err := columnPositions(header, ColumnDrug1, ColumnDrug2, ColumnDescription)
	if err != nil {
		return nil, err
	}

	var (
		features []molecule.Vector
		labels   []itypes.SeverityLabel
		rng      = rand.New(rand.NewSource(p.opts.RandomSeed))
	)
	for processed := 0; processed < maxSamples; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := readChunk(cr, p.opts.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			break
		}
		report.Chunks++
		chunkStart := time.Now()
		if report.SampleRatio < 1 {
			chunk = sampleChunk(chunk, report.SampleRatio, rng)
		}

		stats := common.BatchMetricParams{BatchName: "preprocess", TotalRows: len(chunk)}
		for _, rec := range chunk {
			report.RowsConsidered++
			smilesA, okA := index.Lookup(field(rec, cols[0]))
			smilesB, okB := index.Lookup(field(rec, cols[1]))
			if !okA || !okB {
				report.SkippedUnknown++
				stats.UnknownDrugRows++
				continue
			}

			fa, validA := encoder.EncodeOrZero(smilesA)
			fb, validB := encoder.EncodeOrZero(smilesB)
			if !validA || !validB {
				report.InvalidStructures++
				stats.InvalidStructures++
				if p.opts.InvalidStructurePolicy == PolicySkip {
					report.SkippedInvalid++
					continue
				}
			}

			features = append(features, molecule.ConcatPair(fa, fb))
			labels = append(labels, p.labeler.Classify(field(rec, cols[2])))
			stats.EncodedRows++
			processed++
			if processed >= maxSamples {
				break
			}
		}
		report.Processed = len(features)

		if n := cache.ClearIfExceeds(); n > 0 {
			report.CacheClears++
			p.metrics.RecordCacheEviction(ctx, fingerprintCacheName, n)
			p.logger.Debug("fingerprint cache cleared", logging.Int("entries", n))
		}

		stats.TotalDurationMs = float64(time.Since(chunkStart).Milliseconds())
		p.metrics.RecordBatchProcessing(ctx, &stats)
		p.logger.Info("chunk processed",
			logging.Int("chunk", report.Chunks),
			logging.Int("encoded", stats.EncodedRows),
			logging.Int("processed", report.Processed),
			logging.Int("skipped_unknown", report.SkippedUnknown))
	}

	cs := cache.Stats()
	p.logger.Info("corpus streamed",
		logging.Int("processed", report.Processed),
		logging.Int("skipped_unknown", report.SkippedUnknown),
		logging.Int("invalid_structures", report.InvalidStructures),
		logging.Int64("cache_hits", cs.Hits),
		logging.Int64("cache_misses", cs.Misses))
	if report.InvalidStructures > 0 {
		p.logger.Warn("rows with unparseable structures",
			logging.Int("count", report.InvalidStructures),
			logging.String("policy", string(p.opts.InvalidStructurePolicy)))
	}
	if len(features) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyCorpus, "no interaction rows could be encoded").
			WithDetailf("rows=%d skipped_unknown=%d", report.RowsConsidered, report.SkippedUnknown)
	}

	taxonomy, err := interaction.FitTaxonomy(labels)
	if err != nil {
		return nil, err
	}
	y, err := taxonomy.Encode(labels)
	if err != nil {
		return nil, err
	}
	report.Distribution = taxonomy.Distribution(y)
	for _, c := range report.Distribution {
		p.logger.Info("class distribution",
			logging.String("label", c.Label.String()),
			logging.Int("count", c.Count),
			logging.Float64("percent", c.Percent))
	}

	trainIdx, testIdx, err := StratifiedSplit(y, taxonomy.Len(), p.opts.TestFraction, p.opts.RandomSeed)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Artifact: &ScoringArtifact{
			FingerprintSize: p.opts.FingerprintSize,
			Radius:          p.opts.Radius,
			Taxonomy:        taxonomy,
			DrugIndex:       index,
		},
	}
	ds.XTrain, ds.YTrain = gather(features, y, trainIdx)
	ds.XTest, ds.YTest = gather(features, y, testIdx)
	report.TrainRows = len(ds.YTrain)
	report.TestRows = len(ds.YTest)
	report.Duration = time.Since(start)
	ds.Report = report

	p.logger.Info("dataset split",
		logging.Int("train", report.TrainRows),
		logging.Int("test", report.TestRows),
		logging.Duration("elapsed", report.Duration))
	return ds, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// countRows counts data records, excluding the header.
func countRows(open TableOpener) (int, error) {
	rc, err := open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	n := -1
	for {
		_, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeCorpusSchema, "count interactions rows")
		}
		n++
	}
	if n < 0 {
		return 0, errors.New(errors.ErrCodeCorpusSchema, "interactions table has no header")
	}
	return n, nil
}

func readChunk(cr *csv.Reader, size int) ([][]string, error) {
	chunk := make([][]string, 0, size)
	for len(chunk) < size {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCorpusSchema, "read interactions row")
		}
		chunk = append(chunk, rec)
	}
	return chunk, nil
}

// sampleChunk draws round(ratio*len) rows without replacement, in random
// order. One generator seeded per run drives every chunk.
func sampleChunk(chunk [][]string, ratio float64, rng *rand.Rand) [][]string {
	k := int(math.Round(ratio * float64(len(chunk))))
	perm := rng.Perm(len(chunk))
	out := make([][]string, k)
	for i := 0; i < k; i++ {
		out[i] = chunk[perm[i]]
	}
	return out
}

func columnPositions(header []string, names ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = trimBOM(h)
		}
		pos[h] = i
	}
	out := make([]int, len(names))
	for i, n := range names {
		idx, ok := pos[n]
		if !ok {
			return nil, errors.New(errors.ErrCodeCorpusSchema, "interactions table is missing a column").
				WithDetailf("column=%q", n)
		}
		out[i] = idx
	}
	return out, nil
}

func trimBOM(s string) string { return strings.TrimPrefix(s, "\ufeff") }

func field(rec []string, idx int) string {
	if idx < len(rec) {
		return rec[idx]
	}
	return ""
}

func gather(x []molecule.Vector, y []int, idx []int) ([]molecule.Vector, []int) {
	xs := make([]molecule.Vector, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = x[j]
		ys[i] = y[j]
	}
	return xs, ys
}
