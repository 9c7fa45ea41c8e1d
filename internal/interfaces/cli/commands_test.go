package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/DDI-Intelligence/internal/config"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

func predictionEnv(t *testing.T) (*testEnv, string) {
	t.Helper()
	env := newTestEnv(t)
	env.writeArtifacts(t)
	return env, env.write(t)
}

func TestPredictCmd_Names(t *testing.T) {
	env, path := predictionEnv(t)

	out, err := runCLI(t, "--config", path, "-o", "json", "predict", "Aspirin", "Warfarin")
	require.NoError(t, err)

	var res itypes.PredictionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Aspirin + Warfarin", res.DrugPair)
	assert.Equal(t, "Aspirin", res.DrugA)
	assert.Equal(t, aspirinSMILES, res.SMILESA)
	assert.Equal(t, warfarinSMILES, res.SMILESB)
	assert.Equal(t, itypes.LabelModerate, res.PredictedClass)
	assert.Equal(t, itypes.TierModerate, res.Severity)
	assert.Equal(t, "cli-test", res.ModelVersion)
	assert.InDelta(t, 66.5, res.Confidence, 0.1)
	assert.False(t, res.Cached)

	prom, err := os.ReadFile(filepath.Join(env.dir, "ddi.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "ddi_intelligence_inference_total")
	assert.Contains(t, string(prom), "ddi_intelligence_model_load_duration_milliseconds")
}

func TestPredictCmd_TextOutput(t *testing.T) {
	_, path := predictionEnv(t)

	out, err := runCLI(t, "--config", path, "predict", "DB00945", "Ibuprofen")
	require.NoError(t, err)
	assert.Contains(t, out, "Pair:            DB00945 + Ibuprofen\n")
	assert.Contains(t, out, "Prediction:      Moderate")
	assert.Contains(t, out, "Recommendations:\n  - ")
	assert.Contains(t, out, "Model version:   cli-test\n")
}

func TestPredictCmd_SMILES(t *testing.T) {
	_, path := predictionEnv(t)

	out, err := runCLI(t, "--config", path, "-o", "json", "predict", "--smiles", aspirinSMILES, "CCO")
	require.NoError(t, err)
	var res itypes.PredictionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "CCO", res.SMILESB)
	assert.Empty(t, res.DrugA)

	_, err = runCLI(t, "--config", path, "predict", "--smiles", aspirinSMILES, "C1CC")
	assert.True(t, errors.IsInvalidStructure(err), "got %v", err)
}

func TestPredictCmd_Errors(t *testing.T) {
	_, path := predictionEnv(t)

	_, err := runCLI(t, "--config", path, "predict", "Aspirin", "Nothing")
	assert.True(t, errors.IsUnknownDrug(err), "got %v", err)

	_, err = runCLI(t, "--config", path, "predict", "Aspirin")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", path, "predict", "--batch", "pairs.csv", "Aspirin", "Warfarin")
	assert.Error(t, err)

	empty := newTestEnv(t)
	_, err = runCLI(t, "--config", empty.write(t), "predict", "Aspirin", "Warfarin")
	assert.True(t, errors.IsArtifactNotLoaded(err), "got %v", err)
}

func TestPredictCmd_Batch(t *testing.T) {
	env, path := predictionEnv(t)
	batch := filepath.Join(env.dir, "pairs.csv")
	require.NoError(t, os.WriteFile(batch, []byte(
		"Drug 1,Drug 2\nAspirin,Warfarin\nUnknown,Warfarin\nDB00945,Ibuprofen\n"), 0o644))

	out, err := runCLI(t, "--config", path, "-o", "json", "predict", "--batch", batch)
	require.NoError(t, err)

	var res BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Rows, 3)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	for i, r := range res.Rows {
		assert.Equal(t, i+1, r.Row)
	}
	assert.Equal(t, "Aspirin + Warfarin", res.Rows[0].Result.DrugPair)
	assert.Nil(t, res.Rows[1].Result)
	assert.Contains(t, res.Rows[1].Error, string(errors.ErrCodeUnknownDrug))
	assert.Equal(t, "DB00945 + Ibuprofen", res.Rows[2].Result.DrugPair)
}

func TestPredictBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := predictBatch(ctx, deepddi.NewPredictor(), false, [][2]string{{"a", "b"}}, 1)
	assert.Error(t, err)
}

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs(strings.NewReader("\ufeffDrug 2,Extra,Drug 1\n B ,x, A \nshort\n"))
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"A", "B"}}, pairs)

	_, err = parsePairs(strings.NewReader("First,Second\na,b\n"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCorpusSchema))

	_, err = parsePairs(strings.NewReader("Drug 1,Drug 2\n"))
	assert.Error(t, err)

	_, err = readPairs(filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageError))
}

func TestPredictCmd_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t).withRedis(mr.Addr())
	env.writeArtifacts(t)
	path := env.write(t)

	first, err := runCLI(t, "--config", path, "-o", "json", "predict", "Aspirin", "Warfarin")
	require.NoError(t, err)
	var res itypes.PredictionResult
	require.NoError(t, json.Unmarshal([]byte(first), &res))
	assert.False(t, res.Cached)
	assert.Len(t, mr.Keys(), 1)

	second, err := runCLI(t, "--config", path, "-o", "json", "predict", "Aspirin", "Warfarin")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(second), &res))
	assert.True(t, res.Cached)
	assert.Equal(t, "Aspirin + Warfarin", res.DrugPair)

	out, err := runCLI(t, "--config", path, "-o", "json", "cache", "purge")
	require.NoError(t, err)
	var purge PurgeResult
	require.NoError(t, json.Unmarshal([]byte(out), &purge))
	assert.Equal(t, int64(1), purge.Deleted)
	assert.Equal(t, "ddi:", purge.Prefix)
	assert.Empty(t, mr.Keys())
}

func TestPredictCmd_UnreachableRedisOnlyDisablesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	env := newTestEnv(t).withRedis(addr)
	env.writeArtifacts(t)
	_, err := runCLI(t, "--config", env.write(t), "predict", "Aspirin", "Warfarin")
	assert.NoError(t, err)
}

func TestCachePurgeCmd_KeepsOtherKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("ddi:pred:aaa", "{}"))
	require.NoError(t, mr.Set("ddi:pred:bbb", "{}"))
	require.NoError(t, mr.Set("other:pred:ccc", "{}"))

	env := newTestEnv(t).withRedis(mr.Addr())
	out, err := runCLI(t, "--config", env.write(t), "cache", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 cached predictions")
	assert.Equal(t, []string{"other:pred:ccc"}, mr.Keys())
}

func TestResolveCmd(t *testing.T) {
	_, path := predictionEnv(t)

	out, err := runCLI(t, "--config", path, "resolve", "DB00945")
	require.NoError(t, err)
	assert.Equal(t, "DB00945\t"+aspirinSMILES+"\n", out)

	_, err = runCLI(t, "--config", path, "resolve", "Nothing")
	assert.True(t, errors.IsUnknownDrug(err), "got %v", err)
}

func TestSearchCmd(t *testing.T) {
	_, path := predictionEnv(t)

	out, err := runCLI(t, "--config", path, "-o", "json", "search", "SPIR")
	require.NoError(t, err)
	var res SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"Aspirin"}, res.Matches)

	out, err = runCLI(t, "--config", path, "search", "in", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "Aspirin\n", out)

	out, err = runCLI(t, "--config", path, "search", "a")
	require.NoError(t, err)
	assert.Equal(t, "no drugs match \"a\"\n", out)
}

func TestStatusCmd(t *testing.T) {
	_, path := predictionEnv(t)

	out, err := runCLI(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Model loaded:      true\n")
	assert.Contains(t, out, "Fingerprint:       64 bits, radius 2\n")
	assert.Contains(t, out, "Classes:           Moderate, None, Severe\n")
	assert.Contains(t, out, "Indexed drugs:     4\n")
}

// ---------------------------------------------------------------------------
// preprocess
// ---------------------------------------------------------------------------

const cliReferenceTable = `Name,Drug name,Smiles
Aspirin,DB00945,CC(=O)OC1=CC=CC=C1C(=O)O
Ibuprofen,DB01050,CC(C)Cc1ccc(cc1)C(C)C(=O)O
Warfarin,DB00682,CC(=O)CC(c1ccccc1)c1c(O)c2ccccc2oc1=O
`

func writeCorpus(t *testing.T, dir string, rows int) (string, string) {
	t.Helper()
	texts := []string{
		"Aspirin may increase the anticoagulant activities of Warfarin.",
		"The combination is contraindicated.",
		"No known interaction.",
	}
	drugs := []string{"Aspirin", "Ibuprofen", "DB00682"}

	var sb strings.Builder
	sb.WriteString("Drug 1,Drug 2,Interaction Description\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "%s,%s,%q\n", drugs[i%3], drugs[(i+1)%3], texts[i%3])
	}
	sb.WriteString("Unknown,Aspirin,\"The risk or severity of bleeding can be increased.\"\n")

	ref := filepath.Join(dir, "structure_links.csv")
	inter := filepath.Join(dir, "db_drug_interactions.csv")
	require.NoError(t, os.WriteFile(ref, []byte(cliReferenceTable), 0o644))
	require.NoError(t, os.WriteFile(inter, []byte(sb.String()), 0o644))
	return ref, inter
}

func TestPreprocessCmd(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t)
	ref, inter := writeCorpus(t, env.dir, 30)
	outDir := filepath.Join(env.dir, "out")

	out, err := runCLI(t, "--config", path, "-o", "json", "preprocess",
		"--reference", ref, "--interactions", inter, "--output-dir", outDir,
		"--batch-size", "8", "--test-fraction", "0.2")
	require.NoError(t, err)

	var res PreprocessResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 31, res.Report.TotalRows)
	assert.Equal(t, 30, res.Report.Processed)
	assert.Equal(t, 1, res.Report.SkippedUnknown)
	assert.Equal(t, 4, res.Report.Chunks)
	assert.Equal(t, 6, res.Report.TestRows)
	assert.Equal(t, 24, res.Report.TrainRows)
	assert.Equal(t, 8, res.Options.BatchSize)
	assert.Equal(t, testFingerprintSize, res.Options.FingerprintSize)
	assert.Equal(t, deepddi.PolicyZeroFill, res.Options.InvalidStructurePolicy)
	assert.Empty(t, res.Published)

	for _, name := range res.Files {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
	artifact, err := deepddi.LoadArtifactFile(filepath.Join(outDir, config.DefaultArtifactFile))
	require.NoError(t, err)
	assert.Equal(t, testFingerprintSize, artifact.FingerprintSize)
	assert.Equal(t, []itypes.SeverityLabel{itypes.LabelModerate, itypes.LabelNone, itypes.LabelSevere},
		artifact.Taxonomy.Labels())

	xTest, err := deepddi.LoadMatrixFile(filepath.Join(outDir, deepddi.FileXTest))
	require.NoError(t, err)
	require.Len(t, xTest, 6)
	assert.Len(t, xTest[0], 2*testFingerprintSize)
}

func TestPreprocessCmd_TextReport(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t)
	ref, inter := writeCorpus(t, env.dir, 9)

	out, err := runCLI(t, "--config", path, "preprocess",
		"--reference", ref, "--interactions", inter, "--output-dir", filepath.Join(env.dir, "out"))
	require.NoError(t, err)
	assert.Contains(t, out, "Processed:           9\n")
	assert.Contains(t, out, "CLASS     COUNT  PERCENT\n")
	assert.Contains(t, out, "Moderate  3      33.33%\n")
	assert.Contains(t, out, "Wrote 5 files to ")
}

func TestPreprocessCmd_Errors(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t)

	_, err := runCLI(t, "--config", path, "preprocess")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--reference and --interactions")

	ref, inter := writeCorpus(t, env.dir, 9)
	_, err = runCLI(t, "--config", path, "preprocess", "--reference", ref, "--interactions", inter,
		"--invalid-structures", "drop")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", path, "preprocess", "--reference", ref,
		"--interactions", filepath.Join(env.dir, "missing.csv"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageError), "got %v", err)
}

func TestResolvePreprocess_FlagsOverrideConfig(t *testing.T) {
	cmd := NewPreprocessCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--max-samples", "500", "--seed", "7"}))

	cfg := config.Default()
	cfg.Preprocess.BatchSize = 123
	cfg.Preprocess.ReferencePath = "ref.csv"
	cfg.Preprocess.InteractionsPath = "inter.csv"

	f := &preprocessFlags{maxSamples: 500, seed: 7, batchSize: config.DefaultBatchSize}
	opts, refPath, interPath, outDir := resolvePreprocess(cmd, cfg, f)
	assert.Equal(t, 123, opts.BatchSize)
	assert.Equal(t, 500, opts.MaxSamples)
	assert.Equal(t, int64(7), opts.RandomSeed)
	assert.Equal(t, "ref.csv", refPath)
	assert.Equal(t, "inter.csv", interPath)
	assert.Equal(t, config.DefaultOutputDir, outDir)
	assert.Equal(t, cfg.Fingerprint.Size, opts.FingerprintSize)
}

func TestDatasetCmd(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t)
	ref, inter := writeCorpus(t, env.dir, 30)
	outDir := filepath.Join(env.dir, "out")

	_, err := runCLI(t, "--config", path, "preprocess",
		"--reference", ref, "--interactions", inter, "--output-dir", outDir, "--test-fraction", "0.2")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", path, "-o", "json", "dataset", outDir)
	require.NoError(t, err)
	var sum deepddi.DatasetSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, outDir, sum.Dir)
	assert.Equal(t, testFingerprintSize, sum.FingerprintSize)
	assert.Equal(t, 24, sum.Train.Rows)
	assert.Equal(t, 6, sum.Test.Rows)
	assert.Equal(t, 2*testFingerprintSize, sum.Test.Cols)
	require.Len(t, sum.Train.Distribution, 3)
	total := 0
	for _, c := range sum.Train.Distribution {
		total += c.Count
	}
	assert.Equal(t, 24, total)

	out, err = runCLI(t, "--config", path, "dataset", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Train:        24 x ")
	assert.Contains(t, out, "CLASS")
	assert.Contains(t, out, "Severe")
}

func TestDatasetCmd_MissingDir(t *testing.T) {
	env := newTestEnv(t)
	_, err := runCLI(t, "--config", env.write(t), "dataset", filepath.Join(env.dir, "nothing"))
	assert.Error(t, err)
}
