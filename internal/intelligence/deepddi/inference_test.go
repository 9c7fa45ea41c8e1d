package deepddi

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/common"
	"github.com/turtacn/DDI-Intelligence/internal/testutil"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

type mockPredictionCache struct {
	mock.Mock
}

func (m *mockPredictionCache) Get(ctx context.Context, scope, a, b string) (*itypes.PredictionResult, bool, error) {
	args := m.Called(ctx, scope, a, b)
	res, _ := args.Get(0).(*itypes.PredictionResult)
	return res, args.Bool(1), args.Error(2)
}

func (m *mockPredictionCache) Set(ctx context.Context, scope, a, b string, res *itypes.PredictionResult) error {
	return m.Called(ctx, scope, a, b, res).Error(0)
}

// memoryPredictionCache is a shared in-process cache keyed like the redis one.
type memoryPredictionCache struct {
	entries map[string]*itypes.PredictionResult
}

func newMemoryPredictionCache() *memoryPredictionCache {
	return &memoryPredictionCache{entries: map[string]*itypes.PredictionResult{}}
}

func (c *memoryPredictionCache) Get(_ context.Context, scope, a, b string) (*itypes.PredictionResult, bool, error) {
	res, ok := c.entries[scope+"\x00"+a+"\x00"+b]
	return res, ok, nil
}

func (c *memoryPredictionCache) Set(_ context.Context, scope, a, b string, res *itypes.PredictionResult) error {
	c.entries[scope+"\x00"+a+"\x00"+b] = res
	return nil
}

func loadedPredictor(t *testing.T, opts ...PredictorOption) (*Predictor, *ScoringArtifact) {
	t.Helper()
	a := testArtifact(t)
	p := NewPredictor(opts...)
	require.NoError(t, p.Load(a, randomModel(t, a.FeatureWidth(), 16, a.Taxonomy.Labels(), 21)))
	return p, a
}

func TestPredictor_NotLoaded(t *testing.T) {
	p := NewPredictor()
	ctx := context.Background()

	assert.False(t, p.Ready())
	assert.False(t, p.Status().ModelLoaded)

	_, err := p.PredictFromNames(ctx, "Aspirin", "Warfarin")
	assert.True(t, errors.IsArtifactNotLoaded(err))
	_, err = p.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	assert.True(t, errors.IsArtifactNotLoaded(err))
	_, err = p.ScorePair(ctx, make(molecule.Vector, 2*testFingerprintSize))
	assert.True(t, errors.IsArtifactNotLoaded(err))
	_, err = p.ResolveDrug("Aspirin")
	assert.True(t, errors.IsArtifactNotLoaded(err))
	_, err = p.SearchDrugs("asp")
	assert.True(t, errors.IsArtifactNotLoaded(err))
}

func TestPredictor_LoadRejectsMismatch(t *testing.T) {
	a := testArtifact(t)
	p := NewPredictor()

	err := p.Load(a, randomModel(t, a.FeatureWidth()-1, 4, a.Taxonomy.Labels(), 1))
	assert.True(t, errors.IsFeatureShape(err))
	assert.False(t, p.Ready())

	require.NoError(t, p.Load(a, randomModel(t, a.FeatureWidth(), 4, a.Taxonomy.Labels(), 1)))
	err = p.Load(a, &fixedScorer{inputDim: a.FeatureWidth(), probs: []float64{0.5, 0.5}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeTaxonomyMismatch))
	assert.True(t, p.Ready(), "a failed reload keeps the previous model")
}

func TestPredictor_PredictFromNames(t *testing.T) {
	metrics := common.NewInMemoryIntelligenceMetrics()
	p, a := loadedPredictor(t, WithMetrics(metrics))

	res, err := p.PredictFromNames(context.Background(), "Aspirin", "Warfarin")
	require.NoError(t, err)

	assert.Equal(t, "Aspirin + Warfarin", res.DrugPair)
	assert.Equal(t, "Aspirin", res.DrugA)
	assert.Equal(t, "Warfarin", res.DrugB)
	assert.Equal(t, aspirinSMILES, res.SMILESA)
	assert.Equal(t, warfarinSMILES, res.SMILESB)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "test", res.ModelVersion)
	assert.False(t, res.Cached)
	assert.Contains(t, a.Taxonomy.Labels(), res.PredictedClass)
	assert.InDelta(t, res.RawProbabilities[res.ClassIndex]*100, res.Confidence, 1e-9)

	infs := metrics.Inferences()
	require.Len(t, infs, 1)
	assert.Equal(t, InputModeNames, infs[0].InputMode)
	assert.True(t, infs[0].Success)
	assert.Equal(t, int64(1), metrics.RiskCounts()[string(res.Severity)])
}

func TestPredictor_RequestIDsAreUnique(t *testing.T) {
	p, _ := loadedPredictor(t)
	ctx := context.Background()
	first, err := p.PredictFromNames(ctx, "Aspirin", "Warfarin")
	require.NoError(t, err)
	second, err := p.PredictFromNames(ctx, "Aspirin", "Warfarin")
	require.NoError(t, err)

	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.RawProbabilities, second.RawProbabilities)
}

func TestPredictor_UnknownDrug(t *testing.T) {
	metrics := common.NewInMemoryIntelligenceMetrics()
	p, _ := loadedPredictor(t, WithMetrics(metrics))

	_, err := p.PredictFromNames(context.Background(), "Aspirin", "Unobtainium")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownDrug))

	infs := metrics.Inferences()
	require.Len(t, infs, 1)
	assert.False(t, infs[0].Success)
}

func TestPredictor_InvalidStructure(t *testing.T) {
	p, _ := loadedPredictor(t)
	ctx := context.Background()

	_, err := p.PredictFromSMILES(ctx, aspirinSMILES, "C1CC")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStructure))

	_, err = p.PredictFromNames(ctx, "Broken", "Aspirin")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidStructure))
}

func TestPredictor_PairOrderMatters(t *testing.T) {
	p, _ := loadedPredictor(t)

	ab, err := p.EncodePair(aspirinSMILES, caffeineSMILES)
	require.NoError(t, err)
	ba, err := p.EncodePair(caffeineSMILES, aspirinSMILES)
	require.NoError(t, err)
	assert.NotEqual(t, ab, ba)
	assert.Equal(t, ab[:testFingerprintSize], ba[testFingerprintSize:])
}

func TestPredictor_SameDrugTwice(t *testing.T) {
	p, _ := loadedPredictor(t)

	smiles, err := p.ResolveDrug("Aspirin")
	require.NoError(t, err)
	assert.Equal(t, aspirinSMILES, smiles)
	byID, err := p.ResolveDrug("DB00945")
	require.NoError(t, err)
	assert.Equal(t, smiles, byID)

	feature, err := p.EncodePair(smiles, smiles)
	require.NoError(t, err)
	require.Len(t, feature, 2*testFingerprintSize)
	assert.Equal(t, feature[:testFingerprintSize], feature[testFingerprintSize:])

	res, err := p.PredictFromNames(context.Background(), "Aspirin", "Aspirin")
	require.NoError(t, err)
	assert.Equal(t, "Aspirin + Aspirin", res.DrugPair)
}

func TestPredictor_ScorePair(t *testing.T) {
	a := testArtifact(t)
	scorer := &fixedScorer{inputDim: a.FeatureWidth(), probs: probsFor(0.9, 0.05, 0.05)}
	p := NewPredictor(WithModelVersion("v2"))
	require.NoError(t, p.Load(a, scorer))

	res, err := p.ScorePair(context.Background(), make(molecule.Vector, a.FeatureWidth()))
	require.NoError(t, err)
	assert.Equal(t, "Drug A + Drug B", res.DrugPair)
	assert.Equal(t, itypes.LabelSevere, res.PredictedClass)
	assert.Equal(t, MessageDangerous, res.RiskMessage)
	assert.Equal(t, "v2", res.ModelVersion)

	_, err = p.ScorePair(context.Background(), make(molecule.Vector, 3))
	assert.True(t, errors.IsFeatureShape(err))
}

func TestPredictor_PredictionCache(t *testing.T) {
	a := testArtifact(t)
	scorer := &fixedScorer{inputDim: a.FeatureWidth(), probs: probsFor(0.1, 0.8, 0.1)}
	cache := &mockPredictionCache{}
	metrics := common.NewInMemoryIntelligenceMetrics()
	p := NewPredictor(WithPredictionCache(cache), WithMetrics(metrics))
	require.NoError(t, p.Load(a, scorer))
	ctx := context.Background()

	var stored *itypes.PredictionResult
	cache.On("Get", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES).Return(nil, false, nil).Once()
	cache.On("Set", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES, mock.AnythingOfType("*interaction.PredictionResult")).
		Run(func(args mock.Arguments) { stored = args.Get(4).(*itypes.PredictionResult) }).
		Return(nil).Once()

	first, err := p.PredictFromNames(ctx, "Aspirin", "Warfarin")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, scorer.calls)
	require.NotNil(t, stored)

	cache.On("Get", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES).Return(stored, true, nil).Once()
	second, err := p.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, scorer.calls, "a cache hit must not score")
	assert.Equal(t, "Drug A + Drug B", second.DrugPair)
	assert.Contains(t, second.Description, "Drug A + Drug B")
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.RawProbabilities, second.RawProbabilities)

	cache.AssertExpectations(t)
	assert.Equal(t, int64(1), metrics.CacheHits())
	assert.Equal(t, int64(1), metrics.CacheMisses())
}

func TestPredictor_PredictionCacheIsScopedToModel(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryPredictionCache()

	a := testArtifact(t)
	v1 := &fixedScorer{inputDim: a.FeatureWidth(), probs: probsFor(0.9, 0.05, 0.05)}
	p1 := NewPredictor(WithPredictionCache(cache), WithModelVersion("v1"))
	require.NoError(t, p1.Load(a, v1))
	first, err := p1.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.Equal(t, itypes.LabelSevere, first.PredictedClass)

	v2 := &fixedScorer{inputDim: a.FeatureWidth(), probs: probsFor(0.05, 0.05, 0.9)}
	p2 := NewPredictor(WithPredictionCache(cache), WithModelVersion("v2"))
	require.NoError(t, p2.Load(a, v2))
	second, err := p2.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Equal(t, itypes.LabelNone, second.PredictedClass)
	assert.Equal(t, "v2", second.ModelVersion)
	assert.Equal(t, 1, v2.calls)
	assert.Len(t, cache.entries, 2)

	again, err := p1.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, "v1", again.ModelVersion)
	assert.Equal(t, 1, v1.calls)

	// same version over a different encoder configuration is a new scope
	wider := testArtifact(t)
	wider.Radius = testRadius + 1
	p3 := NewPredictor(WithPredictionCache(cache), WithModelVersion("v1"))
	require.NoError(t, p3.Load(wider, &fixedScorer{inputDim: wider.FeatureWidth(), probs: probsFor(0.05, 0.9, 0.05)}))
	third, err := p3.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, itypes.LabelModerate, third.PredictedClass)
}

func TestPredictor_StaleCacheHitIsAMiss(t *testing.T) {
	a := testArtifact(t)
	scorer := &fixedScorer{inputDim: a.FeatureWidth(), probs: probsFor(0.05, 0.05, 0.9)}
	cache := &mockPredictionCache{}
	metrics := common.NewInMemoryIntelligenceMetrics()
	p := NewPredictor(WithPredictionCache(cache), WithMetrics(metrics), WithModelVersion("v2"))
	require.NoError(t, p.Load(a, scorer))
	ctx := context.Background()

	stale := &itypes.PredictionResult{
		PredictedClass:   itypes.LabelSevere,
		Classes:          a.Taxonomy.Labels(),
		RawProbabilities: probsFor(0.9, 0.05, 0.05),
		ModelVersion:     "v1",
	}
	cache.On("Get", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES).Return(stale, true, nil).Once()
	cache.On("Set", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES, mock.AnythingOfType("*interaction.PredictionResult")).
		Return(nil).Once()

	res, err := p.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, itypes.LabelNone, res.PredictedClass)
	assert.Equal(t, "v2", res.ModelVersion)
	assert.Equal(t, 1, scorer.calls)
	assert.Equal(t, int64(0), metrics.CacheHits())

	wrongClasses := *stale
	wrongClasses.ModelVersion = "v2"
	wrongClasses.Classes = []itypes.SeverityLabel{itypes.LabelNone, itypes.LabelModerate, itypes.LabelSevere}
	cache.On("Get", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES).Return(&wrongClasses, true, nil).Once()
	cache.On("Set", ctx, mock.AnythingOfType("string"), aspirinSMILES, warfarinSMILES, mock.AnythingOfType("*interaction.PredictionResult")).
		Return(nil).Once()

	res, err = p.PredictFromSMILES(ctx, aspirinSMILES, warfarinSMILES)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, scorer.calls)
	cache.AssertExpectations(t)
}

func TestCacheScope(t *testing.T) {
	a := testArtifact(t)
	base := cacheScope(a, "v1")
	assert.Len(t, base, 16)
	assert.Equal(t, base, cacheScope(testArtifact(t), "v1"))
	assert.NotEqual(t, base, cacheScope(a, "v2"))

	b := testArtifact(t)
	b.FingerprintSize *= 2
	assert.NotEqual(t, base, cacheScope(b, "v1"))
}

func TestPredictor_PredictionCacheFailuresAreSoft(t *testing.T) {
	a := testArtifact(t)
	scorer := &fixedScorer{inputDim: a.FeatureWidth(), probs: probsFor(0.1, 0.1, 0.8)}
	cache := &mockPredictionCache{}
	logger := testutil.NewRecordingLogger()
	p := NewPredictor(WithPredictionCache(cache), WithLogger(logger))
	require.NoError(t, p.Load(a, scorer))

	cache.On("Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, false, io.ErrUnexpectedEOF)
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(io.ErrClosedPipe)

	res, err := p.PredictFromSMILES(context.Background(), caffeineSMILES, ibuprofenSMILES)
	require.NoError(t, err)
	assert.Equal(t, itypes.LabelNone, res.PredictedClass)
	assert.Equal(t, 1, scorer.calls)

	read, ok := logger.Find("warn", "prediction cache read failed")
	require.True(t, ok)
	assert.Equal(t, "predictor", read.Logger)
	assert.True(t, logger.Has("warn", "prediction cache write failed"))
}

func TestPredictor_StatusAndSearch(t *testing.T) {
	p, a := loadedPredictor(t)
	_, err := p.PredictFromNames(context.Background(), "Ibuprofen", "Caffeine")
	require.NoError(t, err)

	st := p.Status()
	assert.True(t, st.ModelLoaded)
	assert.Equal(t, "test", st.ModelVersion)
	assert.Equal(t, testFingerprintSize, st.FingerprintSize)
	assert.Equal(t, testRadius, st.Radius)
	assert.Equal(t, a.Taxonomy.Labels(), st.Classes)
	assert.Equal(t, a.DrugIndex.Len(), st.Drugs)
	assert.Equal(t, 2, st.CachedVectors)

	hits, err := p.SearchDrugs("SPIR")
	require.NoError(t, err)
	assert.Equal(t, []string{"Aspirin"}, hits)
}

func TestPredictor_ReloadWithNewShapeClearsVectors(t *testing.T) {
	p, a := loadedPredictor(t)
	_, err := p.PredictFromNames(context.Background(), "Ibuprofen", "Caffeine")
	require.NoError(t, err)
	require.Equal(t, 2, p.Status().CachedVectors)

	wider := *a
	wider.FingerprintSize = 2 * testFingerprintSize
	require.NoError(t, p.Load(&wider, randomModel(t, wider.FeatureWidth(), 4, a.Taxonomy.Labels(), 2)))
	assert.Zero(t, p.Status().CachedVectors)
}

func TestPredictor_LoadFromStore(t *testing.T) {
	dir := t.TempDir()
	a := testArtifact(t)
	m := randomModel(t, a.FeatureWidth(), 8, a.Taxonomy.Labels(), 4)
	require.NoError(t, SaveArtifactFile(filepath.Join(dir, "preprocessor.json"), a))
	require.NoError(t, writeFileAtomic(filepath.Join(dir, "model.json"), func(w io.Writer) error { return WriteModel(w, m) }))

	metrics := common.NewInMemoryIntelligenceMetrics()
	p := NewPredictor(WithMetrics(metrics))
	store := NewArtifactStore(DirSource{Dir: dir}, "preprocessor.json", "model.json")
	require.NoError(t, p.LoadFromStore(context.Background(), store))
	assert.True(t, p.Ready())

	loads := metrics.ModelLoads()
	require.Len(t, loads, 1)
	assert.Equal(t, ModelName, loads[0].ModelName)
	assert.Equal(t, "test", loads[0].Version)
	assert.True(t, loads[0].Success)

	missing := NewArtifactStore(DirSource{Dir: dir}, "preprocessor.json", "absent.json")
	err := NewPredictor(WithMetrics(metrics)).LoadFromStore(context.Background(), missing)
	assert.True(t, errors.IsArtifactNotLoaded(err))
	loads = metrics.ModelLoads()
	require.Len(t, loads, 2)
	assert.False(t, loads[1].Success)
}
