package deepddi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/common"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// Input modes reported to metrics.
const (
	InputModeNames   = "names"
	InputModeSMILES  = "smiles"
	InputModeFeature = "feature"
)

// PredictionCache stores translated results keyed by a model scope and the
// ordered structure pair. Implementations must treat (a, b) and (b, a) as
// different keys, and entries under one scope must never answer another.
type PredictionCache interface {
	Get(ctx context.Context, scope, smilesA, smilesB string) (*itypes.PredictionResult, bool, error)
	Set(ctx context.Context, scope, smilesA, smilesB string, result *itypes.PredictionResult) error
}

// Status is the readiness view of a Predictor.
type Status struct {
	ModelLoaded     bool                   `json:"model_loaded"`
	ModelVersion    string                 `json:"model_version,omitempty"`
	FingerprintSize int                    `json:"fingerprint_size,omitempty"`
	Radius          int                    `json:"radius,omitempty"`
	Classes         []itypes.SeverityLabel `json:"classes,omitempty"`
	Drugs           int                    `json:"drugs"`
	CachedVectors   int                    `json:"cached_vectors"`
}

// loadedModel is the immutable bundle a Predictor serves from.
type loadedModel struct {
	artifact   *ScoringArtifact
	scorer     InteractionScorer
	encoder    *molecule.FingerprintEncoder
	translator *RiskTranslator
	version    string
	scope      string
}

// cacheScope digests everything that decides a scorer's answer for a
// structure pair: the model version and the artifact's encoder settings and
// taxonomy.
func cacheScope(artifact *ScoringArtifact, version string) string {
	h := sha256.New()
	fmt.Fprintf(h, "version=%s\x00size=%d\x00radius=%d\x00classes=", version, artifact.FingerprintSize, artifact.Radius)
	for _, l := range artifact.Taxonomy.Labels() {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// accepts reports whether a cached result was produced under this bundle.
func (m *loadedModel) accepts(res *itypes.PredictionResult) bool {
	if res == nil || res.ModelVersion != m.version {
		return false
	}
	labels := m.artifact.Taxonomy.Labels()
	if len(res.Classes) != len(labels) || len(res.RawProbabilities) != len(labels) {
		return false
	}
	for i, l := range labels {
		if res.Classes[i] != l {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// PredictorOption customizes a Predictor.
type PredictorOption func(*Predictor)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) PredictorOption {
	return func(p *Predictor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m common.IntelligenceMetrics) PredictorOption {
	return func(p *Predictor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithPredictionCache enables the result cache.
func WithPredictionCache(c PredictionCache) PredictorOption {
	return func(p *Predictor) { p.cache = c }
}

// WithFingerprintCacheSize sets the fingerprint cache clear threshold.
func WithFingerprintCacheSize(n int) PredictorOption {
	return func(p *Predictor) { p.fpCache = molecule.NewFingerprintCache(n) }
}

// WithModelVersion overrides the version reported in results.
func WithModelVersion(v string) PredictorOption {
	return func(p *Predictor) { p.versionOverride = v }
}

// ---------------------------------------------------------------------------
// Predictor
// ---------------------------------------------------------------------------

// Predictor serves pair predictions from a loaded artifact and scorer. Until
// Load succeeds every prediction fails fast with ArtifactNotLoaded. The
// loaded bundle is read-only; requests never take a lock.
type Predictor struct {
	model           atomic.Pointer[loadedModel]
	fpCache         *molecule.FingerprintCache
	cache           PredictionCache
	logger          logging.Logger
	metrics         common.IntelligenceMetrics
	versionOverride string
}

// NewPredictor creates an unloaded Predictor.
func NewPredictor(opts ...PredictorOption) *Predictor {
	p := &Predictor{
		fpCache: molecule.NewFingerprintCache(molecule.DefaultCacheMaxEntries),
		logger:  logging.NewNopLogger(),
		metrics: common.NewNoopIntelligenceMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.Named("predictor")
	return p
}

// Load binds scorer to artifact and starts serving them. A width or
// taxonomy mismatch is returned and the previous bundle stays in place.
func (p *Predictor) Load(artifact *ScoringArtifact, scorer InteractionScorer) error {
	if err := BindScorer(artifact, scorer); err != nil {
		return err
	}
	if p.fpCache.Len() > 0 {
		if cur := p.model.Load(); cur != nil &&
			(cur.artifact.FingerprintSize != artifact.FingerprintSize || cur.artifact.Radius != artifact.Radius) {
			p.fpCache.Clear()
		}
	}
	enc, err := artifact.NewEncoder(p.fpCache)
	if err != nil {
		return err
	}
	tr, err := NewRiskTranslator(artifact.Taxonomy)
	if err != nil {
		return err
	}
	version := p.versionOverride
	if m, ok := scorer.(*MLPModel); ok && version == "" {
		version = m.Info().Version
	}
	p.model.Store(&loadedModel{
		artifact:   artifact,
		scorer:     scorer,
		encoder:    enc,
		translator: tr,
		version:    version,
		scope:      cacheScope(artifact, version),
	})
	p.logger.Info("model loaded",
		logging.Int("fingerprint_size", artifact.FingerprintSize),
		logging.Int("radius", artifact.Radius),
		logging.String("taxonomy", artifact.Taxonomy.String()),
		logging.Int("drugs", artifact.DrugIndex.Len()),
		logging.String("version", version))
	return nil
}

// LoadFromStore reads the artifact and model from store and loads them.
func (p *Predictor) LoadFromStore(ctx context.Context, store *ArtifactStore) error {
	start := time.Now()
	artifact, scorer, err := p.readBundle(ctx, store)
	if err == nil {
		err = p.Load(artifact, scorer)
	}
	version := p.versionOverride
	if scorer != nil && version == "" {
		version = scorer.Info().Version
	}
	p.metrics.RecordModelLoad(ctx, ModelName, version, float64(time.Since(start).Milliseconds()), err == nil)
	if err != nil {
		p.logger.Error("model load failed", logging.Err(err))
	}
	return err
}

func (p *Predictor) readBundle(ctx context.Context, store *ArtifactStore) (*ScoringArtifact, *MLPModel, error) {
	artifact, err := store.LoadArtifact(ctx)
	if err != nil {
		return nil, nil, err
	}
	scorer, err := store.LoadModel(ctx)
	if err != nil {
		return artifact, nil, err
	}
	return artifact, scorer, nil
}

// Ready reports whether a model is loaded.
func (p *Predictor) Ready() bool { return p.model.Load() != nil }

// Status returns the readiness view.
func (p *Predictor) Status() Status {
	st := Status{CachedVectors: p.fpCache.Len()}
	m := p.model.Load()
	if m == nil {
		return st
	}
	st.ModelLoaded = true
	st.ModelVersion = m.version
	st.FingerprintSize = m.artifact.FingerprintSize
	st.Radius = m.artifact.Radius
	st.Classes = m.artifact.Taxonomy.Labels()
	st.Drugs = m.artifact.DrugIndex.Len()
	return st
}

func (p *Predictor) loaded() (*loadedModel, error) {
	m := p.model.Load()
	if m == nil {
		return nil, errors.ArtifactNotLoaded("scorer and artifact")
	}
	return m, nil
}

// ResolveDrug maps a drug name or identifier to its structure string.
func (p *Predictor) ResolveDrug(nameOrID string) (string, error) {
	m, err := p.loaded()
	if err != nil {
		return "", err
	}
	return m.artifact.DrugIndex.Resolve(nameOrID)
}

// SearchDrugs returns up to MaxSearchResults index keys containing query.
func (p *Predictor) SearchDrugs(query string) ([]string, error) {
	m, err := p.loaded()
	if err != nil {
		return nil, err
	}
	return m.artifact.DrugIndex.Search(query, molecule.MaxSearchResults), nil
}

// EncodePair returns FP(a) followed by FP(b) under the artifact's encoder.
func (p *Predictor) EncodePair(smilesA, smilesB string) (molecule.Vector, error) {
	m, err := p.loaded()
	if err != nil {
		return nil, err
	}
	return m.encoder.EncodePair(smilesA, smilesB)
}

// ScorePair scores an already encoded pair feature.
func (p *Predictor) ScorePair(ctx context.Context, feature molecule.Vector) (*itypes.PredictionResult, error) {
	m, err := p.loaded()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := p.score(ctx, m, feature, "")
	p.recordInference(ctx, m, InputModeFeature, start, err == nil, false)
	return res, err
}

// PredictFromSMILES encodes and scores a structure pair.
func (p *Predictor) PredictFromSMILES(ctx context.Context, smilesA, smilesB string) (*itypes.PredictionResult, error) {
	m, err := p.loaded()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, cached, err := p.predict(ctx, m, smilesA, smilesB, "")
	p.recordInference(ctx, m, InputModeSMILES, start, err == nil, cached)
	return res, err
}

// PredictFromNames resolves both drugs through the index and scores them.
// The result is labeled "A + B".
func (p *Predictor) PredictFromNames(ctx context.Context, drugA, drugB string) (*itypes.PredictionResult, error) {
	m, err := p.loaded()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	smilesA, err := m.artifact.DrugIndex.Resolve(drugA)
	if err != nil {
		p.recordInference(ctx, m, InputModeNames, start, false, false)
		return nil, err
	}
	smilesB, err := m.artifact.DrugIndex.Resolve(drugB)
	if err != nil {
		p.recordInference(ctx, m, InputModeNames, start, false, false)
		return nil, err
	}

	res, cached, err := p.predict(ctx, m, smilesA, smilesB, fmt.Sprintf("%s + %s", drugA, drugB))
	p.recordInference(ctx, m, InputModeNames, start, err == nil, cached)
	if err != nil {
		return nil, err
	}
	res.DrugA, res.DrugB = drugA, drugB
	return res, nil
}

func (p *Predictor) predict(ctx context.Context, m *loadedModel, smilesA, smilesB, pair string) (*itypes.PredictionResult, bool, error) {
	if p.cache != nil {
		hit, ok, err := p.cache.Get(ctx, m.scope, smilesA, smilesB)
		if err != nil {
			p.logger.Warn("prediction cache read failed", logging.Err(err))
		}
		if ok && !m.accepts(hit) {
			p.logger.Debug("stale cached prediction ignored",
				logging.String("cached_version", hit.ModelVersion),
				logging.String("version", m.version))
			ok = false
		}
		p.metrics.RecordCacheAccess(ctx, ok, "prediction")
		if ok {
			return p.relabel(hit, pair), true, nil
		}
	}

	feature, err := m.encoder.EncodePair(smilesA, smilesB)
	if err != nil {
		return nil, false, err
	}
	if n := p.fpCache.ClearIfExceeds(); n > 0 {
		p.metrics.RecordCacheEviction(ctx, fingerprintCacheName, n)
	}

	res, err := p.score(ctx, m, feature, pair)
	if err != nil {
		return nil, false, err
	}
	res.SMILESA, res.SMILESB = smilesA, smilesB

	if p.cache != nil {
		if err := p.cache.Set(ctx, m.scope, smilesA, smilesB, res); err != nil {
			p.logger.Warn("prediction cache write failed", logging.Err(err))
		}
	}
	return res, false, nil
}

func (p *Predictor) score(ctx context.Context, m *loadedModel, feature molecule.Vector, pair string) (*itypes.PredictionResult, error) {
	probs, err := m.scorer.Score(feature)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := m.translator.Translate(probs, pair)
	if err != nil {
		return nil, err
	}
	res.RequestID = uuid.NewString()
	res.ModelVersion = m.version
	res.GeneratedAt = time.Now().UTC()
	p.metrics.RecordRiskAssessment(ctx, string(res.Severity), float64(time.Since(start).Microseconds())/1000)
	return res, nil
}

// relabel adapts a cached result to the current request. The description
// text embeds the pair label, so it is rebuilt. The model version stays the
// one that produced the scores.
func (p *Predictor) relabel(cached *itypes.PredictionResult, pair string) *itypes.PredictionResult {
	res := *cached
	if pair == "" {
		pair = smilesPairFallback
	}
	res.RequestID = uuid.NewString()
	res.DrugA, res.DrugB = "", ""
	res.DrugPair = pair
	res.Description = describe(descriptions, res.PredictedClass, pair)
	res.Cached = true
	return &res
}

func (p *Predictor) recordInference(ctx context.Context, m *loadedModel, mode string, start time.Time, ok, cached bool) {
	p.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		ModelName:    ModelName,
		ModelVersion: m.version,
		InputMode:    mode,
		DurationMs:   float64(time.Since(start).Microseconds()) / 1000,
		Success:      ok,
		Cached:       cached,
	})
}
