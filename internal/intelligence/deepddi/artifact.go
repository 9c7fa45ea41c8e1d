package deepddi

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/turtacn/DDI-Intelligence/internal/domain/interaction"
	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// ---------------------------------------------------------------------------
// ScoringArtifact
// ---------------------------------------------------------------------------

// ScoringArtifact binds a trained scorer to the feature space it was trained
// on. It is built once by the preprocessor and is read-only afterwards.
type ScoringArtifact struct {
	FingerprintSize int
	Radius          int
	Taxonomy        *interaction.Taxonomy
	DrugIndex       *molecule.DrugIndex
}

// FeatureWidth is the pair feature width a bound scorer must accept.
func (a *ScoringArtifact) FeatureWidth() int { return 2 * a.FingerprintSize }

// NewEncoder builds a FingerprintEncoder with the artifact's configuration.
// Callers must never construct an encoder for inference any other way.
func (a *ScoringArtifact) NewEncoder(cache *molecule.FingerprintCache) (*molecule.FingerprintEncoder, error) {
	return molecule.NewFingerprintEncoder(a.FingerprintSize, a.Radius, cache)
}

// Equal compares all four fields.
func (a *ScoringArtifact) Equal(other *ScoringArtifact) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.FingerprintSize == other.FingerprintSize &&
		a.Radius == other.Radius &&
		a.Taxonomy.Equal(other.Taxonomy) &&
		a.DrugIndex.Equal(other.DrugIndex)
}

func (a *ScoringArtifact) validate() error {
	if a.FingerprintSize <= 0 {
		return errors.New(errors.ErrCodeArtifactCorrupt, "fingerprint_size must be positive").
			WithDetailf("fingerprint_size=%d", a.FingerprintSize)
	}
	if a.Radius < 0 {
		return errors.New(errors.ErrCodeArtifactCorrupt, "radius must not be negative").
			WithDetailf("radius=%d", a.Radius)
	}
	if a.Taxonomy == nil {
		return errors.New(errors.ErrCodeArtifactCorrupt, "label taxonomy is missing")
	}
	if a.DrugIndex == nil {
		return errors.New(errors.ErrCodeArtifactCorrupt, "drug index is missing")
	}
	return nil
}

// artifactDocument is the on-disk layout.
type artifactDocument struct {
	FingerprintSize int                    `json:"fingerprint_size"`
	Radius          int                    `json:"radius"`
	LabelTaxonomy   []itypes.SeverityLabel `json:"label_taxonomy"`
	DrugIndex       map[string]string      `json:"drug_index"`
}

// WriteArtifact serializes a as JSON.
func WriteArtifact(w io.Writer, a *ScoringArtifact) error {
	if a == nil {
		return errors.InvalidParam("artifact is nil")
	}
	if err := a.validate(); err != nil {
		return err
	}
	doc := artifactDocument{
		FingerprintSize: a.FingerprintSize,
		Radius:          a.Radius,
		LabelTaxonomy:   a.Taxonomy.Labels(),
		DrugIndex:       a.DrugIndex.Entries(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode artifact")
	}
	return nil
}

// ReadArtifact parses an artifact previously produced by WriteArtifact.
func ReadArtifact(r io.Reader) (*ScoringArtifact, error) {
	var doc artifactDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "decode artifact")
	}
	tax, err := interaction.NewTaxonomy(doc.LabelTaxonomy)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "invalid label taxonomy")
	}
	a := &ScoringArtifact{
		FingerprintSize: doc.FingerprintSize,
		Radius:          doc.Radius,
		Taxonomy:        tax,
		DrugIndex:       molecule.NewDrugIndex(doc.DrugIndex),
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// ArtifactStore
// ---------------------------------------------------------------------------

// ArtifactSource opens named artifact objects. The local filesystem and the
// MinIO bucket both satisfy it.
type ArtifactSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads artifacts from a local directory.
type DirSource struct {
	Dir string
}

// Open implements ArtifactSource.
func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ArtifactNotLoaded(name).WithCause(err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open artifact").WithDetailf("name=%q", name)
	}
	return f, nil
}

// ArtifactStore persists and loads the scoring artifact and the scorer
// parameters under fixed object names.
type ArtifactStore struct {
	source       ArtifactSource
	artifactName string
	modelName    string
}

// NewArtifactStore creates a store reading from source.
func NewArtifactStore(source ArtifactSource, artifactName, modelName string) *ArtifactStore {
	return &ArtifactStore{source: source, artifactName: artifactName, modelName: modelName}
}

// LoadArtifact reads the scoring artifact.
func (s *ArtifactStore) LoadArtifact(ctx context.Context) (*ScoringArtifact, error) {
	rc, err := s.source.Open(ctx, s.artifactName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadArtifact(rc)
}

// LoadModel reads the scorer parameters.
func (s *ArtifactStore) LoadModel(ctx context.Context) (*MLPModel, error) {
	rc, err := s.source.Open(ctx, s.modelName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadModel(rc)
}

// SaveArtifactFile writes a to path, creating parent directories.
func SaveArtifactFile(path string, a *ScoringArtifact) error {
	return writeFileAtomic(path, func(w io.Writer) error { return WriteArtifact(w, a) })
}

// LoadArtifactFile reads an artifact from path.
func LoadArtifactFile(path string) (*ScoringArtifact, error) {
	return NewArtifactStore(DirSource{Dir: filepath.Dir(path)}, filepath.Base(path), "").
		LoadArtifact(context.Background())
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "create directory").WithDetailf("dir=%q", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "rename into place").WithDetailf("path=%q", path)
	}
	return nil
}
