package deepddi

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// File names of the persisted dataset.
const (
	FileXTrain = "X_train.bin"
	FileXTest  = "X_test.bin"
	FileYTrain = "y_train.bin"
	FileYTest  = "y_test.bin"
)

// Matrix files: magic, rows and cols as uint64, then row-major float32.
// Label files: magic, count as uint64, then int32 values. Little endian.
var (
	matrixMagic = [4]byte{'D', 'D', 'I', 'X'}
	labelsMagic = [4]byte{'D', 'D', 'I', 'Y'}
)

// Shape limits accepted when reading a dataset back.
const (
	MaxMatrixCols  = 1 << 20
	MaxDatasetRows = 1 << 31
	readChunkRows  = 4096
)

type matrixHeader struct {
	Magic [4]byte
	Rows  uint64
	Cols  uint64
}

type labelsHeader struct {
	Magic [4]byte
	Count uint64
}

// WriteMatrix writes equally wide rows.
func WriteMatrix(w io.Writer, rows []molecule.Vector) error {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, matrixHeader{Magic: matrixMagic, Rows: uint64(len(rows)), Cols: uint64(cols)}); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write matrix header")
	}
	for i, r := range rows {
		if len(r) != cols {
			return errors.FeatureShape(cols, len(r)).WithDetailf("row=%d want=%d got=%d", i, cols, len(r))
		}
		if err := binary.Write(bw, binary.LittleEndian, []float32(r)); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "write matrix row")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "flush matrix")
	}
	return nil
}

// ReadMatrix reads a matrix written by WriteMatrix. Rows are allocated as
// they are read, so a corrupt header cannot force a large allocation.
func ReadMatrix(r io.Reader) ([]molecule.Vector, error) {
	br := bufio.NewReader(r)
	var h matrixHeader
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "read matrix header")
	}
	if h.Magic != matrixMagic {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "not a feature matrix file")
	}
	if h.Cols > MaxMatrixCols || h.Rows > MaxDatasetRows || (h.Rows > 0 && h.Cols == 0) {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "matrix shape out of range").
			WithDetailf("rows=%d cols=%d", h.Rows, h.Cols)
	}
	rows := make([]molecule.Vector, 0, minU64(h.Rows, readChunkRows))
	for i := uint64(0); i < h.Rows; i++ {
		row := make(molecule.Vector, h.Cols)
		if err := binary.Read(br, binary.LittleEndian, []float32(row)); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "read matrix row").WithDetailf("row=%d", i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteLabels writes class indices.
func WriteLabels(w io.Writer, y []int) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, labelsHeader{Magic: labelsMagic, Count: uint64(len(y))}); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write labels header")
	}
	buf := make([]int32, len(y))
	for i, v := range y {
		buf[i] = int32(v)
	}
	if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write labels")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "flush labels")
	}
	return nil
}

// ReadLabels reads class indices written by WriteLabels.
func ReadLabels(r io.Reader) ([]int, error) {
	br := bufio.NewReader(r)
	var h labelsHeader
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "read labels header")
	}
	if h.Magic != labelsMagic {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "not a label file")
	}
	if h.Count > MaxDatasetRows {
		return nil, errors.New(errors.ErrCodeArtifactCorrupt, "label count out of range").WithDetailf("count=%d", h.Count)
	}
	y := make([]int, 0, minU64(h.Count, readChunkRows))
	buf := make([]int32, minU64(h.Count, readChunkRows))
	for left := h.Count; left > 0; {
		n := minU64(left, uint64(len(buf)))
		if err := binary.Read(br, binary.LittleEndian, buf[:n]); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeArtifactCorrupt, "read labels").WithDetailf("offset=%d", len(y))
		}
		for _, v := range buf[:n] {
			y = append(y, int(v))
		}
		left -= uint64(n)
	}
	return y, nil
}

func minU64(a, b uint64) int {
	if a < b {
		return int(a)
	}
	return int(b)
}

// SaveDataset writes the four partitions and the artifact into dir.
func SaveDataset(dir, artifactFile string, ds *Dataset) error {
	writes := []struct {
		name  string
		write func(io.Writer) error
	}{
		{FileXTrain, func(w io.Writer) error { return WriteMatrix(w, ds.XTrain) }},
		{FileXTest, func(w io.Writer) error { return WriteMatrix(w, ds.XTest) }},
		{FileYTrain, func(w io.Writer) error { return WriteLabels(w, ds.YTrain) }},
		{FileYTest, func(w io.Writer) error { return WriteLabels(w, ds.YTest) }},
		{artifactFile, func(w io.Writer) error { return WriteArtifact(w, ds.Artifact) }},
	}
	for _, f := range writes {
		if err := writeFileAtomic(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

// LoadMatrixFile reads a matrix file from disk.
func LoadMatrixFile(path string) ([]molecule.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open matrix").WithDetailf("path=%q", path)
	}
	defer f.Close()
	return ReadMatrix(f)
}

// LoadLabelsFile reads a label file from disk.
func LoadLabelsFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "open labels").WithDetailf("path=%q", path)
	}
	defer f.Close()
	return ReadLabels(f)
}

// SplitSummary describes one persisted partition.
type SplitSummary struct {
	Rows         int                 `json:"rows"`
	Cols         int                 `json:"cols"`
	Distribution []itypes.ClassCount `json:"distribution"`
}

// DatasetSummary is the result of VerifyDataset.
type DatasetSummary struct {
	Dir             string                 `json:"dir"`
	FingerprintSize int                    `json:"fingerprint_size"`
	Radius          int                    `json:"radius"`
	Classes         []itypes.SeverityLabel `json:"classes"`
	Train           SplitSummary           `json:"train"`
	Test            SplitSummary           `json:"test"`
}

// VerifyDataset reads back a dataset written by SaveDataset and checks it
// against its artifact: every row is 2 × fingerprint_size wide, each matrix
// has one label per row and every label indexes the taxonomy.
func VerifyDataset(dir, artifactFile string) (*DatasetSummary, error) {
	artifact, err := LoadArtifactFile(filepath.Join(dir, artifactFile))
	if err != nil {
		return nil, err
	}
	sum := &DatasetSummary{
		Dir:             dir,
		FingerprintSize: artifact.FingerprintSize,
		Radius:          artifact.Radius,
		Classes:         artifact.Taxonomy.Labels(),
	}
	for _, split := range []struct {
		x, y string
		out  *SplitSummary
	}{
		{FileXTrain, FileYTrain, &sum.Train},
		{FileXTest, FileYTest, &sum.Test},
	} {
		x, err := LoadMatrixFile(filepath.Join(dir, split.x))
		if err != nil {
			return nil, err
		}
		y, err := LoadLabelsFile(filepath.Join(dir, split.y))
		if err != nil {
			return nil, err
		}
		if len(x) != len(y) {
			return nil, errors.New(errors.ErrCodeArtifactCorrupt, "matrix and labels disagree on row count").
				WithDetailf("%s=%d %s=%d", split.x, len(x), split.y, len(y))
		}
		for i, row := range x {
			if len(row) != artifact.FeatureWidth() {
				return nil, errors.FeatureShape(artifact.FeatureWidth(), len(row)).WithDetailf("file=%s row=%d", split.x, i)
			}
		}
		for i, c := range y {
			if c < 0 || c >= artifact.Taxonomy.Len() {
				return nil, errors.New(errors.ErrCodeArtifactCorrupt, "label outside taxonomy").
					WithDetailf("file=%s row=%d label=%d", split.y, i, c)
			}
		}
		split.out.Rows = len(x)
		split.out.Cols = artifact.FeatureWidth()
		split.out.Distribution = artifact.Taxonomy.Distribution(y)
	}
	return sum, nil
}
