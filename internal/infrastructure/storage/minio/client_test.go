package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/DDI-Intelligence/internal/config"
	"github.com/turtacn/DDI-Intelligence/internal/domain/interaction"
	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
	pkgerrors "github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectAPI) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	obj, _ := args.Get(0).(*minio.Object)
	return obj, args.Error(1)
}

func (m *MockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

type ClientTestSuite struct {
	suite.Suite
	api    *MockObjectAPI
	client *Client
}

func (s *ClientTestSuite) SetupTest() {
	s.api = new(MockObjectAPI)
	s.client = NewClientWithAPI(s.api, "models", "ddi/v1", nil)
}

func (s *ClientTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestObjectKey() {
	s.Equal("ddi/v1/model.json", s.client.ObjectKey("model.json"))
	s.Equal("model.json", NewClientWithAPI(s.api, "models", "", nil).ObjectKey("model.json"))
}

func (s *ClientTestSuite) TestOpen_MissingObject() {
	s.api.On("GetObject", mock.Anything, "models", "ddi/v1/model.json", mock.Anything).
		Return(nil, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound})

	_, err := s.client.Open(context.Background(), "model.json")
	s.True(pkgerrors.IsArtifactNotLoaded(err))
}

func (s *ClientTestSuite) TestOpen_StorageFailure() {
	s.api.On("GetObject", mock.Anything, "models", "ddi/v1/model.json", mock.Anything).
		Return(nil, minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})

	_, err := s.client.Open(context.Background(), "model.json")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageError))
	s.False(pkgerrors.IsArtifactNotLoaded(err))
}

func (s *ClientTestSuite) TestPut() {
	body := []byte(`{"fingerprint_size":64}`)
	s.api.On("PutObject", mock.Anything, "models", "ddi/v1/preprocessor.json", mock.Anything, int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"}).
		Return(minio.UploadInfo{Size: int64(len(body)), ETag: "abc"}, nil)

	s.NoError(s.client.Put(context.Background(), "preprocessor.json", bytes.NewReader(body), int64(len(body))))
}

func (s *ClientTestSuite) TestPut_Failure() {
	s.api.On("PutObject", mock.Anything, "models", "ddi/v1/X_train.bin", mock.Anything, int64(3),
		minio.PutObjectOptions{ContentType: "application/octet-stream"}).
		Return(minio.UploadInfo{}, fmt.Errorf("connection reset"))

	err := s.client.Put(context.Background(), "X_train.bin", strings.NewReader("abc"), 3)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageError))
}

func (s *ClientTestSuite) TestUploadFile() {
	path := filepath.Join(s.T().TempDir(), "y_test.bin")
	s.Require().NoError(os.WriteFile(path, []byte("12345"), 0o644))
	s.api.On("PutObject", mock.Anything, "models", "ddi/v1/y_test.bin", mock.Anything, int64(5), mock.Anything).
		Return(minio.UploadInfo{Size: 5}, nil)

	s.NoError(s.client.UploadFile(context.Background(), "y_test.bin", path))

	err := s.client.UploadFile(context.Background(), "nope.bin", filepath.Join(s.T().TempDir(), "missing"))
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageError))
}

func (s *ClientTestSuite) TestCheckBucket() {
	s.api.On("BucketExists", mock.Anything, "models").Return(false, nil).Once()
	s.True(pkgerrors.IsCode(s.client.checkBucket(context.Background()), pkgerrors.ErrCodeNotFound))

	s.api.On("BucketExists", mock.Anything, "models").Return(false, fmt.Errorf("dial tcp: refused")).Once()
	s.True(pkgerrors.IsCode(s.client.checkBucket(context.Background()), pkgerrors.ErrCodeServiceUnavailable))
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

// fakeS3 serves path-style HEAD and GET requests for one bucket.
type fakeS3 struct {
	bucket  string
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if key == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key><BucketName>%s</BucketName></Error>`, key, bucket)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(data)
}

func newFakeServer(t *testing.T, objects map[string][]byte) (*httptest.Server, *config.MinIOConfig) {
	t.Helper()
	srv := httptest.NewServer(&fakeS3{bucket: "models", objects: objects})
	t.Cleanup(srv.Close)
	return srv, &config.MinIOConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "models",
		Region:    "us-east-1",
	}
}

func TestNewClient_MissingBucket(t *testing.T) {
	_, cfg := newFakeServer(t, nil)
	cfg.Bucket = "other"

	_, err := NewClient(cfg, "", nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeNotFound))
}

func TestClient_ServesArtifactStore(t *testing.T) {
	tax, err := interaction.NewTaxonomy(itypes.AllLabels)
	require.NoError(t, err)
	artifact := &deepddi.ScoringArtifact{
		FingerprintSize: 32,
		Radius:          2,
		Taxonomy:        tax,
		DrugIndex:       molecule.NewDrugIndex(map[string]string{"Aspirin": "CC(=O)OC1=CC=CC=C1C(=O)O"}),
	}
	var buf bytes.Buffer
	require.NoError(t, deepddi.WriteArtifact(&buf, artifact))

	_, cfg := newFakeServer(t, map[string][]byte{"ddi/preprocessor.json": buf.Bytes()})
	client, err := NewClient(cfg, "ddi", nil)
	require.NoError(t, err)

	store := deepddi.NewArtifactStore(client, "preprocessor.json", "model.json")
	got, err := store.LoadArtifact(context.Background())
	require.NoError(t, err)
	assert.True(t, artifact.Equal(got))

	_, err = store.LoadModel(context.Background())
	assert.True(t, pkgerrors.IsArtifactNotLoaded(err))
}
