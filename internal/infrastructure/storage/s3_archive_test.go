package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

// MockObjectPutter is a mock implementation of ObjectPutter
type MockObjectPutter struct {
	mock.Mock
}

func (m *MockObjectPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

var archivedAt = time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)

func testIntegration() *integration.Integration {
	return &integration.Integration{
		ID:             uuid.MustParse("6f1c1c4e-1f59-4d4c-9a51-0e5d3f0f6a11"),
		OrganizationID: "org-1",
		ProviderID:     integration.ProviderBreeze,
	}
}

func testResult() *integration.SyncResult {
	return integration.NewSyncResult(integration.CapabilityPeople, []integration.Person{
		{ExternalID: "p-1", FirstName: "Ada", LastName: "Lovelace"},
	}, 0)
}

func TestNewS3SyncArchive_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing bucket", func(t *testing.T) {
		_, err := NewS3SyncArchive(ctx, config.ArchiveConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("half a key pair", func(t *testing.T) {
		_, err := NewS3SyncArchive(ctx, config.ArchiveConfig{Bucket: "b", AccessKeyID: "key"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be set together")
	})

	t.Run("valid config", func(t *testing.T) {
		a, err := NewS3SyncArchive(ctx, config.ArchiveConfig{
			Bucket:          "chms-archive",
			AccessKeyID:     "key",
			SecretAccessKey: "secret",
			Endpoint:        "localhost:9000",
			UsePathStyle:    true,
			Prefix:          "/sync-results/",
		})
		require.NoError(t, err)
		assert.Equal(t, "chms-archive", a.Bucket())
		assert.Equal(t, "sync-results", a.prefix)
	})
}

func TestS3SyncArchive_ObjectKey(t *testing.T) {
	a := NewS3SyncArchiveWithClient(&MockObjectPutter{}, "b", "sync-results")
	key := a.ObjectKey(testIntegration(), integration.CapabilityGroups, archivedAt)
	assert.Equal(t,
		"sync-results/org-1/6f1c1c4e-1f59-4d4c-9a51-0e5d3f0f6a11/groups/20240601T123045.000000000Z.json",
		key)

	unprefixed := NewS3SyncArchiveWithClient(&MockObjectPutter{}, "b", "")
	assert.Equal(t,
		"org-1/6f1c1c4e-1f59-4d4c-9a51-0e5d3f0f6a11/groups/20240601T123045.000000000Z.json",
		unprefixed.ObjectKey(testIntegration(), integration.CapabilityGroups, archivedAt))
}

func TestS3SyncArchive_Archive(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads JSON document", func(t *testing.T) {
		putter := new(MockObjectPutter)
		var captured *s3.PutObjectInput
		putter.On("PutObject", ctx, mock.AnythingOfType("*s3.PutObjectInput")).
			Run(func(args mock.Arguments) { captured = args.Get(1).(*s3.PutObjectInput) }).
			Return(&s3.PutObjectOutput{}, nil)

		a := NewS3SyncArchiveWithClient(putter, "chms-archive", "sync-results", WithClock(func() time.Time { return archivedAt }))
		require.NoError(t, a.Archive(ctx, testIntegration(), testResult()))

		require.NotNil(t, captured)
		assert.Equal(t, "chms-archive", *captured.Bucket)
		assert.Equal(t, "application/json", *captured.ContentType)
		assert.Contains(t, *captured.Key, "/people/")

		body, err := io.ReadAll(captured.Body)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "org-1", doc["organizationId"])
		assert.Equal(t, integration.ProviderBreeze, doc["providerId"])
		result := doc["result"].(map[string]any)
		assert.Equal(t, "people", result["capability"])
		assert.EqualValues(t, 1, result["count"])
		putter.AssertExpectations(t)
	})

	t.Run("upload failure is returned", func(t *testing.T) {
		putter := new(MockObjectPutter)
		putter.On("PutObject", ctx, mock.Anything).Return(nil, errors.New("access denied"))

		a := NewS3SyncArchiveWithClient(putter, "b", "")
		err := a.Archive(ctx, testIntegration(), testResult())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
	})

	t.Run("nil result", func(t *testing.T) {
		a := NewS3SyncArchiveWithClient(&MockObjectPutter{}, "b", "")
		assert.Error(t, a.Archive(ctx, testIntegration(), nil))
	})
}

// TestS3SyncArchive_AgainstHTTPEndpoint drives the real SDK client against a
// local endpoint that accepts path-style PUTs.
func TestS3SyncArchive_AgainstHTTPEndpoint(t *testing.T) {
	var (
		mu      sync.Mutex
		method  string
		reqPath string
		body    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		reqPath = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a, err := NewS3SyncArchive(context.Background(), config.ArchiveConfig{
		Bucket:          "chms-archive",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
		Prefix:          "sync-results",
	}, WithClock(func() time.Time { return archivedAt }))
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), testIntegration(), testResult()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t,
		"/chms-archive/sync-results/org-1/6f1c1c4e-1f59-4d4c-9a51-0e5d3f0f6a11/people/20240601T123045.000000000Z.json",
		reqPath)
	assert.Contains(t, string(body), `"organizationId":"org-1"`)
}

func TestNoopSyncArchive(t *testing.T) {
	assert.NoError(t, NoopSyncArchive{}.Archive(context.Background(), testIntegration(), testResult()))
}
