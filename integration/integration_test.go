//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nark2019/careerforgeai-sub001/internal/outbox"
	"github.com/nark2019/careerforgeai-sub001/internal/rescache"
	"github.com/nark2019/careerforgeai-sub001/pkg/types"
)

// TestSuite holds the integration test suite
type TestSuite struct {
	suite.Suite
	minioClient *minio.Client
	backend     *rescache.MinioBackend
	daemon      *DaemonClient
	testBucket  string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupSuite initializes the test suite
func (suite *TestSuite) SetupSuite() {
	suite.T().Log("Setting up integration test suite...")

	endpoint := getenv("TEST_MINIO_ENDPOINT", "http://localhost:9000")
	accessKey := getenv("TEST_MINIO_ACCESS_KEY", "testminio")
	secretKey := getenv("TEST_MINIO_SECRET_KEY", "testminio123")
	suite.testBucket = fmt.Sprintf("test-offline-cache-%d", time.Now().Unix())

	backend, err := rescache.NewMinioBackend(rescache.MinioOptions{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    suite.testBucket,
	})
	require.NoError(suite.T(), err, "Failed to create MinIO backend")
	require.NoError(suite.T(), backend.EnsureBucket(context.Background()), "Failed to create test bucket")
	suite.backend = backend

	// A raw client for cleanup only.
	u, err := url.Parse(endpoint)
	require.NoError(suite.T(), err)
	suite.minioClient, err = minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	require.NoError(suite.T(), err, "Failed to create MinIO client")

	suite.daemon = &DaemonClient{
		baseURL:    getenv("TEST_DAEMON_URL", "http://localhost:8080"),
		adminToken: os.Getenv("TEST_DAEMON_ADMIN_TOKEN"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// TearDownSuite cleans up the test suite
func (suite *TestSuite) TearDownSuite() {
	suite.T().Log("Cleaning up integration test suite...")

	if suite.minioClient == nil || suite.testBucket == "" {
		return
	}
	ctx := context.Background()
	for object := range suite.minioClient.ListObjects(ctx, suite.testBucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			continue
		}
		if err := suite.minioClient.RemoveObject(ctx, suite.testBucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			suite.T().Logf("Failed to remove object %s: %v", object.Key, err)
		}
	}
	if err := suite.minioClient.RemoveBucket(ctx, suite.testBucket); err != nil {
		suite.T().Logf("Failed to remove test bucket: %v", err)
	}
}

// TestMinioBackendGenerations stores two generations and activates one.
func (suite *TestSuite) TestMinioBackendGenerations() {
	ctx := context.Background()
	entries := []rescache.Entry{
		{Key: rescache.RequestKey(http.MethodGet, "http://app.test/"), Status: http.StatusOK, Body: []byte("home")},
		{Key: rescache.RequestKey(http.MethodGet, "http://app.test/offline.html"), Status: http.StatusOK, Body: []byte("offline")},
	}

	require.NoError(suite.T(), suite.backend.PutAll(ctx, "careerforge-v1", entries))
	require.NoError(suite.T(), suite.backend.PutAll(ctx, "careerforge-v2", entries[:1]))

	got, err := suite.backend.Match(ctx, "careerforge-v1", entries[1].Key)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "offline", string(got.Body))

	_, err = suite.backend.Match(ctx, "careerforge-v2", entries[1].Key)
	assert.ErrorIs(suite.T(), err, rescache.ErrCacheMiss)

	generations, err := suite.backend.Generations(ctx)
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), []string{"careerforge-v1", "careerforge-v2"}, generations)

	active, err := suite.backend.Active(ctx)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), active)
	require.NoError(suite.T(), suite.backend.SetActive(ctx, "careerforge-v2"))
	active, err = suite.backend.Active(ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "careerforge-v2", active)

	require.NoError(suite.T(), suite.backend.DeleteGeneration(ctx, "careerforge-v1"))
	generations, err = suite.backend.Generations(ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"careerforge-v2"}, generations)
}

// TestDaemonHealth checks the daemon is up.
func (suite *TestSuite) TestDaemonHealth() {
	var health types.HealthResponse
	status, err := suite.daemon.Do(http.MethodGet, "/health", nil, &health)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Contains(suite.T(), []string{"healthy", "degraded"}, health.Status)
	assert.Positive(suite.T(), health.SchemaVersion)
}

// TestRecordRoundTrip writes, reads and deletes a record.
func (suite *TestSuite) TestRecordRoundTrip() {
	id := fmt.Sprintf("it-%d", time.Now().UnixNano())
	path := "/api/v1/collections/assessmentResults/records"

	status, err := suite.daemon.Do(http.MethodPut, path, map[string]any{"id": id, "category": "integration"}, nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusOK, status)

	var rec map[string]any
	status, err = suite.daemon.Do(http.MethodGet, path+"/"+id, nil, &rec)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "integration", rec["category"])

	for i := 0; i < 2; i++ {
		status, err = suite.daemon.Do(http.MethodDelete, path+"/"+id, nil, nil)
		require.NoError(suite.T(), err)
		assert.Equal(suite.T(), http.StatusNoContent, status)
	}
}

// TestOutboxDrain queues a chat message and triggers a drain. Whether the
// entry syncs depends on the remote.
func (suite *TestSuite) TestOutboxDrain() {
	var entry outbox.Entry
	status, err := suite.daemon.Do(http.MethodPost, "/api/v1/outbox/chatQueue",
		map[string]any{"token": "integration", "data": map[string]string{"message": "hello"}}, &entry)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusAccepted, status)

	var result types.SyncResponse
	status, err = suite.daemon.Do(http.MethodPost, "/api/v1/sync/sync-chat-messages", nil, &result)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), result.Attempted, result.Synced+result.Failed)

	var pending []outbox.Entry
	_, err = suite.daemon.Do(http.MethodGet, "/api/v1/outbox/chatQueue", nil, &pending)
	require.NoError(suite.T(), err)
	stillQueued := false
	for _, e := range pending {
		if e.ID == entry.ID {
			stillQueued = true
		}
	}
	if result.Failed == 0 {
		assert.False(suite.T(), stillQueued, "synced entry must leave the queue")
	} else {
		assert.Equal(suite.T(), result.Pending, len(pending))
	}
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
