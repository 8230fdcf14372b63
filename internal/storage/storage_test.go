package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "forecast/features/2024-03-01.csv", JoinKey("forecast/", "/features", "", "2024-03-01.csv"))
	assert.Equal(t, "a.csv", JoinKey("", "a.csv"))
}

func TestNormalizeEndpoint(t *testing.T) {
	host, secure := normalizeEndpoint("https://s3.example.com/", false)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	host, secure = normalizeEndpoint("http://localhost:9000", true)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	host, secure = normalizeEndpoint("minio:9000", true)
	assert.Equal(t, "minio:9000", host)
	assert.True(t, secure)
}

func TestNewMinioClient_Validates(t *testing.T) {
	_, err := NewMinioClient(MinioConfig{})
	require.Error(t, err)

	_, err = NewMinioClient(MinioConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)

	_, err = NewMinioClient(MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.Error(t, err)

	c, err := NewMinioClient(MinioConfig{Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "exports"})
	require.NoError(t, err)
	assert.Equal(t, "exports", c.bucket)
}
