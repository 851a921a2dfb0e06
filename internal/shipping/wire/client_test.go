package wire

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yai-nexus/cloudlog/internal/shipping"
)

func testConfig(endpoint string) shipping.Config {
	c := shipping.Config{
		Endpoint:        endpoint,
		AccessKeyID:     "key-id",
		AccessKeySecret: "key-secret",
		Project:         "proj",
		Logstore:        "store",
		Topic:           "test-topic",
		Source:          "test-source",
	}
	c.SetDefaults()
	return c
}

func testRecords() []shipping.LogRecord {
	return []shipping.LogRecord{
		{
			TimestampMillis: 1700000001999,
			Level:           shipping.LevelInfo,
			Message:         "first",
			Fields: []shipping.Field{
				{Key: "request_id", Value: "r-1"},
				{Key: "user", Value: "u-1"},
			},
			ProcessID: "1234",
			Hostname:  "host-a",
		},
		{
			TimestampMillis: 1700000002500,
			Level:           shipping.LevelError,
			Message:         "second",
		},
	}
}

func TestClient_SendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/logstores/store/shards/lb", r.URL.Path)

		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "0.6.0", r.Header.Get("x-log-apiversion"))
		assert.Equal(t, "hmac-sha1", r.Header.Get("x-log-signaturemethod"))
		assert.NotEmpty(t, r.Header.Get("x-log-bodyrawsize"))
		assert.NotEmpty(t, r.Header.Get("Date"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "LOG key-id:"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, ContentMD5(body), r.Header.Get("Content-MD5"))

		zr, err := gzip.NewReader(strings.NewReader(string(body)))
		require.NoError(t, err)
		raw, err := io.ReadAll(zr)
		require.NoError(t, err)

		var payload envelope
		require.NoError(t, json.Unmarshal(raw, &payload))

		assert.Equal(t, "test-topic", payload.Topic)
		assert.Equal(t, "test-source", payload.Source)
		require.Equal(t, 2, len(payload.Logs))

		// Epoch milliseconds are truncated to seconds on the wire.
		assert.Equal(t, int64(1700000001), payload.Logs[0].Time)
		assert.Equal(t, int64(1700000002), payload.Logs[1].Time)

		contents := payload.Logs[0].Contents
		require.GreaterOrEqual(t, len(contents), 6)
		assert.Equal(t, content{Key: "level", Value: "info"}, contents[0])
		assert.Equal(t, content{Key: "message", Value: "first"}, contents[1])
		assert.Equal(t, content{Key: "process_id", Value: "1234"}, contents[2])
		assert.Equal(t, content{Key: "hostname", Value: "host-a"}, contents[3])
		assert.Equal(t, content{Key: "request_id", Value: "r-1"}, contents[4])
		assert.Equal(t, content{Key: "user", Value: "u-1"}, contents[5])

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	bytesSent, err := client.SendBatch(context.Background(), testRecords())
	assert.NoError(t, err)
	assert.Greater(t, bytesSent, 0)
}

func TestClient_SendBatch_NoCompression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Encoding"))

		var payload envelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, 2, len(payload.Logs))

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.Compression = shipping.CompressionNone
	client := NewClient(config)

	_, err := client.SendBatch(context.Background(), testRecords())
	assert.NoError(t, err)
}

func TestClient_SendBatch_EmptyBatchIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	bytesSent, err := client.SendBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, bytesSent)
	assert.False(t, called)
}

func TestClient_SendBatch_ServerRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errorCode":"Unauthorized","errorMessage":"signature mismatch"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	_, err := client.SendBatch(context.Background(), testRecords())

	var sendErr *shipping.SendError
	assert.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusUnauthorized, sendErr.StatusCode)
	assert.Equal(t, "Unauthorized", sendErr.Code)
	assert.False(t, sendErr.IsConnection())
}

func TestClient_SendBatch_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(testConfig(server.URL))

	_, err := client.SendBatch(context.Background(), testRecords())

	var sendErr *shipping.SendError
	assert.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.IsConnection())
}

func TestClient_SecurityTokenHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-123", r.Header.Get("x-acs-security-token"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := testConfig(server.URL)
	config.SecurityToken = "tok-123"
	client := NewClient(config)

	_, err := client.SendBatch(context.Background(), testRecords())
	assert.NoError(t, err)
}

func TestClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/logstores/store", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "LOG "))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	assert.True(t, client.HealthCheck(context.Background()))
}

func TestClient_HealthCheck_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	assert.False(t, client.HealthCheck(context.Background()))

	server.Close()
	assert.False(t, client.HealthCheck(context.Background()))
}

func TestClient_Initialize(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client := NewClient(testConfig(healthy.URL))
	assert.NoError(t, client.Initialize(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	client = NewClient(testConfig(broken.URL))
	err := client.Initialize(context.Background())

	var connectErr *shipping.ConnectError
	assert.ErrorAs(t, err, &connectErr)
}

func TestClient_CleanupIsIdempotent(t *testing.T) {
	client := NewClient(testConfig("cn-test.log.example.com"))
	client.Cleanup()
	client.Cleanup()
}

func TestNewClient_HostDerivation(t *testing.T) {
	client := NewClient(testConfig("cn-hangzhou.log.aliyuncs.com"))
	assert.Equal(t, "proj.cn-hangzhou.log.aliyuncs.com", client.host)
	assert.Equal(t, "https://proj.cn-hangzhou.log.aliyuncs.com", client.baseURL)

	client = NewClient(testConfig("http://127.0.0.1:9999/"))
	assert.Equal(t, "127.0.0.1:9999", client.host)
	assert.Equal(t, "http://127.0.0.1:9999", client.baseURL)
}
