package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/yai-nexus/cloudlog/internal/shipping"
)

// Client sends batches to the remote log service over its HTTP protocol.
type Client struct {
	config     shipping.Config
	host       string
	baseURL    string
	httpClient *http.Client
}

type envelope struct {
	Topic  string     `json:"topic"`
	Source string     `json:"source"`
	Logs   []logEntry `json:"logs"`
}

type logEntry struct {
	Time     int64     `json:"time"`
	Contents []content `json:"contents"`
}

type content struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewClient(config shipping.Config) *Client {
	host := fmt.Sprintf("%s.%s", config.Project, config.Endpoint)
	baseURL := "https://" + host

	// An endpoint carrying an explicit scheme is used verbatim, which is how
	// local and test deployments are addressed.
	if strings.HasPrefix(config.Endpoint, "http://") || strings.HasPrefix(config.Endpoint, "https://") {
		baseURL = strings.TrimSuffix(config.Endpoint, "/")
		if u, err := url.Parse(baseURL); err == nil {
			host = u.Host
		}
	}

	return &Client{
		config:  config,
		host:    host,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Initialize probes the log store once. The transport must not start
// accepting records if this fails.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.HealthCheck(ctx) {
		return &shipping.ConnectError{
			Endpoint: c.host,
			Err:      fmt.Errorf("health probe of logstore %q failed", c.config.Logstore),
		}
	}
	return nil
}

// SendBatch serializes records into the wire envelope, optionally gzips it,
// signs the request and POSTs it. It returns the number of body bytes sent.
func (c *Client) SendBatch(ctx context.Context, records []shipping.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	raw, err := json.Marshal(c.buildEnvelope(records))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal batch: %w", err)
	}

	body := raw
	compressed := c.config.Compression == shipping.CompressionGzip
	if compressed {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return 0, fmt.Errorf("failed to compress batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("failed to compress batch: %w", err)
		}
		body = buf.Bytes()
	}

	path := fmt.Sprintf("/logstores/%s/shards/lb", c.config.Logstore)
	headers := c.baseHeaders()
	headers["Content-Type"] = "application/json"
	headers["Content-Length"] = strconv.Itoa(len(body))
	headers["Content-MD5"] = ContentMD5(body)
	headers[headerBodyRawSize] = strconv.Itoa(len(raw))
	if compressed {
		headers["Content-Encoding"] = "gzip"
	}

	if err := c.do(ctx, http.MethodPost, path, headers, body); err != nil {
		return 0, err
	}
	return len(body), nil
}

// HealthCheck probes the log-group resource. Any failure, including a
// non-2xx response, reads as unhealthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	path := fmt.Sprintf("/logstores/%s", c.config.Logstore)
	return c.do(ctx, http.MethodGet, path, c.baseHeaders(), nil) == nil
}

// Cleanup releases pooled connections. Safe to call more than once.
func (c *Client) Cleanup() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) buildEnvelope(records []shipping.LogRecord) envelope {
	logs := make([]logEntry, 0, len(records))
	for _, record := range records {
		contents := make([]content, 0, len(record.Fields)+4)
		contents = append(contents,
			content{Key: "level", Value: record.Level.String()},
			content{Key: "message", Value: record.Message},
		)
		if record.ProcessID != "" {
			contents = append(contents, content{Key: "process_id", Value: record.ProcessID})
		}
		if record.Hostname != "" {
			contents = append(contents, content{Key: "hostname", Value: record.Hostname})
		}
		for _, field := range record.Fields {
			contents = append(contents, content{Key: field.Key, Value: field.Value})
		}

		logs = append(logs, logEntry{
			// The protocol carries epoch seconds; truncation is required.
			Time:     record.TimestampMillis / 1000,
			Contents: contents,
		})
	}

	return envelope{
		Topic:  c.config.Topic,
		Source: c.config.Source,
		Logs:   logs,
	}
}

func (c *Client) baseHeaders() map[string]string {
	headers := map[string]string{
		"Host":                c.host,
		"Date":                time.Now().UTC().Format(http.TimeFormat),
		headerAPIVersion:      apiVersion,
		headerSignatureMethod: signatureMethod,
	}
	if c.config.SecurityToken != "" {
		headers[headerSecurityToken] = c.config.SecurityToken
	}
	return headers
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &shipping.SendError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Host = headers["Host"]
	req.Header.Set("Authorization",
		Sign(method, path, headers, c.config.AccessKeyID, c.config.AccessKeySecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &shipping.SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return shipping.NewSendError(resp.StatusCode, responseBody)
	}

	return nil
}
