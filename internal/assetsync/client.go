package assetsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rhplus0831/risugit/internal/security"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// DefaultSchedule is the wait before each retry. Its length bounds the
// number of retries.
var DefaultSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// ErrNotOnServer reports that the asset server does not have an asset.
var ErrNotOnServer = errors.New("asset not found on server")

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
}

// MimeType picks a content type from the file extension of name.
func MimeType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

// Client speaks the asset server protocol: HEAD, GET and multipart PUT on
// <server>/<name>.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient returns a Client for the server at baseURL. A nil schedule means
// DefaultSchedule.
func NewClient(baseURL string, schedule []time.Duration) *Client {
	if schedule == nil {
		schedule = DefaultSchedule
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = len(schedule)
	rc.Logger = retryLogger{}
	rc.CheckRetry = checkRetry
	rc.Backoff = func(_, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		if attempt < len(schedule) {
			return schedule[attempt]
		}
		return schedule[len(schedule)-1]
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: rc}
}

// checkRetry retries transport errors and every non-2xx status except 404,
// which is an authoritative answer.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return resp.StatusCode < 200 || resp.StatusCode > 299, nil
}

func (c *Client) url(name string) string {
	return c.baseURL + "/" + url.PathEscape(name)
}

// do sends req and returns a response with a 2xx or 404 status. Anything else
// after the last retry is a RetryExhausted error.
func (c *Client) do(op string, req *retryablehttp.Request) (*http.Response, error) {
	req.Header.Set(security.FlagHeader, "1")
	resp, err := c.http.Do(req)
	if ctxErr := req.Context().Err(); ctxErr != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, ctxErr
	}
	if err != nil {
		return nil, syncerr.RetryExhausted(op, err)
	}
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, nil
	}
	_ = resp.Body.Close()
	return nil, syncerr.RetryExhausted(op, fmt.Errorf("status %s", resp.Status))
}

// Exists asks the server whether it has name.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, c.url(name), nil)
	if err != nil {
		return false, fmt.Errorf("assetsync: head %s: %w", name, err)
	}
	resp, err := c.do("head "+name, req)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound, nil
}

// Upload stores data under name as a multipart "file" field.
func (c *Client) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return syncerr.Upload(name, err)
	}
	if _, err := part.Write(data); err != nil {
		return syncerr.Upload(name, err)
	}
	if err := mw.Close(); err != nil {
		return syncerr.Upload(name, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, c.url(name), body.Bytes())
	if err != nil {
		return syncerr.Upload(name, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do("upload "+name, req)
	if err != nil {
		return syncerr.Upload(name, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return syncerr.Upload(name, fmt.Errorf("status %s", resp.Status))
	}
	security.RecordAssetBytes(security.DirectionUpload, int64(len(data)))
	return nil
}

// Download fetches name. A missing asset yields ErrNotOnServer.
func (c *Client) Download(ctx context.Context, name string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url(name), nil)
	if err != nil {
		return nil, fmt.Errorf("assetsync: get %s: %w", name, err)
	}
	resp, err := c.do("download "+name, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("assetsync: %s: %w", name, ErrNotOnServer)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("assetsync: read %s: %w", name, err)
	}
	security.RecordAssetBytes(security.DirectionDownload, int64(len(data)))
	return data, nil
}

// retryLogger routes retryablehttp's messages to the debug log.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...any) { log.Debug(msg, kv...) }
func (retryLogger) Info(msg string, kv ...any)  { log.Debug(msg, kv...) }
func (retryLogger) Debug(msg string, kv ...any) { log.Debug(msg, kv...) }
func (retryLogger) Warn(msg string, kv ...any)  { log.Debug(msg, kv...) }

var _ retryablehttp.LeveledLogger = retryLogger{}
