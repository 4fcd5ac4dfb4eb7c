package pacs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containers/common/pkg/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

const (
	pacsPrefix = "[PacsClient] "
	sinkSource = "PacsUploader"

	tokenSafetyMargin = 30 * time.Second

	// fallbacks when the command line leaves the timeouts unset
	defaultCommandTimeout = 15 * time.Second
	defaultUploadTimeout  = 35 * time.Minute

	confirmAttempts = 3
	confirmDelay    = 500 * time.Millisecond

	maxErrorBody = 2000
)

// Sink is the one way operator message channel; see pkg/logsink.
type Sink interface {
	Log(message string, source string)
	LogColor(message string, source string, color string)
}

// ClientInterface is the HTTP side of the PACS contract: OAuth2 token
// lifecycle, instance existence queries, streaming uploads and study
// labeling. Exists/AddLabel report failure as false, never as an error,
// matching the surrounding "the case continues" policy.
type ClientInterface interface {
	Exists(ctx context.Context, sopUID, seriesUID string) bool
	ConfirmUploaded(ctx context.Context, sopUID, seriesUID string) bool
	Upload(ctx context.Context, path string, progress func(sent, total int64)) error
	AddLabel(ctx context.Context, studyUID, label string) bool
}

type Client struct {
	Log       clog.PluggableLoggerInterface
	Config    config.AccessorInterface
	Sink      Sink
	RetryOpts *retry.Options

	short *http.Client
	long  *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func New(log clog.PluggableLoggerInterface, cfg config.AccessorInterface, sink Sink, opts common.AgentOptions) (*Client, error) {
	snapshot := cfg.Get()
	if snapshot.PacsBaseURL == "" {
		return nil, fmt.Errorf("pacs base url is required")
	}
	if snapshot.PacsTokenURL == "" {
		return nil, fmt.Errorf("pacs token url is required")
	}
	if snapshot.PacsClientID == "" || snapshot.PacsClientSecret == "" {
		return nil, fmt.Errorf("pacs client credentials are required")
	}
	commandTimeout := opts.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	return &Client{
		Log:       log,
		Config:    cfg,
		Sink:      sink,
		RetryOpts: opts.RetryOpts,
		short:     &http.Client{Timeout: commandTimeout},
		long:      &http.Client{Timeout: uploadTimeout},
	}, nil
}

func (o *Client) baseURL() string {
	return strings.TrimRight(o.Config.Get().PacsBaseURL, "/")
}

// getToken returns the cached token while it is still inside the 30s
// safety margin, refreshing it otherwise.
func (o *Client) getToken(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token != "" && time.Now().Before(o.expiresAt) {
		return o.token, nil
	}

	cfg := o.Config.Get()
	cc := &clientcredentials.Config{
		ClientID:     cfg.PacsClientID,
		ClientSecret: cfg.PacsClientSecret,
		TokenURL:     cfg.PacsTokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.short)

	var tok *oauth2.Token
	err := retry.IfNecessary(ctx, func() error {
		var terr error
		tok, terr = cc.Token(ctx)
		return terr
	}, o.RetryOpts)
	if err != nil {
		return "", fmt.Errorf("pacs token: %w", err)
	}

	o.Log.Debug(pacsPrefix + "access token refreshed")
	o.token = tok.AccessToken
	if tok.Expiry.IsZero() {
		o.expiresAt = time.Now()
	} else {
		margin := time.Until(tok.Expiry) - tokenSafetyMargin
		if margin < 0 {
			margin = 0
		}
		o.expiresAt = time.Now().Add(margin)
	}
	return o.token, nil
}

func (o *Client) invalidateToken() {
	o.mu.Lock()
	o.token = ""
	o.expiresAt = time.Time{}
	o.mu.Unlock()
}

// doWithAuth executes a request with a bearer token, retrying exactly
// once with a fresh token when the server answers 401.
func (o *Client) doWithAuth(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	token, err := o.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := build()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)
	o.invalidateToken()
	token, err = o.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err = build()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}

// Exists answers whether the instance is already archived. Both the
// SOPInstanceUID and the SeriesInstanceUID are checked to guard against
// stale per instance hits; the result is the AND of both lookups.
func (o *Client) Exists(ctx context.Context, sopUID, seriesUID string) bool {
	if sopUID == "" {
		return false
	}
	found, err := o.findNotEmpty(ctx, "Instance", "SOPInstanceUID", sopUID)
	if err != nil {
		o.Sink.LogColor(fmt.Sprintf("PACS lookup failed for SOPInstanceUID %s: %v", sopUID, err), sinkSource, "red")
		return false
	}
	if !found {
		return false
	}
	found, err = o.findNotEmpty(ctx, "Instance", "SeriesInstanceUID", seriesUID)
	if err != nil {
		o.Sink.LogColor(fmt.Sprintf("PACS lookup failed for SeriesInstanceUID %s: %v", seriesUID, err), sinkSource, "red")
		return false
	}
	return found
}

// ConfirmUploaded polls Exists a few times to let the archive index a
// freshly uploaded instance.
func (o *Client) ConfirmUploaded(ctx context.Context, sopUID, seriesUID string) bool {
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if o.Exists(ctx, sopUID, seriesUID) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(confirmDelay):
		}
	}
	return false
}

func (o *Client) findNotEmpty(ctx context.Context, level, queryTag, value string) (bool, error) {
	ids, status, err := o.find(ctx, level, queryTag, value, 1)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	return len(ids) > 0, nil
}

func (o *Client) find(ctx context.Context, level, queryTag, value string, limit int) ([]json.RawMessage, int, error) {
	payload := map[string]interface{}{
		"Level": level,
		"Query": map[string]string{queryTag: value},
	}
	if limit > 0 {
		payload["Limit"] = limit
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	var resp *http.Response
	err = retry.IfNecessary(ctx, func() error {
		var derr error
		resp, derr = o.doWithAuth(ctx, o.short, func() (*http.Request, error) {
			req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL()+"/tools/find", bytes.NewReader(body))
			if rerr != nil {
				return nil, rerr
			}
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		})
		return derr
	}, o.RetryOpts)
	if err != nil {
		return nil, 0, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("find %s %s: status %d", level, queryTag, resp.StatusCode)
	}
	var ids []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("find %s %s: %w", level, queryTag, err)
	}
	return ids, resp.StatusCode, nil
}

// Upload streams one DICOM file to /instances through the throttled
// progress reader. A 401 is retried exactly once with a fresh token and
// a rewound body.
func (o *Client) Upload(ctx context.Context, path string, progress func(sent, total int64)) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	total := info.Size()
	capFn := func() int64 { return o.Config.Get().MaxUploadBytesPerSec() }

	attempt := func(token string) (*http.Response, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		reader := newProgressReader(ctx, f, total, progress, capFn)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL()+"/instances", reader)
		if err != nil {
			return nil, err
		}
		req.ContentLength = total
		req.Header.Set("Content-Type", "application/dicom")
		req.Header.Set("Authorization", "Bearer "+token)
		return o.long.Do(req)
	}

	token, err := o.getToken(ctx)
	if err != nil {
		return err
	}
	resp, err := attempt(token)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		o.invalidateToken()
		token, err = o.getToken(ctx)
		if err != nil {
			return err
		}
		resp, err = attempt(token)
		if err != nil {
			return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
		}
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		body := readCapped(resp.Body)
		o.Sink.LogColor(
			fmt.Sprintf("PACS upload failed for %s: %d %s", filepath.Base(path), resp.StatusCode, body),
			sinkSource, "red")
		return fmt.Errorf("upload %s: status %d", filepath.Base(path), resp.StatusCode)
	}
	return nil
}

// AddLabel resolves the Orthanc identifier of a study and attaches the
// label. Failures are logged and reported as false, never raised.
func (o *Client) AddLabel(ctx context.Context, studyUID, label string) bool {
	if studyUID == "" || label == "" {
		o.Sink.LogColor("Invalid study uid or label for PACS labeling", sinkSource, "red")
		return false
	}
	ids, status, err := o.find(ctx, "Study", "StudyInstanceUID", studyUID, 0)
	if err != nil || status == http.StatusNotFound || len(ids) == 0 {
		o.Sink.LogColor(fmt.Sprintf("Study %s not found in PACS", studyUID), sinkSource, "red")
		return false
	}
	orthancID, ok := decodeOrthancID(ids[0])
	if !ok {
		o.Sink.LogColor(fmt.Sprintf("Failed to extract Orthanc ID for study %s", studyUID), sinkSource, "red")
		return false
	}

	resp, err := o.doWithAuth(ctx, o.short, func() (*http.Request, error) {
		url := fmt.Sprintf("%s/studies/%s/labels/%s", o.baseURL(), orthancID, label)
		return http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	})
	if err != nil {
		o.Sink.LogColor(fmt.Sprintf("Label add failed: %v", err), sinkSource, "red")
		return false
	}
	defer drain(resp)
	if resp.StatusCode >= 300 {
		body := readCapped(resp.Body)
		o.Sink.LogColor(
			fmt.Sprintf("PACS label add failed for study %s (orthanc_id: %s): %d %s", studyUID, orthancID, resp.StatusCode, body),
			sinkSource, "red")
		return false
	}
	o.Sink.LogColor(fmt.Sprintf("PACS label added for %s (orthanc_id: %s): %s", studyUID, orthancID, label), sinkSource, "green")
	return true
}

func decodeOrthancID(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, true
	}
	var obj struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
		return obj.ID, true
	}
	return "", false
}

func readCapped(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	body := strings.TrimSpace(string(b))
	if body == "" {
		return "<empty>"
	}
	return body
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
