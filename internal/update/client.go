package update

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

const (
	updateCheckPath    = "v0.1/public/sparks/update_check"
	reportDeployPath   = "v0.1/public/sparks/report_status/deploy"
	reportDownloadPath = "v0.1/public/sparks/report_status/download"

	httpTimeout = 30 * time.Second
	userAgent   = "sparks-client"
)

// HTTPDoer interface for HTTP requests (allows mocking in tests).
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config identifies the deployment and the installation talking to the server.
type Config struct {
	ServerURL      string
	DeploymentKey  string
	AppVersion     string
	ClientUniqueID string
}

// Client talks to the update server.
type Client struct {
	cfg  Config
	http HTTPDoer
}

// NewClient validates cfg. A nil doer uses an http.Client with a 30s timeout.
func NewClient(cfg Config, doer HTTPDoer) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, bundle.InvalidConfiguration("create update client", errors.New("server url is required"))
	}
	if cfg.DeploymentKey == "" {
		return nil, bundle.InvalidConfiguration("create update client", errors.New("deployment key is required"))
	}
	if !strings.HasSuffix(cfg.ServerURL, "/") {
		cfg.ServerURL += "/"
	}
	if doer == nil {
		doer = &http.Client{Timeout: httpTimeout}
	}
	return &Client{cfg: cfg, http: doer}, nil
}

func (c *Client) DeploymentKey() string { return c.cfg.DeploymentKey }

// WithDeploymentKey returns a client reporting to another deployment.
func (c *Client) WithDeploymentKey(key string) *Client {
	if key == "" || key == c.cfg.DeploymentKey {
		return c
	}
	cfg := c.cfg
	cfg.DeploymentKey = key
	return &Client{cfg: cfg, http: c.http}
}

// QueryUpdate asks the server for an update to the package described by q.
func (c *Client) QueryUpdate(ctx context.Context, q Query) (*CheckResult, error) {
	params := url.Values{}
	params.Set("deploymentKey", c.cfg.DeploymentKey)
	params.Set("appVersion", q.AppVersion)
	params.Set("packageHash", q.PackageHash)
	params.Set("isCompanion", fmt.Sprint(q.IsCompanion))
	params.Set("label", q.Label)
	params.Set("clientUniqueId", c.cfg.ClientUniqueID)
	endpoint := c.cfg.ServerURL + updateCheckPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check for update: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: c.cfg.ServerURL + updateCheckPath}
	}

	var body updateCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, bundle.MalformedData("parse update check response", err)
	}

	result := &CheckResult{CheckedAt: time.Now()}
	info := body.UpdateInfo
	switch {
	case info == nil:
	case info.UpdateAppVersion:
		result.UpdateAppVersion = true
		result.TargetAppVersion = info.AppVersion
	case !info.IsAvailable:
	default:
		result.Package = &bundle.Package{
			PackageHash:   info.PackageHash,
			AppVersion:    info.AppVersion,
			Label:         info.Label,
			DeploymentKey: c.cfg.DeploymentKey,
			Description:   info.Description,
			IsMandatory:   info.IsMandatory,
			PackageSize:   info.PackageSize,
			DownloadURL:   info.DownloadURL,
		}
	}
	return result, nil
}

// ReportStatusDeploy reports a deployment. A nil pkg reports the binary
// version; status is ignored in that case.
func (c *Client) ReportStatusDeploy(ctx context.Context, pkg *bundle.Package, status, previousLabelOrAppVersion, previousDeploymentKey string) error {
	body := DeployStatus{
		AppVersion:                c.cfg.AppVersion,
		DeploymentKey:             c.cfg.DeploymentKey,
		ClientUniqueID:            c.cfg.ClientUniqueID,
		PreviousLabelOrAppVersion: previousLabelOrAppVersion,
		PreviousDeploymentKey:     previousDeploymentKey,
	}
	if pkg != nil {
		body.Label = pkg.Label
		body.AppVersion = pkg.AppVersion
		body.Status = status
	}
	return c.post(ctx, reportDeployPath, body)
}

// ReportStatusDownload reports that pkg was downloaded.
func (c *Client) ReportStatusDownload(ctx context.Context, pkg *bundle.Package) error {
	return c.post(ctx, reportDownloadPath, downloadStatus{
		ClientUniqueID: c.cfg.ClientUniqueID,
		DeploymentKey:  c.cfg.DeploymentKey,
		Label:          pkg.Label,
	})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to report status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: c.cfg.ServerURL + path}
	}
	log.Debugf("reported status to %s", path)
	return nil
}

// RequiresBinaryUpdate returns true if target is a newer binary version
// than current. Invalid versions never require an update.
func RequiresBinaryUpdate(current, target string) bool {
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if !strings.HasPrefix(target, "v") {
		target = "v" + target
	}
	if !semver.IsValid(current) || !semver.IsValid(target) {
		return false
	}
	return semver.Compare(target, current) > 0
}
