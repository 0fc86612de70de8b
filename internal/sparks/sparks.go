// Package sparks is the host facing API of the update client. A Client wires
// the settings store, the package repository, the lifecycle controller, the
// restart coordinator and the status report selector together.
package sparks

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/kv"
	"github.com/spicysparks/sparks-client/internal/lifecycle"
	"github.com/spicysparks/sparks-client/internal/repo"
	"github.com/spicysparks/sparks-client/internal/restart"
	"github.com/spicysparks/sparks-client/internal/settings"
	"github.com/spicysparks/sparks-client/internal/telemetry"
	"github.com/spicysparks/sparks-client/internal/update"
)

const devBundleCacheName = "ReactNativeDevBundle.js"

// HTTPDoer is shared by the package downloads and the update server client.
type HTTPDoer interface {
	repo.HTTPDoer
	update.HTTPDoer
}

// Options configure a Client. Only Home and AppVersion are required for the
// local operations; remote operations also need ServerURL and DeploymentKey.
type Options struct {
	Home string
	Fs   afero.Fs

	ServerURL     string
	DeploymentKey string

	AppVersion         string
	BinaryModifiedTime int64
	// BinaryPackageHash identifies the bundle shipped inside the binary.
	BinaryPackageHash string
	BundleName        string
	AssetsPrefix      string

	// PublicKey is a PEM encoded ed25519 key. When set every downloaded
	// package must carry a valid signature.
	PublicKey string

	DebugMode         bool
	TestConfiguration bool

	// StoreBackend is kv.BackendFile or kv.BackendSQLite.
	StoreBackend string

	// CacheUpdateChecks reuses an update check result for ten minutes.
	CacheUpdateChecks bool

	Host       restart.Host
	Dispatcher restart.Dispatcher
	HTTPClient HTTPDoer
	BackOff    func() backoff.BackOff
	Clock      func() time.Time
}

// Client is created once per process with New.
type Client struct {
	opts Options

	store       kv.Store
	settings    *settings.Manager
	repo        *repo.Repository
	lifecycle   *lifecycle.Controller
	coordinator *restart.Coordinator
	reports     *telemetry.Manager
	selector    *telemetry.Selector
	acquisition *update.Client

	syncing atomic.Bool

	readyOnce sync.Once
	readyErr  error

	mu         sync.Mutex
	unreported *telemetry.StatusReport
}

// New builds the client in dependency order: signing key, settings store,
// repository, lifecycle controller, restart coordinator, status reports and
// finally the update server client. Nothing is read from the package
// repository until Start or ResolveBundlePath is called.
func New(opts Options) (*Client, error) {
	if opts.Home == "" {
		return nil, bundle.InvalidConfiguration("create client", errors.New("home directory is required"))
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Host == nil {
		opts.Host = detachedHost{}
	}

	var repoOpts []repo.Option
	if opts.PublicKey != "" {
		verifier, err := repo.NewSignatureVerifier(opts.PublicKey)
		if err != nil {
			return nil, err
		}
		repoOpts = append(repoOpts, repo.WithVerifier(verifier))
	}
	if opts.HTTPClient != nil {
		repoOpts = append(repoOpts, repo.WithHTTPClient(opts.HTTPClient))
	}
	if opts.BackOff != nil {
		repoOpts = append(repoOpts, repo.WithBackOff(opts.BackOff))
	}

	if err := opts.Fs.MkdirAll(opts.Home, 0o755); err != nil {
		return nil, fmt.Errorf("create home directory: %w", err)
	}
	store, err := kv.Open(opts.StoreBackend, opts.Fs, opts.Home)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:     opts,
		store:    store,
		settings: settings.New(store, settings.WithClock(opts.Clock)),
		repo:     repo.New(opts.Fs, opts.Home, repoOpts...),
	}
	c.lifecycle = lifecycle.New(c.repo, c.settings, lifecycle.Options{
		AppVersion:         opts.AppVersion,
		BinaryModifiedTime: opts.BinaryModifiedTime,
		BundleName:         opts.BundleName,
		AssetsPrefix:       opts.AssetsPrefix,
		DebugMode:          opts.DebugMode,
		TestConfiguration:  opts.TestConfiguration,
		DevCachePath:       filepath.Join(opts.Home, devBundleCacheName),
		Fs:                 opts.Fs,
	})

	restartOpts := []restart.Option{restart.WithClock(opts.Clock)}
	if opts.Dispatcher != nil {
		restartOpts = append(restartOpts, restart.WithDispatcher(opts.Dispatcher))
	}
	c.coordinator = restart.New(opts.Host, c.lifecycle, c.settings, restartOpts...)
	c.reports = telemetry.NewManager(store)
	c.selector = telemetry.NewSelector(c.lifecycle, c.settings, c.repo, c.reports)

	if opts.ServerURL != "" && opts.DeploymentKey != "" {
		id, err := c.settings.ClientUniqueID()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		var doer update.HTTPDoer
		if opts.HTTPClient != nil {
			doer = opts.HTTPClient
		}
		c.acquisition, err = update.NewClient(update.Config{
			ServerURL:      opts.ServerURL,
			DeploymentKey:  opts.DeploymentKey,
			AppVersion:     opts.AppVersion,
			ClientUniqueID: id,
		}, doer)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return c, nil
}

// Start runs the once per launch reconciliation of the pending marker and
// returns the bundle the host should load.
func (c *Client) Start() (string, error) {
	if err := c.lifecycle.InitializeUpdateAfterRestart(); err != nil {
		return "", err
	}
	return c.ResolveBundlePath()
}

// ResolveBundlePath returns the bundle the host should load.
func (c *Client) ResolveBundlePath() (string, error) {
	return c.lifecycle.ResolveBundle("")
}

// ConfirmHealthy disarms the crash detector for the running package.
func (c *Client) ConfirmHealthy() error {
	return c.lifecycle.NotifyApplicationReady()
}

// Install makes a downloaded package current. With InstallImmediate the
// bundle is reloaded right away; any other mode drops queued restarts and
// waits for the moment the mode names.
func (c *Client) Install(pkg *bundle.Package, mode bundle.InstallMode, minBackground time.Duration) error {
	if pkg == nil || pkg.PackageHash == "" {
		return bundle.Unknown("install package", errors.New("update package to be installed has no hash"))
	}
	pending, err := c.settings.IsPendingUpdate("")
	if err != nil {
		return err
	}
	if err := c.repo.InstallPackage(pkg, pending); err != nil {
		// The downloaded package goes with the rest of the corrupt state,
		// so the caller has to download it again.
		c.recoverFromCorruption(err)
		return err
	}
	if err := c.settings.SavePendingUpdate(pkg.PackageHash, false); err != nil {
		return err
	}
	log.Infof("installed package %s (%s)", pkg.PackageHash, mode)

	c.coordinator.OnInstall(mode, minBackground)
	if mode == bundle.InstallImmediate {
		return c.coordinator.Restart(false)
	}
	c.coordinator.ClearPendingRestart()
	return nil
}

func (c *Client) Restart(onlyIfPending bool) error {
	return c.coordinator.Restart(onlyIfPending)
}

func (c *Client) AllowRestarts() error {
	return c.coordinator.Allow()
}

func (c *Client) DisallowRestarts() {
	c.coordinator.Disallow()
}

func (c *Client) ClearPendingRestarts() {
	c.coordinator.ClearPendingRestart()
}

func (c *Client) IsFailedHash(hash string) (bool, error) {
	return c.settings.IsFailedHash(hash)
}

// IsFirstRunOf reports whether hash is the package this session runs for
// the first time.
func (c *Client) IsFirstRunOf(hash string) (bool, error) {
	if hash == "" || !c.lifecycle.DidUpdate() {
		return false, nil
	}
	current, err := c.repo.CurrentPackageHash()
	if err != nil {
		if c.recoverFromCorruption(err) {
			return false, nil
		}
		return false, err
	}
	return current == hash, nil
}

// recoverFromCorruption clears every update when err reports a corrupt
// package index and tells whether it did.
func (c *Client) recoverFromCorruption(err error) bool {
	if !errors.Is(err, bundle.ErrMalformedData) {
		return false
	}
	log.Warnf("package index is corrupt, clearing updates: %v", err)
	if err := c.lifecycle.ClearUpdates(); err != nil {
		log.Errorf("failed to clear updates: %v", err)
	}
	return true
}

// GetPendingOrRunningMetadata returns the package in the requested state, or
// nil when there is none. A corrupt package index clears all updates.
func (c *Client) GetPendingOrRunningMetadata(state bundle.UpdateState) (*bundle.Package, error) {
	pkg, err := c.pendingOrRunningMetadata(state)
	if c.recoverFromCorruption(err) {
		return nil, nil
	}
	return pkg, err
}

func (c *Client) pendingOrRunningMetadata(state bundle.UpdateState) (*bundle.Package, error) {
	current, err := c.repo.CurrentPackage()
	if err != nil || current == nil {
		return nil, err
	}
	isPending, err := c.settings.IsPendingUpdate(current.PackageHash)
	if err != nil {
		return nil, err
	}

	switch {
	case state == bundle.StatePending && !isPending:
		return nil, nil
	case state == bundle.StateRunning && isPending:
		// The current package has not been loaded yet.
		return c.repo.PreviousPackage()
	}
	if c.lifecycle.IsRunningBinaryVersion() {
		// Only reachable in debug builds, where stale packages are kept.
		current.IsDebugOnly = true
	}
	current.IsPending = isPending
	return current, nil
}

// GetLatestStatusReport returns the report to send for this session, or nil.
func (c *Client) GetLatestStatusReport() (*telemetry.StatusReport, error) {
	return c.selector.NewStatusReport()
}

func (c *Client) RecordStatusReported(r *telemetry.StatusReport) error {
	return c.reports.RecordStatusReported(r)
}

func (c *Client) SaveStatusReportForRetry(r *telemetry.StatusReport) error {
	return c.reports.SaveStatusReportForRetry(r)
}

// ClearAllUpdates removes every installed package together with the pending
// marker and the failed updates list.
func (c *Client) ClearAllUpdates() error {
	log.Info("clearing updates")
	return c.lifecycle.ClearUpdates()
}

func (c *Client) LatestRollbackInfo() (*bundle.RollbackInfo, error) {
	return c.settings.LatestRollbackInfo()
}

func (c *Client) SetLatestRollbackInfo(hash string) error {
	return c.settings.SetLatestRollbackInfo(hash)
}

func (c *Client) FailedUpdates() ([]bundle.Package, error) {
	return c.settings.FailedUpdates()
}

func (c *Client) PendingUpdate() (*bundle.PendingUpdate, error) {
	return c.settings.PendingUpdate()
}

// Configuration is what the client reports about itself.
type Configuration struct {
	AppVersion     string `json:"appVersion" yaml:"appVersion"`
	ClientUniqueID string `json:"clientUniqueId" yaml:"clientUniqueId"`
	DeploymentKey  string `json:"deploymentKey,omitempty" yaml:"deploymentKey,omitempty"`
	ServerURL      string `json:"serverUrl,omitempty" yaml:"serverUrl,omitempty"`
	PackageHash    string `json:"packageHash,omitempty" yaml:"packageHash,omitempty"`
}

func (c *Client) GetConfiguration() (*Configuration, error) {
	id, err := c.settings.ClientUniqueID()
	if err != nil {
		return nil, err
	}
	return &Configuration{
		AppVersion:     c.opts.AppVersion,
		ClientUniqueID: id,
		DeploymentKey:  c.opts.DeploymentKey,
		ServerURL:      c.opts.ServerURL,
		PackageHash:    c.opts.BinaryPackageHash,
	}, nil
}

// Lifecycle exposes the controller flags of this session.
func (c *Client) Lifecycle() *lifecycle.Controller { return c.lifecycle }

func (c *Client) Repository() *repo.Repository { return c.repo }

// OnPause forwards the host's transition to the background.
func (c *Client) OnPause() {
	c.coordinator.OnPause()
}

// Close stops the suspend timer and closes the settings store.
func (c *Client) Close() error {
	c.coordinator.Close()
	return c.store.Close()
}

// detachedHost is used when no host runtime is attached, e.g. from the CLI.
type detachedHost struct{}

func (detachedHost) InstallActiveBundle(path string) error {
	log.Infof("next launch loads %s", path)
	return nil
}

func (detachedHost) Reload(string) error {
	return errors.New("no host attached")
}

func (detachedHost) RestartApplication() error {
	log.Info("no host attached, the update is applied on the next launch")
	return nil
}
