// Package lifecycle decides which bundle runs at launch, detects a boot
// after a crashed update and rolls such updates back.
//
// The controller keeps no durable state of its own. Every decision is
// recomputed from the settings records and the repository pointers, so it is
// safe to terminate the process between any two steps.
package lifecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

const (
	DefaultBundleName   = "index.android.bundle"
	DefaultAssetsPrefix = "assets://"
)

// Repository is the package storage the controller reads pointers from.
type Repository interface {
	CurrentPackage() (*bundle.Package, error)
	CurrentPackageBundlePath(bundleName string) (string, error)
	RollbackPackage() error
	ClearUpdates() error
}

// Settings holds the pending marker and the failed updates list.
type Settings interface {
	PendingUpdate() (*bundle.PendingUpdate, error)
	SavePendingUpdate(hash string, isLoading bool) error
	RemovePendingUpdate() error
	IsPendingUpdate(hash string) (bool, error)
	SaveFailedUpdate(pkg *bundle.Package) error
	RemoveFailedUpdates() error
}

// Options describe the running host binary.
type Options struct {
	AppVersion string
	// BinaryModifiedTime identifies the host binary build.
	BinaryModifiedTime int64
	BundleName         string
	AssetsPrefix       string
	DebugMode          bool
	// TestConfiguration skips the app version comparison of the staleness
	// check so tests can run packages without rebuilding the binary.
	TestConfiguration bool
	// DevCachePath is the cached development bundle removed by
	// ClearDebugCacheIfNeeded. Empty disables the cleanup.
	DevCachePath string
	Fs           afero.Fs
}

// Controller is the update lifecycle state machine. Create one per process
// with New; the per-session flags start cleared and are only set by
// ResolveBundle and InitializeUpdateAfterRestart.
type Controller struct {
	mu       sync.Mutex
	opts     Options
	repo     Repository
	settings Settings

	didUpdate              bool
	needToReportRollback   bool
	isRunningBinaryVersion bool
}

func New(repo Repository, settings Settings, opts Options) *Controller {
	if opts.BundleName == "" {
		opts.BundleName = DefaultBundleName
	}
	if opts.AssetsPrefix == "" {
		opts.AssetsPrefix = DefaultAssetsPrefix
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Controller{
		opts:     opts,
		repo:     repo,
		settings: settings,
	}
}

// ResolveBundle returns the bundle to load: the current package's entry
// bundle when it was installed against this binary, the binary bundled
// asset otherwise. An empty bundleName keeps the configured one.
func (c *Controller) ResolveBundle(bundleName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bundleName != "" {
		c.opts.BundleName = bundleName
	}
	binaryPath := c.binaryBundlePath()

	packagePath, err := c.repo.CurrentPackageBundlePath(c.opts.BundleName)
	if err != nil {
		if !errors.Is(err, bundle.ErrMalformedData) {
			return "", err
		}
		log.Warnf("package index is corrupt, clearing updates: %v", err)
		c.clearUpdatesAfterCorruption()
		packagePath = ""
	}

	if packagePath == "" {
		log.Infof("no package installed, loading bundle %s", binaryPath)
		c.isRunningBinaryVersion = true
		return binaryPath, nil
	}

	pkg, err := c.repo.CurrentPackage()
	if err != nil {
		if !errors.Is(err, bundle.ErrMalformedData) {
			return "", err
		}
		log.Warnf("package metadata is corrupt, clearing updates: %v", err)
		c.clearUpdatesAfterCorruption()
		c.isRunningBinaryVersion = true
		return binaryPath, nil
	}

	latest, err := c.isPackageBundleLatest(pkg)
	if err != nil {
		return "", err
	}
	if latest {
		log.Infof("loading bundle %s", packagePath)
		c.isRunningBinaryVersion = false
		return packagePath, nil
	}

	// The binary is newer than the package.
	c.didUpdate = false
	if !c.opts.DebugMode || c.hasBinaryVersionChanged(pkg) {
		log.Infof("package %s was installed for another binary, clearing updates", pkg.PackageHash)
		if err := c.clearUpdates(); err != nil {
			return "", err
		}
	}
	log.Infof("loading bundle %s", binaryPath)
	c.isRunningBinaryVersion = true
	return binaryPath, nil
}

// InitializeUpdateAfterRestart reconciles the pending marker once per
// launch: a package that was loading when the previous session ended is
// rolled back, a package loading for the first time arms the crash detector.
func (c *Controller) InitializeUpdateAfterRestart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.didUpdate = false

	pending, err := c.settings.PendingUpdate()
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}

	pkg, err := c.repo.CurrentPackage()
	if err != nil {
		if errors.Is(err, bundle.ErrMalformedData) {
			log.Warnf("package metadata is corrupt, clearing updates: %v", err)
			c.clearUpdatesAfterCorruption()
			return nil
		}
		return err
	}
	if pkg == nil {
		log.Info("skipping update initialization, no package installed")
		return nil
	}
	latest, err := c.isPackageBundleLatest(pkg)
	if err != nil {
		return err
	}
	if !latest && c.hasBinaryVersionChanged(pkg) {
		log.Info("skipping update initialization, binary version is newer")
		return nil
	}

	if pending.IsLoading {
		// The previous session never confirmed the update.
		log.Warnf("update %s did not finish loading the last time, rolling back", pending.Hash)
		c.needToReportRollback = true
		return c.rollback()
	}

	c.didUpdate = true
	log.Infof("update %s is running for the first time", pending.Hash)
	return c.settings.SavePendingUpdate(pending.Hash, true)
}

// NotifyApplicationReady confirms the running package. It is idempotent.
func (c *Controller) NotifyApplicationReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.RemovePendingUpdate()
}

// Rollback records the current package as failed and restores the previous one.
func (c *Controller) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollback()
}

func (c *Controller) rollback() error {
	failed, err := c.repo.CurrentPackage()
	if err != nil {
		return err
	}
	if failed != nil {
		if err := c.settings.SaveFailedUpdate(failed); err != nil {
			return err
		}
	}
	if err := c.repo.RollbackPackage(); err != nil {
		return err
	}
	return c.settings.RemovePendingUpdate()
}

// ClearUpdates removes every installed package, the pending marker and the
// failed updates list.
func (c *Controller) ClearUpdates() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearUpdates()
}

func (c *Controller) clearUpdates() error {
	var result *multierror.Error
	if err := c.repo.ClearUpdates(); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear packages: %w", err))
	}
	if err := c.settings.RemovePendingUpdate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove pending update: %w", err))
	}
	if err := c.settings.RemoveFailedUpdates(); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove failed updates: %w", err))
	}
	return result.ErrorOrNil()
}

func (c *Controller) clearUpdatesAfterCorruption() {
	if err := c.clearUpdates(); err != nil {
		log.Errorf("failed to clear updates: %v", err)
	}
}

// IsPackageBundleLatest reports whether pkg was installed against the
// running binary.
func (c *Controller) IsPackageBundleLatest(pkg *bundle.Package) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPackageBundleLatest(pkg)
}

func (c *Controller) isPackageBundleLatest(pkg *bundle.Package) (bool, error) {
	if pkg == nil || pkg.BinaryModifiedTime == "" {
		return false, nil
	}
	modified, err := strconv.ParseInt(pkg.BinaryModifiedTime, 10, 64)
	if err != nil {
		return false, bundle.Unknown("read binary modified time from package metadata", err)
	}
	return modified == c.opts.BinaryModifiedTime &&
		(c.opts.TestConfiguration || c.opts.AppVersion == pkg.AppVersion), nil
}

func (c *Controller) HasBinaryVersionChanged(pkg *bundle.Package) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasBinaryVersionChanged(pkg)
}

func (c *Controller) hasBinaryVersionChanged(pkg *bundle.Package) bool {
	return pkg == nil || c.opts.AppVersion != pkg.AppVersion
}

// ClearDebugCacheIfNeeded removes the cached development bundle in debug
// mode when an update is pending, so the host loads the update instead.
func (c *Controller) ClearDebugCacheIfNeeded(liveReloadEnabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opts.DebugMode || liveReloadEnabled || c.opts.DevCachePath == "" {
		return nil
	}
	pending, err := c.settings.IsPendingUpdate("")
	if err != nil || !pending {
		return err
	}
	if err := c.opts.Fs.Remove(c.opts.DevCachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove dev bundle cache: %w", err)
	}
	return nil
}

func (c *Controller) binaryBundlePath() string {
	return c.opts.AssetsPrefix + c.opts.BundleName
}

// BinaryBundlePath is the asset bundled with the host binary.
func (c *Controller) BinaryBundlePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binaryBundlePath()
}

func (c *Controller) BundleName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.BundleName
}

func (c *Controller) AppVersion() string { return c.opts.AppVersion }

func (c *Controller) BinaryModifiedTime() int64 { return c.opts.BinaryModifiedTime }

func (c *Controller) IsDebugMode() bool { return c.opts.DebugMode }

func (c *Controller) IsUsingTestConfiguration() bool { return c.opts.TestConfiguration }

// DidUpdate is true when this session runs a package for the first time.
func (c *Controller) DidUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.didUpdate
}

func (c *Controller) NeedToReportRollback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needToReportRollback
}

func (c *Controller) SetNeedToReportRollback(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needToReportRollback = v
}

func (c *Controller) IsRunningBinaryVersion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunningBinaryVersion
}
