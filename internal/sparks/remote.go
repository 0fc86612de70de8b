package sparks

import (
	"context"
	"errors"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/repo"
	"github.com/spicysparks/sparks-client/internal/telemetry"
	"github.com/spicysparks/sparks-client/internal/update"
)

const (
	DefaultRollbackRetryDelayInHours = 24
	DefaultRollbackRetryMaxAttempts  = 1
)

// RollbackRetryOptions allow a rolled back package to be offered again.
type RollbackRetryOptions struct {
	DelayInHours     float64
	MaxRetryAttempts int
}

// DefaultRollbackRetryOptions retries a rolled back package once, a day
// after the rollback.
func DefaultRollbackRetryOptions() RollbackRetryOptions {
	return RollbackRetryOptions{
		DelayInHours:     DefaultRollbackRetryDelayInHours,
		MaxRetryAttempts: DefaultRollbackRetryMaxAttempts,
	}
}

func (o RollbackRetryOptions) validate() error {
	if o.DelayInHours < 0 {
		return errors.New("delay in hours cannot be negative")
	}
	if o.MaxRetryAttempts < 1 {
		return errors.New("max retry attempts cannot be less than 1")
	}
	return nil
}

func (c *Client) remote(op string) (*update.Client, error) {
	if c.acquisition == nil {
		return nil, bundle.InvalidConfiguration(op, errors.New("server url and deployment key are required"))
	}
	return c.acquisition, nil
}

// CheckForUpdate asks the server for a package newer than the latest local
// one. It returns nil when there is none, when the release needs another
// binary, or when the offered package is already installed or bundled. An
// empty deploymentKey uses the configured one.
func (c *Client) CheckForUpdate(ctx context.Context, deploymentKey string) (*bundle.Package, error) {
	acq, err := c.remote("check for update")
	if err != nil {
		return nil, err
	}
	acq = acq.WithDeploymentKey(deploymentKey)

	local, err := c.GetPendingOrRunningMetadata(bundle.StateLatest)
	if err != nil {
		return nil, err
	}
	q := update.Query{AppVersion: c.opts.AppVersion, PackageHash: c.opts.BinaryPackageHash}
	if local != nil {
		q = update.Query{AppVersion: local.AppVersion, PackageHash: local.PackageHash, Label: local.Label}
	}

	result, err := c.queryUpdate(ctx, acq, q)
	if err != nil {
		return nil, err
	}

	if result.UpdateAppVersion {
		if update.RequiresBinaryUpdate(c.opts.AppVersion, result.TargetAppVersion) {
			log.Infof("an update is available for binary version %s, this binary is %s", result.TargetAppVersion, c.opts.AppVersion)
		}
		return nil, nil
	}
	remote := result.Package
	if remote == nil {
		return nil, nil
	}
	if local != nil && local.PackageHash == remote.PackageHash {
		return nil, nil
	}
	if (local == nil || local.IsDebugOnly) && c.opts.BinaryPackageHash != "" && c.opts.BinaryPackageHash == remote.PackageHash {
		return nil, nil
	}

	remote.FailedInstall, err = c.settings.IsFailedHash(remote.PackageHash)
	if err != nil {
		return nil, err
	}
	remote.DeploymentKey = acq.DeploymentKey()
	return remote, nil
}

func (c *Client) queryUpdate(ctx context.Context, acq *update.Client, q update.Query) (*update.CheckResult, error) {
	if c.opts.CacheUpdateChecks {
		if entry, err := update.LoadCache(c.opts.Home); err == nil && update.IsCacheValid(entry) &&
			entry.Matches(acq.DeploymentKey(), q.AppVersion, q.PackageHash) {
			log.Debug("using cached update check result")
			return entry.Result(), nil
		}
	}
	result, err := acq.QueryUpdate(ctx, q)
	if err != nil {
		return nil, err
	}
	if c.opts.CacheUpdateChecks {
		if err := update.SaveCache(c.opts.Home, update.NewCacheEntry(acq.DeploymentKey(), q, result)); err != nil {
			log.Warnf("failed to cache update check result: %v", err)
		}
	}
	return result, nil
}

// Download fetches and unpacks remote. A package that fails verification is
// recorded as failed so it is not offered again blindly.
func (c *Client) Download(ctx context.Context, remote *bundle.Package, progress repo.ProgressFunc) (*bundle.Package, error) {
	if remote == nil || remote.DownloadURL == "" {
		return nil, bundle.InvalidUpdate("download package", errors.New("cannot download an update without a download url"))
	}
	pkg := remote.Clone()
	pkg.FailedInstall = false
	pkg.BinaryModifiedTime = strconv.FormatInt(c.opts.BinaryModifiedTime, 10)

	downloaded, err := c.repo.DownloadPackage(ctx, pkg, c.lifecycle.BundleName(), progress)
	if err != nil {
		if errors.Is(err, bundle.ErrInvalidUpdate) {
			if serr := c.settings.SaveFailedUpdate(pkg); serr != nil {
				log.Errorf("failed to record invalid update %s: %v", pkg.PackageHash, serr)
			}
		}
		return nil, err
	}

	if c.acquisition != nil {
		if err := c.acquisition.WithDeploymentKey(downloaded.DeploymentKey).ReportStatusDownload(ctx, downloaded); err != nil {
			log.Warnf("report download status failed: %v", err)
		}
	}
	return downloaded, nil
}

// ShouldUpdateBeIgnored reports whether remote was rolled back before and
// should not be installed again. A nil retry policy ignores every failed
// package; otherwise the package is retried once DelayInHours passed since
// its latest rollback and that rollback count is within MaxRetryAttempts.
func (c *Client) ShouldUpdateBeIgnored(remote *bundle.Package, ignoreFailedUpdates bool, retry *RollbackRetryOptions) (bool, error) {
	if remote == nil || !remote.FailedInstall || !ignoreFailedUpdates {
		return false, nil
	}
	if retry == nil {
		return true, nil
	}
	if err := retry.validate(); err != nil {
		log.Warnf("invalid rollback retry options: %v", err)
		return true, nil
	}

	info, err := c.settings.LatestRollbackInfo()
	if err != nil {
		return false, err
	}
	if info == nil || info.Time == 0 || info.Count == 0 || info.PackageHash != remote.PackageHash {
		log.Debug("the latest rollback info is not valid")
		return true, nil
	}

	sinceRollback := c.opts.Clock().Sub(time.UnixMilli(info.Time))
	if sinceRollback.Hours() >= retry.DelayInHours && retry.MaxRetryAttempts >= info.Count {
		log.Infof("retrying rolled back package %s", remote.PackageHash)
		return false, nil
	}
	return true, nil
}

// ReportStatus sends r to the server. A sent report is recorded; a report
// that could not be sent is saved and retried on the next resume or launch.
func (c *Client) ReportStatus(ctx context.Context, r *telemetry.StatusReport) error {
	if r == nil {
		return nil
	}
	acq, err := c.remote("report status")
	if err != nil {
		return err
	}

	previousKey := r.PreviousDeploymentKey
	if previousKey == "" {
		previousKey = acq.DeploymentKey()
	}

	if r.IsBinary() {
		log.Info("reporting binary update")
		err = acq.ReportStatusDeploy(ctx, nil, "", r.PreviousLabelOrAppVersion, previousKey)
	} else if r.Package != nil {
		if r.Status == telemetry.StatusSucceeded {
			log.Infof("reporting update success (%s)", r.Package.Label)
		} else {
			log.Infof("reporting update rollback (%s)", r.Package.Label)
			if err := c.settings.SetLatestRollbackInfo(r.Package.PackageHash); err != nil {
				return err
			}
		}
		err = acq.WithDeploymentKey(r.Package.DeploymentKey).
			ReportStatusDeploy(ctx, r.Package, string(r.Status), r.PreviousLabelOrAppVersion, previousKey)
	}

	if err != nil {
		log.Warnf("report status failed: %v", err)
		c.mu.Lock()
		c.unreported = r
		c.mu.Unlock()
		if serr := c.reports.SaveStatusReportForRetry(r); serr != nil {
			log.Errorf("failed to save status report for retry: %v", serr)
		}
		return err
	}

	c.mu.Lock()
	c.unreported = nil
	c.mu.Unlock()
	return c.reports.RecordStatusReported(r)
}

// NotifyApplicationReady confirms the running package and reports the
// status of this session. It runs once per Client; report failures are
// logged only.
func (c *Client) NotifyApplicationReady(ctx context.Context) error {
	c.readyOnce.Do(func() {
		if c.readyErr = c.ConfirmHealthy(); c.readyErr != nil {
			return
		}
		if c.acquisition == nil {
			return
		}
		r, err := c.GetLatestStatusReport()
		if err != nil {
			log.Warnf("failed to build status report: %v", err)
			return
		}
		_ = c.ReportStatus(ctx, r)
	})
	return c.readyErr
}

// OnResume forwards the host's return to the foreground and retries a
// status report that failed during this session.
func (c *Client) OnResume(ctx context.Context) error {
	if err := c.coordinator.OnResume(); err != nil {
		return err
	}
	c.mu.Lock()
	r := c.unreported
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	retry, err := c.reports.RetryStatusReport()
	if err != nil || retry == nil {
		return err
	}
	_ = c.ReportStatus(ctx, retry)
	return nil
}
