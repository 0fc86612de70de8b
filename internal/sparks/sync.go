package sparks

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/repo"
)

// SyncStatus is reported while Sync progresses and returned when it ends.
type SyncStatus int

const (
	SyncUpToDate SyncStatus = iota
	SyncUpdateInstalled
	SyncUpdateIgnored
	SyncUnknownError
	SyncInProgress
	SyncCheckingForUpdate
	SyncAwaitingUserAction
	SyncDownloadingPackage
	SyncInstallingUpdate
)

func (s SyncStatus) String() string {
	switch s {
	case SyncUpToDate:
		return "up-to-date"
	case SyncUpdateInstalled:
		return "update-installed"
	case SyncUpdateIgnored:
		return "update-ignored"
	case SyncUnknownError:
		return "unknown-error"
	case SyncInProgress:
		return "sync-in-progress"
	case SyncCheckingForUpdate:
		return "checking-for-update"
	case SyncAwaitingUserAction:
		return "awaiting-user-action"
	case SyncDownloadingPackage:
		return "downloading-package"
	case SyncInstallingUpdate:
		return "installing-update"
	default:
		return "unknown"
	}
}

// SyncOptions control a Sync run. Start from DefaultSyncOptions.
type SyncOptions struct {
	// DeploymentKey overrides the configured deployment key.
	DeploymentKey string
	InstallMode   bundle.InstallMode
	// MandatoryInstallMode applies to packages the server marks mandatory.
	MandatoryInstallMode      bundle.InstallMode
	MinimumBackgroundDuration time.Duration
	IgnoreFailedUpdates       bool
	// RollbackRetry lets rolled back packages be retried. Nil never retries.
	RollbackRetry *RollbackRetryOptions
	// Confirm is asked before an update is downloaded. Declining an optional
	// update ignores it; mandatory updates are installed regardless.
	Confirm  func(pkg *bundle.Package) bool
	Progress repo.ProgressFunc
}

func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		InstallMode:          bundle.InstallOnNextRestart,
		MandatoryInstallMode: bundle.InstallImmediate,
		IgnoreFailedUpdates:  true,
	}
}

// Sync confirms the running package, checks for an update and downloads and
// installs it. observer, when set, sees every status change. Only one Sync
// runs at a time; a concurrent call returns SyncInProgress.
func (c *Client) Sync(ctx context.Context, opts SyncOptions, observer func(SyncStatus)) (SyncStatus, error) {
	notify := func(s SyncStatus) SyncStatus {
		if observer != nil {
			observer(s)
		}
		return s
	}

	if !c.syncing.CompareAndSwap(false, true) {
		log.Info("sync already in progress")
		return notify(SyncInProgress), nil
	}
	defer c.syncing.Store(false)

	status, err := c.sync(ctx, opts, notify)
	if err != nil {
		log.Errorf("sync failed: %v", err)
		return notify(SyncUnknownError), err
	}
	return status, nil
}

func (c *Client) sync(ctx context.Context, opts SyncOptions, notify func(SyncStatus) SyncStatus) (SyncStatus, error) {
	if err := c.NotifyApplicationReady(ctx); err != nil {
		return 0, err
	}

	notify(SyncCheckingForUpdate)
	remote, err := c.CheckForUpdate(ctx, opts.DeploymentKey)
	if err != nil {
		return 0, err
	}

	ignored, err := c.ShouldUpdateBeIgnored(remote, opts.IgnoreFailedUpdates, opts.RollbackRetry)
	if err != nil {
		return 0, err
	}
	if remote == nil || ignored {
		if ignored {
			log.Info("an update is available, but it is ignored because it was rolled back before")
		}
		current, err := c.GetPendingOrRunningMetadata(bundle.StateLatest)
		if err != nil {
			return 0, err
		}
		if current != nil && current.IsPending {
			return notify(SyncUpdateInstalled), nil
		}
		return notify(SyncUpToDate), nil
	}

	if opts.Confirm != nil {
		notify(SyncAwaitingUserAction)
		if !opts.Confirm(remote.Clone()) && !remote.IsMandatory {
			log.Info("user declined the update")
			return notify(SyncUpdateIgnored), nil
		}
	}

	notify(SyncDownloadingPackage)
	pkg, err := c.Download(ctx, remote, opts.Progress)
	if err != nil {
		return 0, err
	}

	mode := opts.InstallMode
	if remote.IsMandatory {
		mode = opts.MandatoryInstallMode
	}
	notify(SyncInstallingUpdate)
	if err := c.Install(pkg, mode, opts.MinimumBackgroundDuration); err != nil {
		return 0, err
	}
	return notify(SyncUpdateInstalled), nil
}
