package telemetry

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

// State is the per-session lifecycle state a report is chosen from.
type State interface {
	NeedToReportRollback() bool
	SetNeedToReportRollback(bool)
	DidUpdate() bool
	IsRunningBinaryVersion() bool
	AppVersion() string
	// ClearUpdates recovers from a corrupt package index.
	ClearUpdates() error
}

type FailedUpdates interface {
	FailedUpdates() ([]bundle.Package, error)
}

type CurrentPackage interface {
	CurrentPackage() (*bundle.Package, error)
}

// Selector picks the status report to send after the application confirmed
// it is healthy.
type Selector struct {
	state   State
	failed  FailedUpdates
	current CurrentPackage
	reports *Manager
}

func NewSelector(state State, failed FailedUpdates, current CurrentPackage, reports *Manager) *Selector {
	return &Selector{state: state, failed: failed, current: current, reports: reports}
}

// NewStatusReport returns, in priority order, a rollback report for the
// latest failed package, an update report for a package running for the
// first time, a binary version report, or the report saved for retry. It
// returns nil when there is nothing to report.
func (s *Selector) NewStatusReport() (*StatusReport, error) {
	switch {
	case s.state.NeedToReportRollback():
		s.state.SetNeedToReportRollback(false)
		failed, err := s.failed.FailedUpdates()
		if err != nil {
			return nil, err
		}
		if len(failed) == 0 {
			return nil, nil
		}
		return s.reports.RollbackReport(&failed[len(failed)-1]), nil

	case s.state.DidUpdate():
		pkg, err := s.current.CurrentPackage()
		if errors.Is(err, bundle.ErrMalformedData) {
			log.Warnf("package index is corrupt, clearing updates: %v", err)
			if err := s.state.ClearUpdates(); err != nil {
				log.Errorf("failed to clear updates: %v", err)
			}
			return nil, nil
		}
		if err != nil || pkg == nil {
			return nil, err
		}
		return s.reports.UpdateReport(pkg)

	case s.state.IsRunningBinaryVersion():
		return s.reports.BinaryUpdateReport(s.state.AppVersion())

	default:
		return s.reports.RetryStatusReport()
	}
}
