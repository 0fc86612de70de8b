// Package telemetry builds deployment status reports and remembers which
// deployment was reported last. Transmission is left to the caller.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/kv"
)

const (
	keyLastDeploymentReport  = "SPARKS_LAST_DEPLOYMENT_REPORT"
	keyRetryDeploymentReport = "SPARKS_RETRY_DEPLOYMENT_REPORT"
)

type Status string

const (
	StatusSucceeded Status = "DeploymentSucceeded"
	StatusFailed    Status = "DeploymentFailed"
)

// StatusReport describes either a binary version (AppVersion set) or a
// package deployment (Package set).
type StatusReport struct {
	AppVersion                string          `json:"appVersion,omitempty"`
	Package                   *bundle.Package `json:"package,omitempty"`
	Status                    Status          `json:"status,omitempty"`
	PreviousDeploymentKey     string          `json:"previousDeploymentKey,omitempty"`
	PreviousLabelOrAppVersion string          `json:"previousLabelOrAppVersion,omitempty"`
}

// IsBinary reports whether r describes the binary bundled version.
func (r *StatusReport) IsBinary() bool { return r.AppVersion != "" }

// Manager persists the last reported deployment identifier and a report
// waiting to be retried. The identifier is either an app version or
// "deploymentKey:label".
type Manager struct {
	store kv.Store
}

func NewManager(store kv.Store) *Manager {
	return &Manager{store: store}
}

// BinaryUpdateReport returns a report for appVersion unless that version
// was the last one reported.
func (m *Manager) BinaryUpdateReport(appVersion string) (*StatusReport, error) {
	previous, err := m.previousIdentifier()
	if err != nil {
		return nil, err
	}
	if previous == appVersion {
		return nil, nil
	}
	if err := m.clearRetryStatusReport(); err != nil {
		return nil, err
	}
	report := &StatusReport{AppVersion: appVersion}
	setPrevious(report, previous)
	return report, nil
}

// UpdateReport returns a success report for pkg unless it was the last
// deployment reported. Packages without a deployment key or label cannot be
// identified and produce no report.
func (m *Manager) UpdateReport(pkg *bundle.Package) (*StatusReport, error) {
	current := packageIdentifier(pkg)
	if current == "" {
		return nil, nil
	}
	previous, err := m.previousIdentifier()
	if err != nil {
		return nil, err
	}
	if previous == current {
		return nil, nil
	}
	if err := m.clearRetryStatusReport(); err != nil {
		return nil, err
	}
	report := &StatusReport{Package: pkg.Clone(), Status: StatusSucceeded}
	setPrevious(report, previous)
	return report, nil
}

func (m *Manager) RollbackReport(failed *bundle.Package) *StatusReport {
	return &StatusReport{Package: failed.Clone(), Status: StatusFailed}
}

// RetryStatusReport returns the report saved for retry and forgets it.
func (m *Manager) RetryStatusReport() (*StatusReport, error) {
	raw, ok, err := m.store.Get(keyRetryDeploymentReport)
	if err != nil {
		return nil, fmt.Errorf("read retry report: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if err := m.clearRetryStatusReport(); err != nil {
		return nil, err
	}
	var report StatusReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		log.Warnf("unable to parse the status report saved for retry, discarding it: %v", err)
		return nil, nil
	}
	return &report, nil
}

// RecordStatusReported remembers the deployment r describes. Rollback
// reports are not recorded.
func (m *Manager) RecordStatusReported(r *StatusReport) error {
	if r == nil || r.Status == StatusFailed {
		return nil
	}
	var id string
	switch {
	case r.AppVersion != "":
		id = r.AppVersion
	case r.Package != nil:
		id = packageIdentifier(r.Package)
	}
	if id == "" {
		return nil
	}
	if err := m.store.Set(keyLastDeploymentReport, id); err != nil {
		return fmt.Errorf("record status report: %w", err)
	}
	return nil
}

func (m *Manager) SaveStatusReportForRetry(r *StatusReport) error {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode status report: %w", err)
	}
	if err := m.store.Set(keyRetryDeploymentReport, string(b)); err != nil {
		return fmt.Errorf("save status report for retry: %w", err)
	}
	return nil
}

func (m *Manager) previousIdentifier() (string, error) {
	id, _, err := m.store.Get(keyLastDeploymentReport)
	if err != nil {
		return "", fmt.Errorf("read last status report: %w", err)
	}
	return id, nil
}

func (m *Manager) clearRetryStatusReport() error {
	if err := m.store.Remove(keyRetryDeploymentReport); err != nil {
		return fmt.Errorf("clear retry report: %w", err)
	}
	return nil
}

func setPrevious(r *StatusReport, previous string) {
	if previous == "" {
		return
	}
	if key, label, ok := strings.Cut(previous, ":"); ok {
		r.PreviousDeploymentKey = key
		r.PreviousLabelOrAppVersion = label
		return
	}
	r.PreviousLabelOrAppVersion = previous
}

func packageIdentifier(pkg *bundle.Package) string {
	if pkg == nil || pkg.DeploymentKey == "" || pkg.Label == "" {
		return ""
	}
	return pkg.DeploymentKey + ":" + pkg.Label
}
