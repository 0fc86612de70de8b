package update

import (
	"fmt"
	"time"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

// UpdateInfo is the update check response body.
type UpdateInfo struct {
	DownloadURL            string `json:"downloadURL"`
	Description            string `json:"description"`
	IsAvailable            bool   `json:"isAvailable"`
	IsMandatory            bool   `json:"isMandatory"`
	AppVersion             string `json:"appVersion"`
	PackageHash            string `json:"packageHash"`
	Label                  string `json:"label"`
	PackageSize            int64  `json:"packageSize"`
	UpdateAppVersion       bool   `json:"updateAppVersion"`
	ShouldRunBinaryVersion bool   `json:"shouldRunBinaryVersion"`
}

type updateCheckResponse struct {
	UpdateInfo *UpdateInfo `json:"updateInfo"`
}

// Query identifies the package the client is running.
type Query struct {
	AppVersion  string
	PackageHash string
	Label       string
	IsCompanion bool
}

// CheckResult holds the result of an update check
type CheckResult struct {
	// Package is the available update, nil when none applies.
	Package *bundle.Package
	// UpdateAppVersion is set when the release targets another binary version.
	UpdateAppVersion bool
	TargetAppVersion string
	CheckedAt        time.Time
}

// DeployStatus is the body of a deploy status report.
type DeployStatus struct {
	AppVersion                string `json:"appVersion"`
	DeploymentKey             string `json:"deploymentKey"`
	ClientUniqueID            string `json:"clientUniqueId,omitempty"`
	Label                     string `json:"label,omitempty"`
	Status                    string `json:"status,omitempty"`
	PreviousLabelOrAppVersion string `json:"previousLabelOrAppVersion,omitempty"`
	PreviousDeploymentKey     string `json:"previousDeploymentKey,omitempty"`
}

type downloadStatus struct {
	ClientUniqueID string `json:"clientUniqueId"`
	DeploymentKey  string `json:"deploymentKey"`
	Label          string `json:"label"`
}

// HTTPError is returned for any response other than 200 OK.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server error for %s: %s", e.URL, e.Status)
}
