package bundle

// Package describes a downloaded bundle version. It is persisted as the
// package metadata file inside the package folder and in the failed
// updates record.
type Package struct {
	PackageHash        string `json:"packageHash"`
	AppVersion         string `json:"appVersion,omitempty"`
	Label              string `json:"label,omitempty"`
	DeploymentKey      string `json:"deploymentKey,omitempty"`
	Description        string `json:"description,omitempty"`
	IsMandatory        bool   `json:"isMandatory,omitempty"`
	PackageSize        int64  `json:"packageSize,omitempty"`
	DownloadURL        string `json:"downloadUrl,omitempty"`
	BinaryModifiedTime string `json:"binaryModifiedTime,omitempty"`
	BundlePath         string `json:"bundlePath,omitempty"` // entry bundle, relative to the package folder

	// Set on remote packages only.
	FailedInstall bool `json:"failedInstall,omitempty"`

	// Derived when the package is handed to the host, never stored.
	IsPending   bool `json:"isPending,omitempty"`
	IsDebugOnly bool `json:"_isDebugOnly,omitempty"`
}

// Clone returns a copy that can be mutated without touching the receiver.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// PendingUpdate marks an installed package that has not been confirmed yet.
// IsLoading flips to true once a session starts running the package.
type PendingUpdate struct {
	Hash      string `json:"hash"`
	IsLoading bool   `json:"isLoading"`
}

// RollbackInfo counts consecutive rollbacks of the same package hash.
type RollbackInfo struct {
	PackageHash string `json:"packageHash"`
	Time        int64  `json:"time"` // unix millis
	Count       int    `json:"count"`
}

// InstallMode controls when an installed package takes visible effect.
type InstallMode int

const (
	InstallImmediate     InstallMode = 0
	InstallOnNextRestart InstallMode = 1
	InstallOnNextResume  InstallMode = 2
	InstallOnNextSuspend InstallMode = 3
)

func (m InstallMode) String() string {
	switch m {
	case InstallImmediate:
		return "immediate"
	case InstallOnNextRestart:
		return "on-next-restart"
	case InstallOnNextResume:
		return "on-next-resume"
	case InstallOnNextSuspend:
		return "on-next-suspend"
	default:
		return "unknown"
	}
}

// ParseInstallMode accepts the names returned by String.
func ParseInstallMode(s string) (InstallMode, bool) {
	for _, m := range []InstallMode{InstallImmediate, InstallOnNextRestart, InstallOnNextResume, InstallOnNextSuspend} {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// UpdateState selects which package a metadata query refers to.
type UpdateState int

const (
	StateRunning UpdateState = 0
	StatePending UpdateState = 1
	StateLatest  UpdateState = 2
)

func (s UpdateState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePending:
		return "pending"
	case StateLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// ParseUpdateState accepts the names returned by String.
func ParseUpdateState(s string) (UpdateState, bool) {
	for _, st := range []UpdateState{StateRunning, StatePending, StateLatest} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}
