package main

import (
	"strings"

	"github.com/spf13/cobra"
)

type configView struct {
	Home           string   `json:"home" yaml:"home"`
	ServerURL      string   `json:"serverUrl" yaml:"serverUrl"`
	DeploymentKey  string   `json:"deploymentKey" yaml:"deploymentKey"`
	AppVersion     string   `json:"appVersion" yaml:"appVersion"`
	ClientUniqueID string   `json:"clientUniqueId" yaml:"clientUniqueId"`
	PackageHash    string   `json:"packageHash,omitempty" yaml:"packageHash,omitempty"`
	BundleName     string   `json:"bundleName" yaml:"bundleName"`
	StoreBackend   string   `json:"storeBackend" yaml:"storeBackend"`
	HostCommand    []string `json:"hostCommand,omitempty" yaml:"hostCommand,omitempty"`
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.client.GetConfiguration()
			if err != nil {
				return err
			}
			v := configView{
				Home:           s.cfg.HomeDir,
				ServerURL:      c.ServerURL,
				DeploymentKey:  c.DeploymentKey,
				AppVersion:     c.AppVersion,
				ClientUniqueID: c.ClientUniqueID,
				PackageHash:    c.PackageHash,
				BundleName:     s.cfg.BundleName,
				StoreBackend:   s.cfg.StoreBackend,
				HostCommand:    s.cfg.HostCommand,
			}
			p := printer()
			return p.Emit(v, func() {
				p.KeyValueLine("Home", v.Home, "")
				p.KeyValueLine("Server", v.ServerURL, "blue")
				p.KeyValueLine("Deployment key", v.DeploymentKey, "")
				p.KeyValueLine("App version", v.AppVersion, "")
				p.KeyValueLine("Client id", v.ClientUniqueID, "dim")
				p.KeyValueLine("Binary package", v.PackageHash, "dim")
				p.KeyValueLine("Bundle", v.BundleName, "")
				p.KeyValueLine("Store", v.StoreBackend, "")
				p.KeyValueLine("Host command", strings.Join(v.HostCommand, " "), "")
			})
		},
	})
}
