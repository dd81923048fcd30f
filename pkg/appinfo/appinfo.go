// Package appinfo resolves the application metadata reported to the web
// front-end: a package manifest when installed, build and git metadata
// otherwise.
package appinfo

import (
	"context"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/BurntSushi/toml"

	gitvcs "github.com/rexliu/webshell/pkg/vcs/git"
)

// ManifestName is the package manifest looked up beside the executable.
const ManifestName = "package.toml"

const (
	defaultName    = "webshell"
	defaultVersion = "0.0.0"
)

// Info is the app.getInfo result.
type Info struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Packaged bool   `json:"packaged"`
}

// Manifest is written by the installer next to the executable.
type Manifest struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Resolver computes Info. Zero fields fall back to defaults.
type Resolver struct {
	// ManifestPath overrides the manifest location.
	ManifestPath string
	// Name and Version come from the profile config.
	Name    string
	Version string
	// WorkDir is inspected for git metadata in development builds.
	WorkDir string

	buildInfo func() (*debug.BuildInfo, bool)
}

// Resolve never fails; missing sources degrade to the next fallback.
func (r Resolver) Resolve(ctx context.Context) Info {
	if m, ok := r.manifest(); ok {
		info := Info{Name: m.Name, Version: m.Version, Packaged: true}
		if info.Name == "" {
			info.Name = r.name()
		}
		return info
	}
	return Info{Name: r.name(), Version: r.version(ctx), Packaged: false}
}

func (r Resolver) manifest() (Manifest, bool) {
	path := r.ManifestPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return Manifest{}, false
		}
		path = filepath.Join(filepath.Dir(exe), ManifestName)
	}
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, false
	}
	if strings.TrimSpace(m.Version) == "" {
		return Manifest{}, false
	}
	return m, true
}

func (r Resolver) name() string {
	if r.Name != "" {
		return r.Name
	}
	if bi, ok := r.readBuildInfo(); ok && bi.Path != "" {
		return filepath.Base(bi.Path)
	}
	return defaultName
}

func (r Resolver) version(ctx context.Context) string {
	if r.Version != "" {
		return r.Version
	}
	if bi, ok := r.readBuildInfo(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	if r.WorkDir != "" {
		if st, err := gitvcs.Describe(ctx, r.WorkDir); err == nil {
			v := defaultVersion + "-dev+" + st.Short()
			if st.Dirty {
				v += ".dirty"
			}
			return v
		}
	}
	return defaultVersion
}

func (r Resolver) readBuildInfo() (*debug.BuildInfo, bool) {
	if r.buildInfo != nil {
		return r.buildInfo()
	}
	return debug.ReadBuildInfo()
}
