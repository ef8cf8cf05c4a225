package pypi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/matzehuels/comfyaudit/pkg/cache"
	"github.com/matzehuels/comfyaudit/pkg/integrations"
	"github.com/matzehuels/comfyaudit/pkg/pep440"
)

// Release is one published version of a package.
//
// RequiresPython is the interpreter constraint declared by the release's
// distribution files ("">=3.8", may be empty). Yanked is true only when
// every file of the release has been yanked.
type Release struct {
	Version        string `json:"version"`
	RequiresPython string `json:"requires_python,omitempty"`
	Yanked         bool   `json:"yanked,omitempty"`
}

// PackageIndex holds what the resolver needs to know about a package:
// its display name as published, a short summary, and every release the
// index knows about, ascending by version order.
type PackageIndex struct {
	Name     string    `json:"name"`
	Summary  string    `json:"summary,omitempty"`
	Latest   string    `json:"latest,omitempty"`
	Releases []Release `json:"releases"`
}

// Versions returns the release versions parsed and in ascending order.
func (p *PackageIndex) Versions() []pep440.Version {
	versions := make([]pep440.Version, len(p.Releases))
	for i, r := range p.Releases {
		versions[i] = pep440.Parse(r.Version)
	}
	return versions
}

// Client provides access to the PyPI package index API.
// It handles HTTP requests with caching and automatic retries.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a PyPI client over the given cache backend.
//
// Parameters:
//   - backend: cache backend for HTTP response caching (nil disables caching)
//   - cacheTTL: how long responses stay fresh (typical: cache.TTLPackageIndex)
//
// The returned Client is safe for concurrent use.
func NewClient(backend cache.Cache, cacheTTL time.Duration) *Client {
	return &Client{
		Client:  integrations.NewClient(backend, "pypi:", cacheTTL, nil),
		baseURL: "https://pypi.org/pypi",
	}
}

// FetchIndex retrieves the release listing for a package from PyPI.
//
// The pkg parameter is normalized automatically (PEP 503). If refresh is
// true, the cache is bypassed and a fresh API call is made.
//
// Returns:
//   - PackageIndex with releases sorted ascending on success
//   - [integrations.ErrNotFound] if the package doesn't exist
//   - [integrations.ErrNetwork] for HTTP failures (timeout, 5xx, etc.)
//
// The returned pointer is never nil if err is nil.
func (c *Client) FetchIndex(ctx context.Context, pkg string, refresh bool) (*PackageIndex, error) {
	pkg = integrations.NormalizePkgName(pkg)

	var index PackageIndex
	err := c.Cached(ctx, pkg, refresh, &index, func() error {
		return c.fetch(ctx, pkg, &index)
	})
	if err != nil {
		return nil, err
	}
	return &index, nil
}

func (c *Client) fetch(ctx context.Context, pkg string, index *PackageIndex) error {
	var data apiResponse
	if err := c.Get(ctx, fmt.Sprintf("%s/%s/json", c.baseURL, pkg), &data); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return fmt.Errorf("%w: pypi package %s", err, pkg)
		}
		return err
	}

	releases := make([]Release, 0, len(data.Releases))
	for version, files := range data.Releases {
		rel := Release{Version: version}
		if len(files) > 0 {
			yanked := true
			for _, f := range files {
				if rel.RequiresPython == "" && f.RequiresPython != "" {
					rel.RequiresPython = f.RequiresPython
				}
				if !f.Yanked {
					yanked = false
				}
			}
			rel.Yanked = yanked
		}
		releases = append(releases, rel)
	}

	sort.Slice(releases, func(i, j int) bool {
		a, b := pep440.Parse(releases[i].Version), pep440.Parse(releases[j].Version)
		if cmp := a.Compare(b); cmp != 0 {
			return cmp < 0
		}
		return releases[i].Version < releases[j].Version
	})

	*index = PackageIndex{
		Name:     data.Info.Name,
		Summary:  data.Info.Summary,
		Latest:   data.Info.Version,
		Releases: releases,
	}
	return nil
}

type apiResponse struct {
	Info     apiInfo              `json:"info"`
	Releases map[string][]apiFile `json:"releases"`
}

type apiInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Summary string `json:"summary"`
}

type apiFile struct {
	RequiresPython string `json:"requires_python"`
	Yanked         bool   `json:"yanked"`
}
