// Package integrations provides HTTP clients for package index APIs.
//
// # Overview
//
// This package contains low-level API clients for fetching package metadata.
// The only index comfyaudit talks to today is PyPI, in its own subpackage:
//
//   - [pypi]: Python Package Index (release listings and metadata)
//
// # Client Pattern
//
//	client := pypi.NewClient(backend, 12 * time.Hour)       // cache backend + TTL
//	idx, err := client.FetchIndex(ctx, "numpy", false)      // false = use cache
//
// Clients handle:
//   - HTTP requests with retry
//   - Response caching (pluggable backend, configurable TTL)
//   - API-specific parsing and normalization
//
// # Shared Infrastructure
//
// The [Client] type provides shared HTTP functionality, including response
// caching via [cache.Cache].
//
// [pypi]: github.com/matzehuels/comfyaudit/pkg/integrations/pypi
// [cache.Cache]: github.com/matzehuels/comfyaudit/pkg/cache.Cache
package integrations
