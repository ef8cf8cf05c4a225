// Package pypi provides an HTTP client for the Python Package Index API.
//
// # Overview
//
// This package fetches release listings from PyPI (https://pypi.org), the
// official repository for Python packages. The audit pipeline uses them to
// compute the highest version satisfying all aggregated constraints.
//
// # Usage
//
//	client := pypi.NewClient(backend, cache.TTLPackageIndex)
//
//	idx, err := client.FetchIndex(ctx, "numpy", false)  // false = use cache
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println(idx.Name, idx.Latest)
//	for _, rel := range idx.Releases {
//	    fmt.Println(rel.Version, rel.RequiresPython)
//	}
//
// # PackageIndex
//
// [Client.FetchIndex] returns a [PackageIndex] containing:
//
//   - Name: display name as published (e.g. "Pillow" for "pillow")
//   - Summary: short package description
//   - Latest: the version PyPI considers current
//   - Releases: every release, ascending by version, with its
//     requires_python constraint and yanked flag
//
// # Caching
//
// Responses are cached to reduce load on PyPI and speed up repeated runs.
// The cache TTL is set when creating the client. Pass refresh=true to
// [Client.FetchIndex] to bypass the cache.
//
// Package names are normalized following PEP 503 before every request.
package pypi
