package pypi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/comfyaudit/pkg/cache"
	"github.com/matzehuels/comfyaudit/pkg/integrations"
)

func TestClient_FetchIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/numpy/json" {
			resp := apiResponse{
				Info: apiInfo{
					Name:    "numpy",
					Version: "2.1.0",
					Summary: "Fundamental package for array computing",
				},
				Releases: map[string][]apiFile{
					"1.24.0": {{RequiresPython: ">=3.8"}},
					"2.1.0":  {{RequiresPython: ">=3.10"}},
					"1.19.5": {{RequiresPython: ">=3.6"}},
					"1.26.0": {},
				},
			}
			json.NewEncoder(w).Encode(resp)
		} else {
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := testClient(server.URL)

	idx, err := c.FetchIndex(context.Background(), "numpy", true)
	if err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}

	if idx.Name != "numpy" {
		t.Errorf("Name = %s, want numpy", idx.Name)
	}
	if idx.Latest != "2.1.0" {
		t.Errorf("Latest = %s, want 2.1.0", idx.Latest)
	}

	// Releases must come back ascending regardless of map iteration order
	want := []string{"1.19.5", "1.24.0", "1.26.0", "2.1.0"}
	if len(idx.Releases) != len(want) {
		t.Fatalf("got %d releases, want %d", len(idx.Releases), len(want))
	}
	for i, w := range want {
		if idx.Releases[i].Version != w {
			t.Errorf("Releases[%d] = %s, want %s", i, idx.Releases[i].Version, w)
		}
	}

	if idx.Releases[1].RequiresPython != ">=3.8" {
		t.Errorf("RequiresPython = %s, want >=3.8", idx.Releases[1].RequiresPython)
	}
	// A release with no files carries no python constraint
	if idx.Releases[2].RequiresPython != "" {
		t.Errorf("fileless release RequiresPython = %s, want empty", idx.Releases[2].RequiresPython)
	}
}

func TestClient_FetchIndex_YankedDetection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := apiResponse{
			Info: apiInfo{Name: "pkg", Version: "1.1"},
			Releases: map[string][]apiFile{
				"1.0": {{Yanked: true}, {Yanked: true}},
				"1.1": {{Yanked: true}, {Yanked: false}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := testClient(server.URL)

	idx, err := c.FetchIndex(context.Background(), "pkg", true)
	if err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}

	if !idx.Releases[0].Yanked {
		t.Error("release with all files yanked should be yanked")
	}
	if idx.Releases[1].Yanked {
		t.Error("release with one live file should not be yanked")
	}
}

func TestClient_FetchIndex_NormalizesName(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		json.NewEncoder(w).Encode(apiResponse{Info: apiInfo{Name: "Pillow-SIMD"}})
	}))
	defer server.Close()

	c := testClient(server.URL)

	if _, err := c.FetchIndex(context.Background(), "Pillow_SIMD", true); err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}
	if requestedPath != "/pillow-simd/json" {
		t.Errorf("requested path = %s, want /pillow-simd/json", requestedPath)
	}
}

func TestClient_FetchIndex_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := testClient(server.URL)

	_, err := c.FetchIndex(context.Background(), "missing-pkg", true)
	if err == nil {
		t.Fatal("expected error for missing package")
	}
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_FetchIndex_UsesCache(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(apiResponse{
			Info:     apiInfo{Name: "requests", Version: "2.31.0"},
			Releases: map[string][]apiFile{"2.31.0": {}},
		})
	}))
	defer server.Close()

	backend, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	c := &Client{
		Client:  integrations.NewClient(backend, "pypi:", time.Hour, nil),
		baseURL: server.URL,
	}

	for i := 0; i < 3; i++ {
		if _, err := c.FetchIndex(context.Background(), "requests", false); err != nil {
			t.Fatalf("FetchIndex failed: %v", err)
		}
	}

	if calls != 1 {
		t.Errorf("API calls = %d, want 1 (cached after first fetch)", calls)
	}
}

func TestPackageIndex_Versions(t *testing.T) {
	idx := &PackageIndex{
		Releases: []Release{{Version: "1.0"}, {Version: "1.2"}, {Version: "2.0"}},
	}

	versions := idx.Versions()
	if len(versions) != 3 {
		t.Fatalf("got %d versions, want 3", len(versions))
	}
	if versions[2].String() != "2.0" {
		t.Errorf("Versions()[2] = %s, want 2.0", versions[2])
	}
}

func testClient(serverURL string) *Client {
	return &Client{
		Client:  integrations.NewClient(cache.NewNullCache(), "pypi:", time.Hour, nil),
		baseURL: serverURL,
	}
}
