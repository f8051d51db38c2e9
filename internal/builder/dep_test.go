package builder

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/qobs-build/qext/internal/platform"
)

func TestParseGitURL(t *testing.T) {
	tests := []struct {
		in   string
		want gitURL
	}{
		{"https://github.com/madler/zlib", gitURL{cleanURL: "https://github.com/madler/zlib.git"}},
		{"https://github.com/madler/zlib#v1.3.1", gitURL{cleanURL: "https://github.com/madler/zlib.git", commitOrTag: "v1.3.1"}},
		{"https://github.com/intel/isa-l.git@master#12345abc", gitURL{cleanURL: "https://github.com/intel/isa-l.git", branch: "master", commitOrTag: "12345abc"}},
	}
	for _, tt := range tests {
		if got := parseGitURL(tt.in); got != tt.want {
			t.Errorf("parseGitURL(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFetchDependencyRejects(t *testing.T) {
	dir := t.TempDir()
	if err := fetchDependency("", dir); !errors.Is(err, errIllegalDep) {
		t.Errorf("empty source: %v", err)
	}
	if err := fetchDependency("https://example.com/zlib.tar.gz", dir); !errors.Is(err, errArchive) {
		t.Errorf("archive source: %v", err)
	}
	if err := fetchDependency("zlib", dir); !errors.Is(err, errIllegalDep) {
		t.Errorf("bare name: %v", err)
	}
}

func TestFetchMissingSkipsPresentAndInactive(t *testing.T) {
	base := t.TempDir()
	writeTree(t, base, "external/zlib/zlib.h")

	deps := []Dependency{
		// present, so it is left alone even though the source is bogus
		{Name: "zlib", Dir: "external/zlib", Source: "bogus"},
		// disabled, never fetched
		{Name: "rpmalloc", Dir: "external/rpmalloc", Source: "bogus"},
		// system, never fetched
		{Name: "isal", Dir: "external/isa-l", Source: "bogus"},
		// nothing to fetch from
		{Name: "cxxopts", Dir: "external/cxxopts"},
	}
	cfg := (&Resolver{Deps: deps, Target: linuxX64, Vendor: platform.GNU}).Resolve(map[string]string{
		"rpmalloc": "disable",
		"isal":     "system",
	})
	if err := fetchMissing(base, deps, cfg); err != nil {
		t.Fatalf("fetchMissing() = %v", err)
	}
	if present(filepath.Join(base, "external/rpmalloc")) {
		t.Error("disabled dependency was fetched")
	}
}

func TestFetchMissingReportsBadSource(t *testing.T) {
	deps := []Dependency{{Name: "zlib", Dir: "external/zlib", Source: "bogus"}}
	cfg := (&Resolver{Deps: deps, Target: linuxX64}).Resolve(nil)
	if err := fetchMissing(t.TempDir(), deps, cfg); !errors.Is(err, errIllegalDep) {
		t.Errorf("fetchMissing() = %v, want errIllegalDep", err)
	}
}
