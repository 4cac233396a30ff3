package main

import "testing"

func TestCheckFlagsUpwardImports(t *testing.T) {
	pkg := packageInfo{
		ImportPath: "arena-shooter/server/internal/game",
		Imports: []string{
			"arena-shooter/server/internal/physics",
			"arena-shooter/server/internal/net/ws",
			"github.com/jakecoffman/cp",
		},
	}
	got := check(pkg)
	if len(got) != 1 || got[0] != "arena-shooter/server/internal/game -> arena-shooter/server/internal/net/ws" {
		t.Fatalf("unexpected violations %v", got)
	}
}

func TestCheckAllowsDownwardImports(t *testing.T) {
	pkg := packageInfo{
		ImportPath: "arena-shooter/server/internal/net/ws",
		Imports: []string{
			"arena-shooter/server/internal/instance",
			"arena-shooter/server/internal/game",
			"arena-shooter/server/internal/sim",
		},
	}
	if got := check(pkg); len(got) != 0 {
		t.Fatalf("expected no violations, got %v", got)
	}
}

func TestWithinMatchesWholeSegments(t *testing.T) {
	if within("arena-shooter/server/internal/networking", "internal/net") {
		t.Fatalf("expected prefix match to respect path segments")
	}
	if !within("arena-shooter/server/internal/net/proto", "internal/net") {
		t.Fatalf("expected nested package to match")
	}
}
