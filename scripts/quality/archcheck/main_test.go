package main

import (
	"slices"
	"testing"
)

func TestViolationReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		importer string
		imported string
		want     string
	}{
		{name: "protocol from module", importer: "ex-hermes/modules/xkcd", imported: "ex-hermes/pkg/hermes"},
		{name: "pipeline from module", importer: "ex-hermes/modules/mentions", imported: "ex-hermes/pkg/reaction"},
		{name: "standard library", importer: "ex-hermes/pkg/linker", imported: "sync"},
		{name: "third party", importer: "ex-hermes/pkg/ttrcache", imported: "golang.org/x/sync/singleflight"},
		{name: "driver from command", importer: "ex-hermes/cmd/bot", imported: "ex-hermes/internal/driver"},
		{name: "own subpackage", importer: "ex-hermes/internal/driver", imported: "ex-hermes/internal/driver/telegram"},
		{name: "cache imports protocol", importer: "ex-hermes/pkg/ttrcache", imported: "ex-hermes/pkg/hermes"},
		{
			name:     "module imports kernel",
			importer: "ex-hermes/modules/mentions",
			imported: "ex-hermes/internal/kernel",
			want:     "modules/* must not import internal/*",
		},
		{
			name:     "pipeline imports driver",
			importer: "ex-hermes/pkg/reaction",
			imported: "ex-hermes/internal/driver/telegram",
			want:     "pkg/* must not import internal/*",
		},
		{
			name:     "kernel imports driver",
			importer: "ex-hermes/internal/kernel",
			imported: "ex-hermes/internal/driver",
			want:     "internal/kernel must not import internal/driver/*",
		},
		{
			name:     "linker imports cache",
			importer: "ex-hermes/pkg/linker",
			imported: "ex-hermes/pkg/ttrcache",
			want:     "pkg/linker may import only pkg/hermes",
		},
		{
			name:     "protocol imports pipeline",
			importer: "ex-hermes/pkg/hermes",
			imported: "ex-hermes/pkg/reaction",
			want:     "pkg/hermes must not import other repository packages",
		},
		{
			name:     "feature imports feature",
			importer: "ex-hermes/modules/xkcd",
			imported: "ex-hermes/modules/mentions",
			want:     "feature modules must not import each other",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := violationReason(testCase.importer, testCase.imported); got != testCase.want {
				t.Fatalf("violationReason() = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestCollectViolationsNormalizesTestVariants(t *testing.T) {
	t.Parallel()

	packages := []listedPackage{
		{
			ImportPath:  "ex-hermes/pkg/linker [ex-hermes/pkg/linker.test]",
			Imports:     []string{"ex-hermes/pkg/hermes"},
			TestImports: []string{"ex-hermes/internal/kernel"},
		},
		{
			ImportPath:   "ex-hermes/modules/xkcd_test [ex-hermes/modules/xkcd.test]",
			XTestImports: []string{"ex-hermes/modules/xkcd", "ex-hermes/pkg/hermes"},
		},
	}

	want := []string{
		"ex-hermes/pkg/linker -> ex-hermes/internal/kernel (pkg/* must not import internal/*)",
	}
	if got := collectViolations(packages); !slices.Equal(got, want) {
		t.Fatalf("violations = %v, want %v", got, want)
	}
}
