package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "ex-hermes/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

// importRule forbids importer packages under from from importing packages
// under to. Paths are relative to the module root; a trailing "/" matches
// a whole subtree.
type importRule struct {
	from   string
	to     string
	except []string
	reason string
}

var importRules = []importRule{
	{from: "pkg/", to: "internal/", reason: "pkg/* must not import internal/*"},
	{from: "modules/", to: "internal/", reason: "modules/* must not import internal/*"},
	{from: "internal/kernel", to: "internal/driver", reason: "internal/kernel must not import internal/driver/*"},
	{from: "pkg/hermes", to: "", reason: "pkg/hermes must not import other repository packages"},
	{
		from:   "pkg/ttrcache",
		to:     "",
		except: []string{"pkg/hermes"},
		reason: "pkg/ttrcache may import only pkg/hermes",
	},
	{
		from:   "pkg/linker",
		to:     "",
		except: []string{"pkg/hermes"},
		reason: "pkg/linker may import only pkg/hermes",
	},
	{from: "modules/mentions", to: "modules/", reason: "feature modules must not import each other"},
	{from: "modules/xkcd", to: "modules/", reason: "feature modules must not import each other"},
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		importer := basePackagePath(pkg.ImportPath)
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(importer, basePackagePath(imported))
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", importer, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

// basePackagePath drops the " [x.test]" suffix go list adds to test variants
// and the "_test" suffix of external test packages.
func basePackagePath(importPath string) string {
	if index := strings.Index(importPath, " ["); index >= 0 {
		importPath = importPath[:index]
	}

	return strings.TrimSuffix(importPath, "_test")
}

func violationReason(importer, imported string) string {
	importerRel, ok := strings.CutPrefix(importer, modulePrefix)
	if !ok {
		return ""
	}
	importedRel, ok := strings.CutPrefix(imported, modulePrefix)
	if !ok || withinPath(importedRel, importerRel) {
		return ""
	}

	for _, rule := range importRules {
		if !withinPath(importerRel, rule.from) || !withinPath(importedRel, rule.to) {
			continue
		}
		if withinAny(importedRel, rule.except) {
			continue
		}
		return rule.reason
	}

	return ""
}

func withinPath(path, prefix string) bool {
	switch {
	case prefix == "":
		return true
	case strings.HasSuffix(prefix, "/"):
		return strings.HasPrefix(path, prefix)
	default:
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
}

func withinAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if withinPath(path, prefix) {
			return true
		}
	}

	return false
}
