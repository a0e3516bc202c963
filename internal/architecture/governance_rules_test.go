package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "duckgate"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func internalPkgs(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, modulePath+"/internal/"+n)
	}
	return out
}

var outerLayers = []string{modulePath + "/cmd", modulePath + "/pkg/cli"}

var architectureRules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: append(internalPkgs("api", "app", "clock", "config", "engine", "history", "middleware",
			"session", "statement", "storage", "sweeper", "translate", "testutil"), outerLayers...),
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/session",
		forbidden:    append(internalPkgs("api", "app", "engine", "history", "middleware", "statement", "storage", "sweeper"), outerLayers...),
		hint:         "session depends on domain ports, never on concrete engines or callers",
	},
	{
		sourcePrefix: modulePath + "/internal/statement",
		forbidden:    append(internalPkgs("api", "app", "engine", "history", "middleware", "storage", "sweeper", "translate"), outerLayers...),
		hint:         "statement depends on session and domain ports",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden:    append(internalPkgs("app", "engine", "history", "storage", "sweeper", "translate"), outerLayers...),
		hint:         "api should depend on session/statement/domain/middleware",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden:    append(internalPkgs("api", "app", "history", "middleware", "session", "statement", "sweeper"), outerLayers...),
		hint:         "engine should depend on domain and storage",
	},
	{
		sourcePrefix: modulePath + "/internal/history",
		forbidden:    append(internalPkgs("api", "app", "engine", "middleware", "session", "statement", "storage", "sweeper"), outerLayers...),
		hint:         "history should depend on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/translate",
		forbidden:    append(internalPkgs("api", "app", "engine", "history", "middleware", "session", "statement", "storage"), outerLayers...),
		hint:         "translate should depend on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/sweeper",
		forbidden:    append(internalPkgs("api", "app", "engine", "history", "session", "statement"), outerLayers...),
		hint:         "sweeper reaches its targets through interfaces",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden:    internalPkgs("api", "app", "engine", "history", "session", "statement"),
		hint:         "middleware should depend on domain and middleware-local packages",
	},
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	return files, err
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func internalRootDir() string {
	return filepath.Join(repoRootDir(), "internal")
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

func packageImportPath(file string) string {
	return modulePath + "/" + relToRepoRoot(filepath.Dir(file))
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
