package discovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// inspection is the raw result of walking a cloned worktree.
type inspection struct {
	Languages     []string
	Frameworks    []string
	Dependencies  []string
	DirectoryTree string
}

// languageByExtension maps source file extensions to language names.
var languageByExtension = map[string]string{
	".go":    "Go",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".py":    "Python",
	".rs":    "Rust",
	".java":  "Java",
	".kt":    "Kotlin",
	".rb":    "Ruby",
	".php":   "PHP",
	".cs":    "C#",
	".swift": "Swift",
	".c":     "C",
	".cpp":   "C++",
	".scala": "Scala",
	".sh":    "Shell",
}

// manifestParsers maps manifest file names to their dependency parser.
// Parsers are best-effort: a malformed manifest yields no dependencies
// rather than failing discovery.
var manifestParsers = map[string]func(path string) []string{
	"go.mod":           parseGoMod,
	"package.json":     parsePackageJSON,
	"requirements.txt": parseRequirements,
	"Cargo.toml":       parseCargoToml,
	"pyproject.toml":   parsePyprojectToml,
}

// frameworkByDependency maps well-known dependency names to framework
// labels reported in the shared context.
var frameworkByDependency = map[string]string{
	"github.com/labstack/echo/v4":  "Echo",
	"github.com/gin-gonic/gin":     "Gin",
	"github.com/go-chi/chi/v5":     "Chi",
	"github.com/spf13/cobra":       "Cobra",
	"react":                        "React",
	"vue":                          "Vue",
	"@angular/core":                "Angular",
	"next":                         "Next.js",
	"express":                      "Express",
	"django":                       "Django",
	"flask":                        "Flask",
	"fastapi":                      "FastAPI",
	"actix-web":                    "Actix",
	"rocket":                       "Rocket",
	"spring-boot-starter":          "Spring Boot",
	"rails":                        "Rails",
}

// inspect walks a cloned worktree and detects languages, frameworks,
// and dependencies, and serializes a bounded directory tree.
func inspect(root string, maxTreeEntries int) (*inspection, error) {
	languages := make(map[string]struct{})
	dependencies := make(map[string]struct{})
	var tree strings.Builder
	entries := 0
	truncated := false

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" || entry.Name() == "node_modules" || entry.Name() == "vendor" {
				return filepath.SkipDir
			}
			if entries < maxTreeEntries {
				tree.WriteString(filepath.ToSlash(rel) + "/\n")
				entries++
			} else {
				truncated = true
			}
			return nil
		}

		if entries < maxTreeEntries {
			tree.WriteString(filepath.ToSlash(rel) + "\n")
			entries++
		} else {
			truncated = true
		}

		if lang, ok := languageByExtension[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			languages[lang] = struct{}{}
		}
		if parse, ok := manifestParsers[entry.Name()]; ok {
			for _, dep := range parse(path) {
				dependencies[dep] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk worktree: %w", err)
	}
	if truncated {
		tree.WriteString("...\n")
	}

	deps := sortedKeys(dependencies)
	frameworks := make(map[string]struct{})
	for _, dep := range deps {
		if fw, ok := frameworkByDependency[dep]; ok {
			frameworks[fw] = struct{}{}
		}
	}

	return &inspection{
		Languages:     sortedKeys(languages),
		Frameworks:    sortedKeys(frameworks),
		Dependencies:  deps,
		DirectoryTree: tree.String(),
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parseGoMod extracts required module paths from a go.mod file,
// skipping indirect requirements.
func parseGoMod(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps []string
	inBlock := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "require (":
			inBlock = true
		case inBlock && line == ")":
			inBlock = false
		case inBlock || strings.HasPrefix(line, "require "):
			line = strings.TrimPrefix(line, "require ")
			if strings.Contains(line, "// indirect") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 && !strings.HasPrefix(fields[0], "//") {
				deps = append(deps, fields[0])
			}
		}
	}
	return deps
}

// parsePackageJSON extracts dependency names from the dependencies and
// devDependencies objects.
func parsePackageJSON(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	deps := make([]string, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name := range manifest.Dependencies {
		deps = append(deps, name)
	}
	for name := range manifest.DevDependencies {
		deps = append(deps, name)
	}
	return deps
}

// parseRequirements extracts package names from a pip requirements
// file, stripping version specifiers, extras, and comments.
func parseRequirements(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if name := requirementName(line); name != "" {
			deps = append(deps, name)
		}
	}
	return deps
}

// requirementName strips a PEP 508 requirement line down to its
// package name.
func requirementName(line string) string {
	for _, sep := range []string{"==", ">=", "<=", "~=", "!=", ">", "<", "[", ";", " ", "#"} {
		if i := strings.Index(line, sep); i >= 0 {
			line = line[:i]
		}
	}
	return strings.ToLower(strings.TrimSpace(line))
}

// parseCargoToml extracts crate names from the dependencies and
// dev-dependencies tables.
func parseCargoToml(path string) []string {
	var manifest struct {
		Dependencies    map[string]toml.Primitive `toml:"dependencies"`
		DevDependencies map[string]toml.Primitive `toml:"dev-dependencies"`
	}
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return nil
	}
	deps := make([]string, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name := range manifest.Dependencies {
		deps = append(deps, name)
	}
	for name := range manifest.DevDependencies {
		deps = append(deps, name)
	}
	return deps
}

// parsePyprojectToml extracts package names from the PEP 621 project
// dependencies array.
func parsePyprojectToml(path string) []string {
	var manifest struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
	}
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return nil
	}
	var deps []string
	for _, line := range manifest.Project.Dependencies {
		if name := requirementName(line); name != "" {
			deps = append(deps, name)
		}
	}
	return deps
}
