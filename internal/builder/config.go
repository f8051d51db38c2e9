package builder

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/qobs-build/qext/internal/platform"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ManifestFile is the name of the manifest looked up in a package directory.
const ManifestFile = "Extension.toml"

// DefaultManifest describes the bundled rapidgzip source tree. `qext init`
// writes it out.
//
//go:embed default.toml
var DefaultManifest []byte

// Manifest is the parsed Extension.toml
type Manifest struct {
	Package      PackageSection               `toml:"package"`
	Target       TargetSection                `toml:"target"`
	Dependencies map[string]DependencySection `toml:"dependencies"`

	// Deps is the validated form of Dependencies, sorted by name
	Deps []Dependency `toml:"-"`
}

// PackageSection defines the [package] section
type PackageSection struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Suffix      string `toml:"suffix"`
	MinMacOS    string `toml:"min-macos"`
	Build       string `toml:"build"`
}

// TargetSection defines the [target] section
type TargetSection struct {
	Sources    []string          `toml:"sources"`
	Includes   []string          `toml:"includes"`
	Defines    map[string]string `toml:"defines"`
	GNUDefines map[string]string `toml:"gnu-defines"`
	Links      []string          `toml:"links"`
}

// DependencySection defines a [dependencies.<name>] section
type DependencySection struct {
	Role        string                 `toml:"role"`
	Define      string                 `toml:"define"`
	Sources     []string               `toml:"sources"`
	Includes    []string               `toml:"includes"`
	AsmIncludes []string               `toml:"asm-includes"`
	Links       []string               `toml:"links"`
	DenyOS      []string               `toml:"deny-os"`
	Dir         string                 `toml:"dir"`
	Source      string                 `toml:"source"`
	Arch        map[string]ArchSection `toml:"arch"`
}

// ArchSection defines a [dependencies.<name>.arch.<arch>] section
type ArchSection struct {
	Sources     []string `toml:"sources"`
	Includes    []string `toml:"includes"`
	AsmIncludes []string `toml:"asm-includes"`
	Tool        string   `toml:"tool"`
}

// Role decides how the resolver treats a dependency.
type Role int

const (
	// RoleLibrary is a portable library bundled as source.
	RoleLibrary Role = iota
	// RoleRequired can never be disabled.
	RoleRequired
	// RoleAccelerator ships architecture-specific assembly and is gated on
	// host capabilities.
	RoleAccelerator
	// RoleAllocator replaces the allocator; MSVC needs extra system libraries for it.
	RoleAllocator
)

func (r Role) String() string {
	switch r {
	case RoleLibrary:
		return "library"
	case RoleRequired:
		return "required"
	case RoleAccelerator:
		return "accelerator"
	case RoleAllocator:
		return "allocator"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

func parseRole(s string) (Role, error) {
	switch s {
	case "", "library":
		return RoleLibrary, nil
	case "required":
		return RoleRequired, nil
	case "accelerator":
		return RoleAccelerator, nil
	case "allocator":
		return RoleAllocator, nil
	}
	return 0, fmt.Errorf("unknown role %q, expected one of library, required, accelerator, allocator", s)
}

// Dependency is an optional (or required) component of the source tree.
type Dependency struct {
	Name        string
	Role        Role
	Define      string
	Sources     []string
	Includes    []string
	AsmIncludes []string
	Links       []string
	DenyOS      []platform.OS
	// Dir is where the bundled sources live; Source is fetched there when it is missing.
	Dir    string
	Source string
	Arch   map[platform.Arch]ArchTable
}

// ArchTable holds the sources that only exist for one architecture.
type ArchTable struct {
	Sources     []string
	Includes    []string
	AsmIncludes []string
	// Tool is the external assembler this table needs, if any.
	Tool string
}

func (d Dependency) deniedOn(o platform.OS) bool {
	return slices.Contains(d.DenyOS, o)
}

var errNoName = errors.New("manifest has no package name ([package] name)")

func (m *Manifest) validate() error {
	if m.Package.Name == "" {
		return errNoName
	}

	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	slices.Sort(names)

	m.Deps = make([]Dependency, 0, len(names))
	required := ""
	for _, name := range names {
		sec := m.Dependencies[name]
		role, err := parseRole(sec.Role)
		if err != nil {
			return fmt.Errorf("dependency %q: %w", name, err)
		}
		if role == RoleRequired {
			if required != "" {
				return fmt.Errorf("dependencies %q and %q are both required, only one may be", required, name)
			}
			required = name
		}

		dep := Dependency{
			Name:        name,
			Role:        role,
			Define:      sec.Define,
			Sources:     sec.Sources,
			Includes:    sec.Includes,
			AsmIncludes: sec.AsmIncludes,
			Links:       sec.Links,
			Dir:         sec.Dir,
			Source:      sec.Source,
			Arch:        make(map[platform.Arch]ArchTable, len(sec.Arch)),
		}
		for _, s := range sec.DenyOS {
			o, err := platform.ParseOS(s)
			if err != nil {
				return fmt.Errorf("dependency %q deny-os: %w", name, err)
			}
			dep.DenyOS = append(dep.DenyOS, o)
		}
		for key, a := range sec.Arch {
			arch, err := platform.ParseArch(key)
			if err != nil {
				return fmt.Errorf("dependency %q arch table: %w", name, err)
			}
			dep.Arch[arch] = ArchTable(a)
		}
		if len(dep.Arch) > 0 && role != RoleAccelerator {
			return fmt.Errorf("dependency %q has architecture tables but role %q (only accelerators may)", name, role)
		}

		m.Deps = append(m.Deps, dep)
	}
	return nil
}

// Dependency looks up a validated dependency by name
func (m *Manifest) Dependency(name string) (Dependency, bool) {
	for _, d := range m.Deps {
		if d.Name == name {
			return d, true
		}
	}
	return Dependency{}, false
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := toml.Unmarshal([]byte(mustMarshal(data)), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalSection is a helper to parse, evaluate and merge multiple sections with conditional logic
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ConfigEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			_, err := expr.Compile(key, expr.Env(env), expr.AsBool())
			if err == nil {
				conditionalFields[key] = subMap
			} else {
				baseFields[key] = val
			}
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	// merge in a stable order so appended lists do not depend on map iteration
	expressions := make([]string, 0, len(conditionalFields))
	for expression := range conditionalFields {
		expressions = append(expressions, expression)
	}
	slices.Sort(expressions)

	for _, expression := range expressions {
		program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		// merge sections if the result is true
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(conditionalFields[expression])), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ConfigEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		builder.WriteString(fmt.Sprintf("%v", result))
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func ParseManifest(rdr io.Reader, env ConfigEnv) (*Manifest, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		if derr, ok := err.(*toml.DecodeError); ok {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	// the build hook is evaluated later, its {{ }} must survive
	var buildHook any
	if pkg, ok := rawConfig["package"].(map[string]any); ok {
		buildHook = pkg["build"]
		delete(pkg, "build")
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in manifest: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	m := new(Manifest)
	if err := unmarshalSection(rawConfig, "package", &m.Package); err != nil {
		return nil, err
	}
	if hook, ok := buildHook.(string); ok {
		m.Package.Build = hook
	}
	if err := unmarshalConditionalSection(rawConfig, "target", &m.Target, env); err != nil {
		return nil, err
	}

	if depsData, ok := rawConfig["dependencies"]; ok {
		depsMap, ok := depsData.(map[string]any)
		if !ok {
			return nil, errors.New("invalid [dependencies] section format: expected a table")
		}
		m.Dependencies = make(map[string]DependencySection, len(depsMap))
		for name := range depsMap {
			var sec DependencySection
			if err := unmarshalConditionalSection(depsMap, name, &sec, env); err != nil {
				return nil, fmt.Errorf("dependency %q: %w", name, err)
			}
			m.Dependencies[name] = sec
		}
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseManifestFromFile parses and validates a manifest from a filepath
func ParseManifestFromFile(path string, env ConfigEnv) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseManifest(bufio.NewReader(f), env)
}

//
// expr-lang helpers
//

// RunBuildScript evaluates the [package] build hook, which must return true.
func (m *Manifest) RunBuildScript(env ConfigEnv) error {
	if m.Package.Build == "" {
		return nil
	}

	program, err := expr.Compile(m.Package.Build, expr.Env(env))
	if err != nil {
		return fmt.Errorf("failed to compile build script for package %q: %w", m.Package.Name, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to run build script for package %q: %w", m.Package.Name, err)
	}

	if result, ok := result.(bool); !ok || !result {
		return fmt.Errorf("build script for package %q returned false\n%s", m.Package.Name, m.Package.Build)
	}

	return nil
}

// ConfigEnv is what manifest expressions can see. It is built once from
// explicit inputs; nothing in it reads the process environment.
type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
	basedir    string
}

func NewConfigEnv(basedir string, target platform.Target, environ map[string]string) ConfigEnv {
	if environ == nil {
		environ = map[string]string{}
	}
	return ConfigEnv{
		TargetOS:   target.OS.String(),
		TargetArch: target.Arch.String(),
		Environ:    environ,
		basedir:    basedir,
	}
}

// Environ splits os.Environ-style KEY=VALUE pairs into a map.
func Environ(pairs []string) map[string]string {
	environ := make(map[string]string, len(pairs))
	for _, e := range pairs {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}
	return environ
}

func (env ConfigEnv) Patch(path, patchText string) bool {
	fullPath := env.resolve(path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}
	origText := string(data)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patchedText, results := dmp.PatchApply(patches, origText)
	if !slices.Contains(results, true) {
		return false // nothing was applied, nothing to write
	}

	err = os.WriteFile(fullPath, []byte(patchedText), 0644)
	if err != nil {
		panic(err)
	}

	return true
}

func (env ConfigEnv) ReadFile(path string) string {
	data, err := os.ReadFile(env.resolve(path))
	if err != nil {
		panic(err)
	}
	return string(data)
}

// resolve joins path to the package directory, refusing to leave it
func (env ConfigEnv) resolve(path string) string {
	fullPath := filepath.Join(env.basedir, path)
	rel, err := filepath.Rel(env.basedir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		panic(fmt.Sprintf("path %q is outside of package directory %q", path, env.basedir))
	}
	return fullPath
}
