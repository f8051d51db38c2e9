package builder

import (
	"fmt"
	"maps"
	"slices"

	"github.com/qobs-build/qext/internal/msg"
	"github.com/qobs-build/qext/internal/platform"
)

// Mode is the enable/disable/system setting of a dependency.
type Mode string

const (
	// Enable builds the bundled sources.
	Enable Mode = "enable"
	// Disable leaves the dependency out.
	Disable Mode = "disable"
	// System links against an installed copy.
	System Mode = "system"
)

// ValidModes lists the accepted mode values.
var ValidModes = []Mode{Enable, Disable, System}

// Active reports whether the dependency takes part in the build at all.
func (m Mode) Active() bool { return m == Enable || m == System }

// DependencyOption is the requested and resolved mode of one dependency.
type DependencyOption struct {
	Name      string
	Requested string
	Resolved  Mode
	// Constraint names the host capability that forced Resolved to disable.
	Constraint string
}

// DecisionKind classifies an entry in the resolution log.
type DecisionKind int

const (
	// Resolved is a plain decision, no correction was needed.
	Resolved DecisionKind = iota
	// ConfigurationWarning is an unrecognized mode or dependency name.
	ConfigurationWarning
	// ForcedOverride is a required dependency turned back on.
	ForcedOverride
	// CapabilityGate is an accelerator disabled by host capabilities.
	CapabilityGate
)

func (k DecisionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case ConfigurationWarning:
		return "configuration-warning"
	case ForcedOverride:
		return "forced-override"
	case CapabilityGate:
		return "capability-gate"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision is one line of the resolution log.
type Decision struct {
	Kind       DecisionKind
	Dependency string
	Message    string
}

// Config is the resolved build configuration. It cannot be changed once
// built; every accessor returns a copy.
type Config struct {
	options map[string]DependencyOption
	target  platform.Target
	vendor  platform.Vendor
	log     []Decision
}

func (c *Config) Target() platform.Target { return c.target }
func (c *Config) Vendor() platform.Vendor { return c.vendor }

// Mode returns the resolved mode of a dependency, Disable when unknown.
func (c *Config) Mode(name string) Mode {
	if opt, ok := c.options[name]; ok {
		return opt.Resolved
	}
	return Disable
}

// Option returns the full resolution record of a dependency.
func (c *Config) Option(name string) (DependencyOption, bool) {
	opt, ok := c.options[name]
	return opt, ok
}

// Names returns the dependency names in sorted order.
func (c *Config) Names() []string {
	return slices.Sorted(maps.Keys(c.options))
}

// Decisions returns the resolution log in the order it was produced.
func (c *Config) Decisions() []Decision {
	return slices.Clone(c.log)
}

// Resolver turns raw mode requests into a Config.
type Resolver struct {
	Deps   []Dependency
	Target platform.Target
	Vendor platform.Vendor
	// LookPath finds external tools such as the macro assembler.
	LookPath func(file string) (string, error)
}

// Resolve validates requests (dependency name -> raw mode) and applies host
// capability gating. Resolution only ever narrows a request, except for the
// required dependency which is forced back on.
func (r *Resolver) Resolve(requests map[string]string) *Config {
	cfg := &Config{
		options: make(map[string]DependencyOption, len(r.Deps)),
		target:  r.Target,
		vendor:  r.Vendor,
	}
	record := func(kind DecisionKind, dep, format string, a ...any) {
		d := Decision{Kind: kind, Dependency: dep, Message: fmt.Sprintf(format, a...)}
		cfg.log = append(cfg.log, d)
		if kind == Resolved {
			msg.Info("%s: %s", dep, d.Message)
		} else {
			msg.Warn("%s: %s", dep, d.Message)
		}
	}

	known := make(map[string]bool, len(r.Deps))
	for _, dep := range r.Deps {
		known[dep.Name] = true
	}
	for _, name := range slices.Sorted(maps.Keys(requests)) {
		if !known[name] {
			record(ConfigurationWarning, name, "unknown dependency %q requested, ignoring it", name)
		}
	}

	for _, dep := range r.Deps {
		opt := DependencyOption{Name: dep.Name, Requested: string(Enable), Resolved: Enable}
		if raw, ok := requests[dep.Name]; ok {
			opt.Requested = raw
			opt.Resolved = Mode(raw)
			if !slices.Contains(ValidModes, opt.Resolved) {
				record(ConfigurationWarning, dep.Name, "unrecognized mode %q, valid values are %v; using %s", raw, ValidModes, Disable)
				opt.Resolved = Disable
			}
		}

		if dep.Role == RoleRequired && opt.Resolved == Disable {
			record(ForcedOverride, dep.Name, "can not be disabled, enabling it")
			opt.Resolved = Enable
		}

		if dep.Role == RoleAccelerator && opt.Resolved.Active() {
			if reason := r.gate(dep, opt.Resolved); reason != "" {
				record(CapabilityGate, dep.Name, "%s, disabling it", reason)
				opt.Resolved = Disable
				opt.Constraint = reason
			}
		}

		record(Resolved, dep.Name, "%s", opt.Resolved)
		cfg.options[dep.Name] = opt
	}

	return cfg
}

// gate returns why an accelerator can not be built for the target, or "" if it can
func (r *Resolver) gate(dep Dependency, mode Mode) string {
	table, ok := dep.Arch[r.Target.Arch]
	if !ok || !r.Target.Arch.Is64Bit() {
		return fmt.Sprintf("architecture %s is not supported", r.Target.Arch)
	}
	if dep.deniedOn(r.Target.OS) {
		return fmt.Sprintf("not supported on %s", r.Target.OS)
	}
	// system installs are already assembled
	if mode == Enable && table.Tool != "" {
		lookPath := r.LookPath
		if lookPath == nil {
			return fmt.Sprintf("no way to look up %s", table.Tool)
		}
		if _, err := lookPath(table.Tool); err != nil {
			return fmt.Sprintf("%s is required for %s but was not found", table.Tool, r.Target.Arch)
		}
	}
	return ""
}
