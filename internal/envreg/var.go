// Package envreg is a centralized, self-registering registry for the
// environment variables the Hub reads at startup. Every RegisterXxxVar
// call records name/default/description/type/component in a process-wide
// table, which VarDescriptions and ExportMarkdown render as documentation
// that cannot drift out of sync with the code that reads the values.
package envreg

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// VarType identifies the data type of an environment variable.
type VarType int

const (
	TypeString VarType = iota
	TypeBool
	TypeInt
	TypeDuration
)

func (v VarType) String() string {
	switch v {
	case TypeString:
		return "String"
	case TypeBool:
		return "Boolean"
	case TypeInt:
		return "Integer"
	case TypeDuration:
		return "Duration"
	default:
		return "Unknown"
	}
}

func (v VarType) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }

// Component identifies which part of the Hub consumes the variable.
type Component string

const (
	ComponentBootstrap Component = "bootstrap"
	ComponentStore     Component = "store"
	ComponentDiscovery Component = "discovery"
	ComponentProxy     Component = "proxy"
)

// Var holds the metadata for one registered environment variable.
type Var struct {
	Name         string    `json:"name"`
	DefaultValue string    `json:"default"`
	Description  string    `json:"description"`
	Type         VarType   `json:"type"`
	Component    Component `json:"component"`
	Hidden       bool      `json:"-"`
}

var (
	allVars = make(map[string]Var)
	mu      sync.Mutex
)

func register(v Var) {
	mu.Lock()
	defer mu.Unlock()
	allVars[v.Name] = v
}

// VarDescriptions returns all registered variables sorted by name.
func VarDescriptions() []Var {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Var, 0, len(allVars))
	for _, v := range allVars {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b Var) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// StringVar is a registered string-valued environment variable.
type StringVar struct{ v Var }

func RegisterStringVar(name, defaultValue, description string, component Component) StringVar {
	v := Var{Name: name, DefaultValue: defaultValue, Description: description, Type: TypeString, Component: component}
	register(v)
	return StringVar{v: v}
}

func (s StringVar) Get() string {
	if val, ok := os.LookupEnv(s.v.Name); ok {
		return val
	}
	return s.v.DefaultValue
}

func (s StringVar) Name() string { return s.v.Name }

// IntVar is a registered integer-valued environment variable.
type IntVar struct {
	v            Var
	defaultValue int
}

func RegisterIntVar(name string, defaultValue int, description string, component Component) IntVar {
	v := Var{Name: name, DefaultValue: strconv.Itoa(defaultValue), Description: description, Type: TypeInt, Component: component}
	register(v)
	return IntVar{v: v, defaultValue: defaultValue}
}

func (i IntVar) Get() int {
	if val, ok := os.LookupEnv(i.v.Name); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return i.defaultValue
}

// DurationVar is a registered duration-valued environment variable.
type DurationVar struct {
	v            Var
	defaultValue time.Duration
}

func RegisterDurationVar(name string, defaultValue time.Duration, description string, component Component) DurationVar {
	v := Var{Name: name, DefaultValue: defaultValue.String(), Description: description, Type: TypeDuration, Component: component}
	register(v)
	return DurationVar{v: v, defaultValue: defaultValue}
}

func (d DurationVar) Get() time.Duration {
	if val, ok := os.LookupEnv(d.v.Name); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return d.defaultValue
}

// ExportMarkdown renders every registered variable as a markdown table,
// grouped by component.
func ExportMarkdown() string {
	vars := VarDescriptions()
	var sb strings.Builder
	sb.WriteString("# Hub Bootstrap Environment Variables\n\n")

	grouped := make(map[Component][]Var)
	for _, v := range vars {
		if v.Hidden {
			continue
		}
		grouped[v.Component] = append(grouped[v.Component], v)
	}
	components := make([]Component, 0, len(grouped))
	for c := range grouped {
		components = append(components, c)
	}
	slices.SortFunc(components, func(a, b Component) int { return cmp.Compare(string(a), string(b)) })

	for _, comp := range components {
		fmt.Fprintf(&sb, "## %s\n\n", comp)
		sb.WriteString("| Variable | Type | Default | Description |\n")
		sb.WriteString("|----------|------|---------|-------------|\n")
		for _, v := range grouped[comp] {
			def := v.DefaultValue
			if def == "" {
				def = "(none)"
			}
			fmt.Fprintf(&sb, "| `%s` | %s | `%s` | %s |\n", v.Name, v.Type, def, v.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
