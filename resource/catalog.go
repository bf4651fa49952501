package resource

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Skryldev/socialhub/query"
	"github.com/Skryldev/socialhub/sanitize"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ─────────────────────────────────────────────────────────────────────────────
// Catalog types
// ─────────────────────────────────────────────────────────────────────────────

// AuthMode names how an operation authenticates its caller.
type AuthMode string

const (
	AuthNone   AuthMode = ""
	AuthBearer AuthMode = "bearer"
)

// Operation declares how one HTTP verb of a resource behaves. Which fields are
// meaningful depends on the verb; see catalog.yaml.
type Operation struct {
	Auth       AuthMode            `yaml:"auth"`
	Owner      string              `yaml:"owner"`
	Required   []string            `yaml:"required"`
	AnyOf      []string            `yaml:"any_of"`
	Filters    []string            `yaml:"filters"`
	Either     map[string][]string `yaml:"either"`
	Defaults   map[string]any      `yaml:"defaults"`
	Key        []string            `yaml:"key"`
	Mutable    []string            `yaml:"mutable"`
	Unique     []string            `yaml:"unique"`
	Generate   map[string]string   `yaml:"generate"`
	Transforms map[string]string   `yaml:"transforms"`
	Columns    []string            `yaml:"columns"`
	OrderBy    string              `yaml:"order_by"`
}

// Descriptor is the declarative definition of one table-backed resource.
// Fields is the allow-list: request parameters outside it are rejected and
// no other column name ever reaches a statement.
type Descriptor struct {
	Route      string            `yaml:"route"`
	Table      string            `yaml:"table"`
	ID         string            `yaml:"id"`
	Fields     []string          `yaml:"fields"`
	Transforms map[string]string `yaml:"transforms"`

	Get    *Operation `yaml:"get"`
	Post   *Operation `yaml:"post"`
	Put    *Operation `yaml:"put"`
	Delete *Operation `yaml:"delete"`
}

// Catalog is the set of resources served by the process. It is read-only
// once loaded.
type Catalog struct {
	Resources []*Descriptor `yaml:"resources"`
}

// Operation returns the declaration for op, or nil when the resource does
// not support it.
func (d *Descriptor) Operation(op query.Op) *Operation {
	switch op {
	case query.Select:
		return d.Get
	case query.Insert:
		return d.Post
	case query.Update:
		return d.Put
	case query.Delete:
		return d.Delete
	}
	return nil
}

// Methods lists the HTTP verbs the resource accepts.
func (d *Descriptor) Methods() []string {
	var out []string
	for _, op := range []query.Op{query.Select, query.Insert, query.Update, query.Delete} {
		if d.Operation(op) != nil {
			out = append(out, methodFor(op))
		}
	}
	return out
}

// Params lists the request parameters the resource accepts: its fields plus
// any alias its select matches against several columns.
func (d *Descriptor) Params() []string {
	if d.Get == nil || len(d.Get.Either) == 0 {
		return d.Fields
	}
	return append(append([]string(nil), d.Fields...), sortedKeys(d.Get.Either)...)
}

// Lookup returns the descriptor served on route.
func (c *Catalog) Lookup(route string) (*Descriptor, bool) {
	for _, d := range c.Resources {
		if d.Route == route {
			return d, true
		}
	}
	return nil, false
}

// ─────────────────────────────────────────────────────────────────────────────
// Loading
// ─────────────────────────────────────────────────────────────────────────────

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from path. An empty path yields the default
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("socialhub/resource: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog. Unknown keys are
// rejected so a misspelt option cannot silently widen a resource.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("socialhub/resource: parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("socialhub/resource: invalid catalog: %w", err)
	}
	return &c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func (c *Catalog) validate() error {
	if len(c.Resources) == 0 {
		return fmt.Errorf("no resources")
	}
	seen := make(map[string]bool, len(c.Resources))
	for _, d := range c.Resources {
		if d.Route == "" {
			return fmt.Errorf("resource without route")
		}
		if seen[d.Route] {
			return fmt.Errorf("duplicate route %q", d.Route)
		}
		seen[d.Route] = true
		if err := d.validate(); err != nil {
			return fmt.Errorf("%s: %w", d.Route, err)
		}
	}
	return nil
}

func (d *Descriptor) validate() error {
	if err := sanitize.Identifier(d.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("empty field allow-list")
	}
	for _, f := range d.Fields {
		if err := sanitize.Identifier(f); err != nil {
			return fmt.Errorf("fields: %w", err)
		}
	}
	if err := checkTransforms(d.Transforms); err != nil {
		return err
	}

	generated := map[string]bool{}
	if d.Post != nil {
		for f, gen := range d.Post.Generate {
			if gen != "uuid" {
				return fmt.Errorf("generate %s: unknown generator %q", f, gen)
			}
			if err := sanitize.Identifier(f); err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			generated[f] = true
		}
	}
	if !d.known(d.ID, generated) {
		return fmt.Errorf("id %q is not an allowed field", d.ID)
	}
	if len(d.Methods()) == 0 {
		return fmt.Errorf("no operations")
	}

	for _, op := range []query.Op{query.Select, query.Insert, query.Update, query.Delete} {
		spec := d.Operation(op)
		if spec == nil {
			continue
		}
		if err := d.validateOp(op, spec, generated); err != nil {
			return fmt.Errorf("%s: %w", methodFor(op), err)
		}
	}
	return nil
}

func (d *Descriptor) validateOp(op query.Op, spec *Operation, generated map[string]bool) error {
	switch spec.Auth {
	case AuthNone, AuthBearer:
	default:
		return fmt.Errorf("unknown auth mode %q", spec.Auth)
	}
	if spec.Owner != "" && spec.Auth != AuthBearer {
		return fmt.Errorf("owner %q needs bearer auth", spec.Owner)
	}

	if len(spec.Either) > 0 && op != query.Select {
		return fmt.Errorf("either: only valid on get")
	}
	for _, alias := range sortedKeys(spec.Either) {
		if err := sanitize.Identifier(alias); err != nil {
			return fmt.Errorf("either: %w", err)
		}
		if d.known(alias, generated) {
			return fmt.Errorf("either: %q is already a field", alias)
		}
		if len(spec.Either[alias]) == 0 {
			return fmt.Errorf("either %s: no columns", alias)
		}
		for _, c := range spec.Either[alias] {
			if !d.known(c, nil) {
				return fmt.Errorf("either %s: %q is not an allowed field", alias, c)
			}
		}
	}

	lists := map[string][]string{
		"required": spec.Required,
		"any_of":   spec.AnyOf,
		"filters":  spec.Filters,
		"key":      spec.Key,
		"mutable":  spec.Mutable,
		"unique":   spec.Unique,
		"columns":  spec.Columns,
	}
	for name, list := range lists {
		for _, f := range list {
			if name == "columns" {
				if err := sanitize.Identifier(f); err != nil {
					return fmt.Errorf("columns: %w", err)
				}
				continue
			}
			if _, alias := spec.Either[f]; alias && name == "required" {
				continue
			}
			if !d.known(f, generated) {
				return fmt.Errorf("%s: %q is not an allowed field", name, f)
			}
		}
	}
	for _, f := range sortedKeys(spec.Defaults) {
		if !d.known(f, nil) {
			return fmt.Errorf("defaults: %q is not an allowed field", f)
		}
		if op == query.Select && !contains(spec.Filters, f) {
			return fmt.Errorf("defaults: %q is not a filter", f)
		}
	}
	if spec.OrderBy != "" && !d.known(spec.OrderBy, generated) {
		return fmt.Errorf("order_by: %q is not an allowed field", spec.OrderBy)
	}
	if err := checkTransforms(spec.Transforms); err != nil {
		return err
	}

	switch op {
	case query.Update, query.Delete:
		if len(spec.Key) == 0 {
			return fmt.Errorf("empty key")
		}
		if spec.Owner == "" || !contains(spec.Key, spec.Owner) {
			return fmt.Errorf("owner must be declared and be part of the key")
		}
		for _, m := range spec.Mutable {
			if contains(spec.Key, m) {
				return fmt.Errorf("mutable field %q is part of the key", m)
			}
		}
		if op == query.Update && len(spec.Mutable) == 0 {
			return fmt.Errorf("no mutable fields")
		}
	case query.Insert:
		if spec.Owner != "" && !contains(spec.Required, spec.Owner) {
			return fmt.Errorf("owner %q must be required", spec.Owner)
		}
	}
	return nil
}

func (d *Descriptor) known(f string, generated map[string]bool) bool {
	return contains(d.Fields, f) || generated[f]
}

func checkTransforms(t map[string]string) error {
	for _, f := range sortedKeys(t) {
		if _, ok := transforms[t[f]]; !ok {
			return fmt.Errorf("transform %s: unknown function %q", f, t[f])
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
