// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package plan loads the migration plan: the units to migrate and the
// landing zone resources they depend on.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
	"cloudshift/internal/resource"
)

// UnitSpec declares one VM to migrate.
type UnitSpec struct {
	ID                string   `yaml:"id" json:"id"`
	OSFamily          string   `yaml:"osFamily" json:"osFamily"`
	SizeClass         string   `yaml:"sizeClass" json:"sizeClass"`
	SourceEnvironment string   `yaml:"sourceEnvironment,omitempty" json:"sourceEnvironment,omitempty"`
	SourceImage       string   `yaml:"sourceImage,omitempty" json:"sourceImage,omitempty"`
	DependsOn         []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
}

// ResourceSpec declares one landing zone resource.
type ResourceSpec struct {
	Name       string            `yaml:"name" json:"name"`
	Kind       string            `yaml:"kind" json:"kind"`
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Tags       map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Plan is a parsed plan file.
type Plan struct {
	Environment string `yaml:"environment"`
	Location    string `yaml:"location"`
	// LandingZone adds DefaultResources for the environment.
	LandingZone      bool           `yaml:"landingZone"`
	IndependentWaves []int          `yaml:"independentWaves,omitempty"`
	Units            []UnitSpec     `yaml:"units"`
	Resources        []ResourceSpec `yaml:"resources,omitempty"`
}

// Declarer records declared resources, e.g. an inventory.Inventory.
type Declarer interface {
	Declare(name string, kind resource.Kind, attrs resource.Attributes) error
}

// Load reads and validates the plan at path.
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.New(faults.InvalidConfiguration, "load plan", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a plan. Unknown fields are rejected.
func Parse(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	p := &Plan{}
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, faults.New(faults.InvalidConfiguration, "parse plan", err)
	}
	if p.Environment == "" {
		p.Environment = constants.DefaultEnvironment
	}
	if p.Location == "" {
		p.Location = constants.DefaultLocation
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte) (*Plan, error) {
	return Parse(bytes.NewReader(data))
}

// Validate reports every problem of the plan at once.
func (p *Plan) Validate() error {
	var errs []error
	resources := map[string]bool{}
	for i, r := range p.AllResources() {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("resource %d: name is required", i))
			continue
		}
		if _, _, err := r.Declaration(); err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", r.Name, err))
		}
		resources[r.Name] = true
	}
	declared := map[string]bool{}
	for _, r := range p.Resources {
		if declared[r.Name] {
			errs = append(errs, fmt.Errorf("resource %s: declared twice", r.Name))
		}
		declared[r.Name] = true
	}

	seen := map[string]bool{}
	for i, u := range p.Units {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("unit %d: id is required", i))
			continue
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Errorf("unit %s: duplicate id", u.ID))
		}
		seen[u.ID] = true
		if !migration.ParseOSFamily(u.OSFamily).Valid() {
			errs = append(errs, fmt.Errorf("unit %s: unsupported OS family %q", u.ID, u.OSFamily))
		}
		if u.SizeClass == "" {
			errs = append(errs, fmt.Errorf("unit %s: sizeClass is required", u.ID))
		}
		for _, dep := range u.DependsOn {
			if !resources[dep] {
				errs = append(errs, fmt.Errorf("unit %s: depends on undeclared resource %q", u.ID, dep))
			}
		}
	}
	for _, idx := range p.IndependentWaves {
		if idx < 0 {
			errs = append(errs, fmt.Errorf("independent wave index %d is negative", idx))
		}
	}
	if len(errs) > 0 {
		return faults.New(faults.InvalidConfiguration, "validate plan", errors.Join(errs...))
	}
	return nil
}

// Declaration returns the resource kind and attributes, tags included,
// validated against the kind's schema.
func (r ResourceSpec) Declaration() (resource.Kind, resource.Attributes, error) {
	kind, err := resource.ParseKind(r.Kind)
	if err != nil {
		return "", nil, err
	}
	attrs := resource.Attributes{}
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs.SetTags(r.Tags)
	if err := resource.Validate(kind, attrs); err != nil {
		return "", nil, err
	}
	return kind, attrs, nil
}

// AllResources returns the landing zone, when enabled, followed by the
// plan's own resources. A plan resource replaces a landing zone resource of
// the same name.
func (p *Plan) AllResources() []ResourceSpec {
	if !p.LandingZone {
		return p.Resources
	}
	own := map[string]bool{}
	for _, r := range p.Resources {
		own[r.Name] = true
	}
	var out []ResourceSpec
	for _, r := range DefaultResources(p.Environment, p.Location) {
		if !own[r.Name] {
			out = append(out, r)
		}
	}
	return append(out, p.Resources...)
}

// Declare declares every resource of the plan into d.
func (p *Plan) Declare(d Declarer) error {
	for _, r := range p.AllResources() {
		kind, attrs, err := r.Declaration()
		if err != nil {
			return fmt.Errorf("declaring %s: %w", r.Name, err)
		}
		if err := d.Declare(r.Name, kind, attrs); err != nil {
			return fmt.Errorf("declaring %s: %w", r.Name, err)
		}
	}
	return nil
}

// MigrationUnits builds the units of the plan in declaration order.
func (p *Plan) MigrationUnits() []*migration.Unit {
	units := make([]*migration.Unit, 0, len(p.Units))
	for _, s := range p.Units {
		env := s.SourceEnvironment
		if env == "" {
			env = p.Environment
		}
		u := migration.NewUnit(s.ID, migration.ParseOSFamily(s.OSFamily), s.SizeClass, env)
		u.SourceImage = s.SourceImage
		u.DependsOn = append([]string(nil), s.DependsOn...)
		units = append(units, u)
	}
	return units
}
