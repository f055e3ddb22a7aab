package metrics

import (
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// Builder constructs a calculator for a concrete subject.
type Builder func(subject SubjectKey) Calculator

// Registration binds a metric kind to a (role, family) slot together with
// its declared dependency kinds. The dependency list makes the metric
// graph explicit so it can be validated offline.
type Registration struct {
	Kind    Kind
	Depends []Kind
	Build   Builder
}

// Registry maps (role, family) to the concrete metric kinds servicing that
// slot. It is populated once at bootstrap and immutable thereafter.
type Registry struct {
	slots  map[tenantcfg.Role]map[tenantcfg.Family][]Registration
	byKind map[Kind]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:  make(map[tenantcfg.Role]map[tenantcfg.Family][]Registration),
		byKind: make(map[Kind]Registration),
	}
}

// Register binds a kind to a (role, family) slot. Later bindings of the
// same kind under other slots reuse the first registration's dependency
// declaration.
func (r *Registry) Register(role tenantcfg.Role, family tenantcfg.Family, reg Registration) {
	fams, ok := r.slots[role]
	if !ok {
		fams = make(map[tenantcfg.Family][]Registration)
		r.slots[role] = fams
	}
	fams[family] = append(fams[family], reg)
	if _, seen := r.byKind[reg.Kind]; !seen {
		r.byKind[reg.Kind] = reg
	}
}

// For returns the registrations servicing a (role, family) slot. A nil
// result means the tenant's selection enables nothing for this role.
func (r *Registry) For(role tenantcfg.Role, family tenantcfg.Family) []Registration {
	fams, ok := r.slots[role]
	if !ok {
		return nil
	}
	return fams[family]
}

// Lookup returns the registration for a kind.
func (r *Registry) Lookup(kind Kind) (Registration, bool) {
	reg, ok := r.byKind[kind]
	return reg, ok
}

// Validate runs the startup checks: no metric may depend on its own kind,
// and every declared dependency must itself be registered or be a leaf
// kind written by another path.
func (r *Registry) Validate() error {
	for kind, reg := range r.byKind {
		for _, dep := range reg.Depends {
			if dep == kind {
				return eris.Errorf("metrics: %s depends on its own kind", kind)
			}
		}
	}
	return nil
}

// ValidateTenant checks that every family a tenant selected resolves to at
// least one registered slot. A selection naming an unregistered family is
// a configuration error and fatal at startup.
func (r *Registry) ValidateTenant(cfg *tenantcfg.TenantConfig) error {
	for role, family := range cfg.Families {
		if family != tenantcfg.RuleBasedEngine && family != tenantcfg.StochasticModel {
			return eris.Errorf("metrics: tenant %s role %s references unknown family %q",
				cfg.TenantID, role, family)
		}
		if _, ok := r.slots[role]; !ok {
			return eris.Errorf("metrics: tenant %s references unknown role %q", cfg.TenantID, role)
		}
	}
	return nil
}
