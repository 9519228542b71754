// Package resolver validates a manifest's config against its schema and
// resolves its service dependencies, merging schema defaults, inherited
// values from required services, and user-supplied overrides, per
// spec.md §4.6.
package resolver

import (
	"context"
	"fmt"

	"github.com/hostfleet/orchestrator/internal/core/apperr"
	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/registry"
)

// Resolver resolves a manifest's requirements against the live registry.
type Resolver struct {
	reg *registry.Registry
}

// New builds a Resolver.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolved is the outcome of resolving one manifest for one target
// server: the config values to install with, and which required
// services were matched to which provider.
type Resolved struct {
	Config   map[string]any
	Bindings map[string]model.ServiceRecord // requirement service name -> chosen provider
}

// Resolve validates userConfig against m's ConfigSchema, fills in
// defaults and generated/inherited values, and binds every required
// service to an available provider.
func (r *Resolver) Resolve(ctx context.Context, m model.Manifest, serverID string, userConfig map[string]any) (Resolved, error) {
	bindings := map[string]model.ServiceRecord{}
	for _, req := range m.Requires {
		providers, err := r.reg.Resolve(ctx, req.Service, req.Locality, serverID)
		if err != nil {
			return Resolved{}, err
		}
		if len(providers) == 0 {
			if req.Optional {
				continue
			}
			return Resolved{}, apperr.Invalid("requires."+req.Service, "no available provider for this required service")
		}
		bindings[req.Service] = providers[0]
	}

	config := map[string]any{}
	for _, field := range m.ConfigSchema {
		val, provided := userConfig[field.Name]
		switch {
		case provided:
			config[field.Name] = val
		case field.InheritFrom != "":
			provider, ok := bindings[field.InheritFrom]
			if !ok {
				if field.Required {
					return Resolved{}, apperr.Invalid(field.Name, fmt.Sprintf("inherits from unresolved dependency %q", field.InheritFrom))
				}
				continue
			}
			config[field.Name] = inheritedValue(field.Name, provider)
		case field.Default != nil:
			config[field.Name] = field.Default
		case field.Required && !field.Generated:
			return Resolved{}, apperr.Invalid(field.Name, "missing required config field")
		}

		if field.Type == model.FieldSelect && provided {
			if !containsString(field.Options, fmt.Sprintf("%v", val)) {
				return Resolved{}, apperr.Invalid(field.Name, fmt.Sprintf("%v is not one of %v", val, field.Options))
			}
		}
	}

	return Resolved{Config: config, Bindings: bindings}, nil
}

func inheritedValue(fieldName string, provider model.ServiceRecord) any {
	switch fieldName {
	case "host", "hostname":
		return provider.Host
	case "port":
		return provider.Port
	default:
		return fmt.Sprintf("%s:%d", provider.Host, provider.Port)
	}
}

func containsString(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
