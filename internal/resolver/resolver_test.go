package resolver

import (
	"context"
	"testing"

	"github.com/hostfleet/orchestrator/internal/model"
	"github.com/hostfleet/orchestrator/internal/registry"
	"github.com/hostfleet/orchestrator/internal/store/storetest"
)

func setup(t *testing.T) (*Resolver, *registry.Registry) {
	t.Helper()
	s := storetest.New()
	reg := registry.New(s.ServiceRecords, 20000, 29999)
	return New(reg), reg
}

func TestResolveAppliesDefaults(t *testing.T) {
	r, _ := setup(t)
	m := model.Manifest{
		Name: "app",
		ConfigSchema: []model.ConfigField{
			{Name: "logLevel", Default: "info"},
		},
	}
	resolved, err := r.Resolve(context.Background(), m, "srv-1", map[string]any{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Config["logLevel"] != "info" {
		t.Errorf("logLevel = %v, want info", resolved.Config["logLevel"])
	}
}

func TestResolveMissingRequiredFieldFails(t *testing.T) {
	r, _ := setup(t)
	m := model.Manifest{
		Name:         "app",
		ConfigSchema: []model.ConfigField{{Name: "apiKey", Required: true}},
	}
	if _, err := r.Resolve(context.Background(), m, "srv-1", map[string]any{}); err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestResolveBindsRequiredService(t *testing.T) {
	r, reg := setup(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, model.ServiceRecord{
		DeploymentID: "d1", ServiceName: "postgres", ServerID: "srv-1",
		Host: "10.0.0.5", Port: 5432, Status: model.ServiceAvailable,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	m := model.Manifest{
		Name:     "app",
		Requires: []model.ServiceReq{{Service: "postgres", Locality: model.LocalityAny}},
		ConfigSchema: []model.ConfigField{
			{Name: "dbHost", InheritFrom: "postgres"},
		},
	}
	resolved, err := r.Resolve(ctx, m, "srv-2", map[string]any{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Bindings["postgres"].Host != "10.0.0.5" {
		t.Errorf("binding host = %v", resolved.Bindings["postgres"].Host)
	}
	if resolved.Config["dbHost"] != "10.0.0.5" {
		t.Errorf("dbHost = %v, want 10.0.0.5", resolved.Config["dbHost"])
	}
}

func TestResolveMissingRequiredDependencyFails(t *testing.T) {
	r, _ := setup(t)
	m := model.Manifest{
		Name:     "app",
		Requires: []model.ServiceReq{{Service: "postgres"}},
	}
	if _, err := r.Resolve(context.Background(), m, "srv-1", map[string]any{}); err == nil {
		t.Fatal("expected error: no provider for required service")
	}
}

func TestResolveOptionalDependencySkipped(t *testing.T) {
	r, _ := setup(t)
	m := model.Manifest{
		Name:     "app",
		Requires: []model.ServiceReq{{Service: "redis", Optional: true}},
	}
	resolved, err := r.Resolve(context.Background(), m, "srv-1", map[string]any{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := resolved.Bindings["redis"]; ok {
		t.Error("expected no binding for skipped optional dependency")
	}
}

func TestResolveRejectsInvalidSelectOption(t *testing.T) {
	r, _ := setup(t)
	m := model.Manifest{
		Name: "app",
		ConfigSchema: []model.ConfigField{
			{Name: "tier", Type: model.FieldSelect, Options: []string{"small", "large"}},
		},
	}
	_, err := r.Resolve(context.Background(), m, "srv-1", map[string]any{"tier": "huge"})
	if err == nil {
		t.Fatal("expected error for value outside select options")
	}
}

func TestResolveUserOverridesDefault(t *testing.T) {
	r, _ := setup(t)
	m := model.Manifest{
		Name:         "app",
		ConfigSchema: []model.ConfigField{{Name: "logLevel", Default: "info"}},
	}
	resolved, err := r.Resolve(context.Background(), m, "srv-1", map[string]any{"logLevel": "debug"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Config["logLevel"] != "debug" {
		t.Errorf("logLevel = %v, want debug", resolved.Config["logLevel"])
	}
}
