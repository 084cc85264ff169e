package catalog

import (
	"errors"
	"testing"
)

func TestDefaultCatalogValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
}

func TestStagesForEveryService(t *testing.T) {
	c := Default()
	cases := []struct {
		serviceType string
		modality    string
		count       int
		first       string
		last        string
	}{
		{"projetexpress", "", 9, "briefing", "entrega"},
		{"projeto_completo", "residencial", 10, "briefing", "entrega"},
		{"projeto_completo", "comercial", 10, "briefing", "entrega"},
		{"consultoria", "", 4, "briefing", "entrega"},
	}
	for _, tc := range cases {
		stages, err := c.StagesFor(tc.serviceType, tc.modality)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.serviceType, tc.modality, err)
		}
		if len(stages) != tc.count {
			t.Fatalf("%s/%s: %d stages, want %d", tc.serviceType, tc.modality, len(stages), tc.count)
		}
		if stages[0].ID != tc.first || stages[len(stages)-1].ID != tc.last {
			t.Fatalf("%s/%s: bounds %s..%s", tc.serviceType, tc.modality, stages[0].ID, stages[len(stages)-1].ID)
		}
		seen := map[string]bool{}
		for _, s := range stages {
			if s.ID == "" || s.Name == "" {
				t.Fatalf("%s/%s: stage with empty id or name", tc.serviceType, tc.modality)
			}
			if seen[s.ID] {
				t.Fatalf("%s/%s: duplicate stage %s", tc.serviceType, tc.modality, s.ID)
			}
			seen[s.ID] = true
		}
	}
}

func TestStagesForReturnsCopies(t *testing.T) {
	c := Default()
	a, _ := c.StagesFor("consultoria", "")
	a[0].Name = "mutated"
	b, _ := c.StagesFor("consultoria", "")
	if b[0].Name == "mutated" {
		t.Fatalf("catalog shares stage slices with callers")
	}
}

func TestStagesForUnknown(t *testing.T) {
	c := Default()
	if _, err := c.StagesFor("paisagismo", ""); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("unknown service: %v", err)
	}
	if _, err := c.StagesFor("projeto_completo", "industrial"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("unknown modality: %v", err)
	}
	if _, err := c.StagesFor("projeto_completo", ""); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("missing modality: %v", err)
	}
}

func TestFinalStageID(t *testing.T) {
	c := Default()
	id, err := c.FinalStageID("projetexpress", "")
	if err != nil || id != "entrega" {
		t.Fatalf("final stage = %s (%v), want entrega", id, err)
	}
}

func TestFromYAMLRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"not yaml", "services: [unclosed"},
		{"no services", "services: {}"},
		{"empty stage list", "services:\n  x:\n    name: X\n    stages: []"},
		{"duplicate ids", "services:\n  x:\n    name: X\n    stages:\n      - {id: a, name: A}\n      - {id: a, name: B}"},
		{"mixed layout", "services:\n  x:\n    name: X\n    stages:\n      - {id: a, name: A}\n    modalities:\n      m:\n        - {id: b, name: B}"},
	}
	for _, tc := range cases {
		if _, err := FromYAML([]byte(tc.yaml)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestFromYAMLOverride(t *testing.T) {
	c, err := FromYAML([]byte(`services:
  reforma:
    name: Reforma
    stages:
      - {id: vistoria, name: Vistoria, color_tag: blue}
      - {id: obra, name: Obra, color_tag: orange}
      - {id: entrega, name: Entrega, color_tag: green}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stages, err := c.StagesFor("reforma", "")
	if err != nil || len(stages) != 3 {
		t.Fatalf("reforma stages: %v %d", err, len(stages))
	}
	if _, err := c.StagesFor("projetexpress", ""); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("override should replace defaults: %v", err)
	}
}
