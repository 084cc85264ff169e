package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"studioflow/internal/domain"
)

// ErrUnknownService is returned for a (service type, modality) pair with no
// catalog entry. Unknown combinations are a configuration error, not a
// reason to silently hand out some default stage list.
var ErrUnknownService = errors.New("unknown service type")

// Catalog is the fixed table of per-service stage sequences. It is loaded
// once at startup and never mutated; projects copy stages out of it.
type Catalog struct {
	Services map[string]Service `yaml:"services"`
}

type Service struct {
	Name string `yaml:"name"`
	// Stages applies to service types without modalities.
	Stages []StageDef `yaml:"stages,omitempty"`
	// Modalities holds per-modality sequences; only projeto_completo uses it.
	Modalities map[string][]StageDef `yaml:"modalities,omitempty"`
}

type StageDef struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	ColorTag    string `yaml:"color_tag"`
	Description string `yaml:"description,omitempty"`
}

// StagesFor returns a fresh copy of the stage sequence for the given pair.
// Modality is ignored for service types that define a flat stage list.
func (c *Catalog) StagesFor(serviceType, modality string) ([]domain.Stage, error) {
	svc, ok := c.Services[serviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, serviceType)
	}
	defs := svc.Stages
	if len(svc.Modalities) > 0 {
		defs, ok = svc.Modalities[modality]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownService, serviceType, modality)
		}
	}
	stages := make([]domain.Stage, len(defs))
	for i, d := range defs {
		stages[i] = domain.Stage{ID: d.ID, Name: d.Name, ColorTag: d.ColorTag, Description: d.Description}
	}
	return stages, nil
}

// FinalStageID returns the id of the last stage in the sequence. Reaching
// it is what flips a project to completed.
func (c *Catalog) FinalStageID(serviceType, modality string) (string, error) {
	stages, err := c.StagesFor(serviceType, modality)
	if err != nil {
		return "", err
	}
	return stages[len(stages)-1].ID, nil
}

// ServiceTypes lists the configured service type keys.
func (c *Catalog) ServiceTypes() []string {
	var out []string
	for k := range c.Services {
		out = append(out, k)
	}
	return out
}

// Validate ensures every sequence is non-empty with unique stage ids.
func (c *Catalog) Validate() error {
	if len(c.Services) == 0 {
		return errors.New("catalog.services is required")
	}
	for key, svc := range c.Services {
		if len(svc.Stages) == 0 && len(svc.Modalities) == 0 {
			return fmt.Errorf("service %s has no stages", key)
		}
		if len(svc.Stages) > 0 && len(svc.Modalities) > 0 {
			return fmt.Errorf("service %s mixes flat stages and modalities", key)
		}
		if err := validateSequence(key, svc.Stages); err != nil {
			return err
		}
		for mod, defs := range svc.Modalities {
			if err := validateSequence(key+"/"+mod, defs); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSequence(label string, defs []StageDef) error {
	if defs == nil {
		return nil
	}
	if len(defs) == 0 {
		return fmt.Errorf("service %s has empty stage list", label)
	}
	seen := map[string]bool{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("service %s has stage with empty id", label)
		}
		if seen[d.ID] {
			return fmt.Errorf("service %s has duplicate stage id %s", label, d.ID)
		}
		seen[d.ID] = true
		if d.Name == "" {
			return fmt.Errorf("service %s stage %s has empty name", label, d.ID)
		}
	}
	return nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	var c Catalog
	// The template is validated by tests; a decode failure here is a bug.
	if err := yaml.Unmarshal([]byte(defaultTemplate), &c); err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return &c
}

// FromYAML parses and validates a catalog override.
func FromYAML(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromFile reads a catalog from path, falling back to the default when the
// file does not exist.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `services:
  projetexpress:
    name: Projet Express
    stages:
      - {id: briefing, name: Briefing, color_tag: blue, description: "Primeira conversa e levantamento de necessidades"}
      - {id: levantamento, name: Levantamento, color_tag: cyan, description: "Medição e levantamento do espaço"}
      - {id: estudo_preliminar, name: Estudo Preliminar, color_tag: purple}
      - {id: anteprojeto, name: Anteprojeto, color_tag: purple}
      - {id: projeto_executivo, name: Projeto Executivo, color_tag: orange}
      - {id: detalhamento, name: Detalhamento, color_tag: orange}
      - {id: revisao, name: Revisão, color_tag: yellow}
      - {id: apresentacao, name: Apresentação, color_tag: green}
      - {id: entrega, name: Entrega, color_tag: green, description: "Entrega final ao cliente"}

  projeto_completo:
    name: Projeto Completo
    modalities:
      residencial:
        - {id: briefing, name: Briefing, color_tag: blue}
        - {id: levantamento, name: Levantamento, color_tag: cyan}
        - {id: estudo_preliminar, name: Estudo Preliminar, color_tag: purple}
        - {id: anteprojeto, name: Anteprojeto, color_tag: purple}
        - {id: projeto_legal, name: Projeto Legal, color_tag: red, description: "Documentação para aprovação na prefeitura"}
        - {id: projeto_executivo, name: Projeto Executivo, color_tag: orange}
        - {id: detalhamento, name: Detalhamento, color_tag: orange}
        - {id: caderno_tecnico, name: Caderno Técnico, color_tag: yellow}
        - {id: apresentacao, name: Apresentação, color_tag: green}
        - {id: entrega, name: Entrega, color_tag: green}
      comercial:
        - {id: briefing, name: Briefing, color_tag: blue}
        - {id: levantamento, name: Levantamento, color_tag: cyan}
        - {id: estudo_preliminar, name: Estudo Preliminar, color_tag: purple}
        - {id: anteprojeto, name: Anteprojeto, color_tag: purple}
        - {id: aprovacao_condominio, name: Aprovação Condomínio, color_tag: red, description: "Aprovação junto ao condomínio ou shopping"}
        - {id: projeto_executivo, name: Projeto Executivo, color_tag: orange}
        - {id: detalhamento, name: Detalhamento, color_tag: orange}
        - {id: caderno_tecnico, name: Caderno Técnico, color_tag: yellow}
        - {id: apresentacao, name: Apresentação, color_tag: green}
        - {id: entrega, name: Entrega, color_tag: green}

  consultoria:
    name: Consultoria
    stages:
      - {id: briefing, name: Briefing, color_tag: blue}
      - {id: visita_tecnica, name: Visita Técnica, color_tag: cyan}
      - {id: relatorio, name: Relatório, color_tag: yellow}
      - {id: entrega, name: Entrega, color_tag: green}
`
