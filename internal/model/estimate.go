package model

import "strings"

// EstimationType é o modelo de precificação da cotação
type EstimationType string

const (
	EstimationFixedPrice      EstimationType = "Fixed Price"
	EstimationTimeAndMaterial EstimationType = "Time & Material"
)

// MaxScopeLength é o tamanho máximo do escopo em caracteres
const MaxScopeLength = 10000

// Valid reports whether t is one of the recognized variants.
func (t EstimationType) Valid() bool {
	return t == EstimationFixedPrice || t == EstimationTimeAndMaterial
}

// ProjectScope é a entrada do fluxo de criação de cotação
type ProjectScope struct {
	Scope          string                 `json:"scope"`
	Platforms      []string               `json:"platforms"`
	EstimationType EstimationType         `json:"estimation_type"`
	Attributes     map[string]interface{} `json:"dynamic_attributes,omitempty"`
}

// Validate checks the scope shape and returns every violation found.
func (s ProjectScope) Validate() error {
	verr := &ValidationError{}

	if strings.TrimSpace(s.Scope) == "" {
		verr.Add("scope", "scope is required")
	} else if len([]rune(s.Scope)) > MaxScopeLength {
		verr.Add("scope", "scope must be at most 10000 characters")
	}

	if len(s.Platforms) == 0 {
		verr.Add("platforms", "at least one platform is required")
	}
	for _, p := range s.Platforms {
		if strings.TrimSpace(p) == "" {
			verr.Add("platforms", "platform id must not be empty")
			break
		}
	}

	if !s.EstimationType.Valid() {
		verr.Add("estimation_type", `estimation_type must be "Fixed Price" or "Time & Material"`)
	}

	return verr.OrNil()
}

// TaskEstimate é uma tarefa estimada pelo provedor
type TaskEstimate struct {
	Description string  `json:"description"`
	ManDays     float64 `json:"man_days"`
}

// ProjectAnalysis é o resultado da estimativa: tarefas em ordem e o raciocínio do modelo
type ProjectAnalysis struct {
	Tasks     []TaskEstimate `json:"tasks"`
	Reasoning string         `json:"reasoning"`
}

// TotalManDays soma os man-days de todas as tarefas
func (a ProjectAnalysis) TotalManDays() float64 {
	var total float64
	for _, t := range a.Tasks {
		total += t.ManDays
	}
	return total
}
