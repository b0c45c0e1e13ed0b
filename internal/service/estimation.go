package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/model"
)

// Submitter envia requisições ao provedor passando pela fila do dispatcher
type Submitter interface {
	Submit(ctx context.Context, req model.ProviderRequest) (*model.ProviderResponse, error)
}

const systemPrompt = `You are a senior software estimator. Break the project described by the user into concrete implementation tasks and estimate each task in man-days.

Respond ONLY with a JSON object in this exact shape:
{"tasks": [{"description": "<task description>", "man_days": <non-negative number>}], "reasoning": "<short explanation of the estimate>"}

Rules:
- "tasks" must contain at least one task, in execution order.
- "description" must be a non-empty string.
- "man_days" must be a number, never a string.
- Do not wrap the JSON in markdown and do not add any text outside it.`

// analysisSchema é o JSON schema estrito pedido ao provedor
var analysisSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"tasks": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"description": map[string]interface{}{"type": "string"},
					"man_days":    map[string]interface{}{"type": "number", "minimum": 0},
				},
				"required":             []string{"description", "man_days"},
				"additionalProperties": false,
			},
		},
		"reasoning": map[string]interface{}{"type": "string"},
	},
	"required":             []string{"tasks", "reasoning"},
	"additionalProperties": false,
}

// EstimationService monta o prompt, envia ao provedor e valida as tarefas retornadas
type EstimationService struct {
	dispatcher Submitter
}

// NewEstimationService cria o serviço de estimativa
func NewEstimationService(dispatcher Submitter) *EstimationService {
	return &EstimationService{dispatcher: dispatcher}
}

// Analyze estima o escopo informado. Qualquer falha é devolvida envolvendo
// model.ErrEstimationFailed junto com a causa original.
func (s *EstimationService) Analyze(ctx context.Context, scope model.ProjectScope) (*model.ProjectAnalysis, error) {
	log := logger.Get(ctx)

	userPrompt, err := buildUserPrompt(scope)
	if err != nil {
		return nil, estimationFailure(err)
	}

	req := model.ProviderRequest{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: systemPrompt},
			{Role: model.RoleUser, Content: userPrompt},
		},
		ResponseFormat: &model.ResponseFormat{
			Type: "json_schema",
			JSONSchema: model.JSONSchema{
				Name:   "project_analysis",
				Strict: true,
				Schema: analysisSchema,
			},
		},
	}

	resp, err := s.dispatcher.Submit(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("Provedor de estimativa não respondeu")
		return nil, estimationFailure(err)
	}

	analysis, err := ParseAnalysis(resp.Result)
	if err != nil {
		log.Warn().
			Err(err).
			Int("result_length", len(resp.Result)).
			Msg("Resposta do provedor fora do formato esperado")
		return nil, estimationFailure(err)
	}

	log.Info().
		Int("tasks", len(analysis.Tasks)).
		Float64("total_man_days", analysis.TotalManDays()).
		Msg("Estimativa recebida")

	return analysis, nil
}

func estimationFailure(cause error) error {
	return fmt.Errorf("%w: %w", model.ErrEstimationFailed, cause)
}

func buildUserPrompt(scope model.ProjectScope) (string, error) {
	attrs := "null"
	if scope.Attributes != nil {
		raw, err := json.Marshal(scope.Attributes)
		if err != nil {
			return "", fmt.Errorf("serializar atributos: %w", err)
		}
		attrs = string(raw)
	}

	var b strings.Builder
	b.WriteString("Project scope:\n")
	b.WriteString(scope.Scope)
	b.WriteString("\n\nTarget platforms: ")
	b.WriteString(strings.Join(scope.Platforms, ", "))
	b.WriteString("\nEstimation type: ")
	b.WriteString(string(scope.EstimationType))
	b.WriteString("\nAdditional attributes: ")
	b.WriteString(attrs)
	return b.String(), nil
}

// Erros de formato da resposta
var (
	errNoJSONObject = errors.New("nenhum objeto JSON encontrado na resposta")
	errMissingTasks = errors.New("campo tasks ausente")
	errInvalidTask  = errors.New("tarefa inválida")
)

const (
	// maxTaskManDays é o maior valor aceito pela coluna man_days NUMERIC(10,2)
	maxTaskManDays = 99999999.99
	// maxTotalManDays mantém o buffer dentro da coluna INTEGER
	maxTotalManDays = 1e9
)

type rawAnalysis struct {
	Tasks     *[]rawTask `json:"tasks"`
	Reasoning string     `json:"reasoning"`
}

type rawTask struct {
	Description *string         `json:"description"`
	ManDays     json.RawMessage `json:"man_days"`
}

// ParseAnalysis extrai o objeto JSON do texto do provedor, removendo cercas
// markdown, e valida as tarefas.
func ParseAnalysis(text string) (*model.ProjectAnalysis, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidResponse, err)
	}
	if raw.Tasks == nil {
		return nil, errMissingTasks
	}
	if len(*raw.Tasks) == 0 {
		return nil, fmt.Errorf("%w: lista vazia", errMissingTasks)
	}

	tasks := make([]model.TaskEstimate, 0, len(*raw.Tasks))
	var total float64
	for i, t := range *raw.Tasks {
		if t.Description == nil || strings.TrimSpace(*t.Description) == "" {
			return nil, fmt.Errorf("%w: tasks[%d].description vazio", errInvalidTask, i)
		}
		manDays, err := parseManDays(t.ManDays)
		if err != nil {
			return nil, fmt.Errorf("%w: tasks[%d].man_days %v", errInvalidTask, i, err)
		}
		total += manDays
		if total > maxTotalManDays {
			return nil, fmt.Errorf("%w: soma de man_days acima de %.0f", errInvalidTask, maxTotalManDays)
		}
		tasks = append(tasks, model.TaskEstimate{
			Description: strings.TrimSpace(*t.Description),
			ManDays:     manDays,
		})
	}

	return &model.ProjectAnalysis{Tasks: tasks, Reasoning: raw.Reasoning}, nil
}

func parseManDays(raw json.RawMessage) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, errors.New("ausente")
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.New("não numérico")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("não finito")
	}
	if v < 0 {
		return 0, errors.New("negativo")
	}
	if v > maxTaskManDays {
		return 0, errors.New("acima do limite")
	}
	return v, nil
}

// extractJSONObject remove as cercas ``` e recorta do primeiro '{' ao último '}'
func extractJSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// Descarta a tag de linguagem (```json)
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}
