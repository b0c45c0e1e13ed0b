package service

import (
	"math"

	"github.com/cleberrangel/quotation-api/internal/model"
)

// DefaultBufferRatio é a fração padrão do total de man-days reservada como buffer
const DefaultBufferRatio = 0.3

// bufferEpsilon absorve o erro de ponto flutuante do produto (10 * 0.3 = 3.0000000000000004)
const bufferEpsilon = 1e-9

// BufferPolicy calcula o buffer de contingência de uma cotação
type BufferPolicy struct {
	Ratio float64
}

// NewBufferPolicy cria a política; razão negativa cai no padrão
func NewBufferPolicy(ratio float64) BufferPolicy {
	if ratio < 0 || math.IsNaN(ratio) {
		ratio = DefaultBufferRatio
	}
	return BufferPolicy{Ratio: ratio}
}

// Compute returns ceil(sum(man_days) * Ratio). An empty task list yields 0.
func (p BufferPolicy) Compute(tasks []model.TaskEstimate) int {
	var total float64
	for _, t := range tasks {
		total += t.ManDays
	}
	return bufferFor(total, p.Ratio)
}

// ComputeBuffer aplica a razão padrão de 30%
func ComputeBuffer(tasks []model.TaskEstimate) int {
	return BufferPolicy{Ratio: DefaultBufferRatio}.Compute(tasks)
}

// maxBuffer é o limite da coluna buffer INTEGER
const maxBuffer = math.MaxInt32

func bufferFor(total, ratio float64) int {
	raw := total * ratio
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	c := math.Ceil(raw - bufferEpsilon)
	if c >= maxBuffer {
		return maxBuffer
	}
	return int(c)
}
