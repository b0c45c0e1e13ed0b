package service

import (
	"math"
	"testing"

	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func tasksOf(days ...float64) []model.TaskEstimate {
	tasks := make([]model.TaskEstimate, len(days))
	for i, d := range days {
		tasks[i] = model.TaskEstimate{Description: "task", ManDays: d}
	}
	return tasks
}

func TestComputeBuffer_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		days []float64
		want int
	}{
		{"empty", nil, 0},
		{"zero days", []float64{0, 0}, 0},
		{"scenario setup and build", []float64{2, 6}, 3},
		{"exact multiple", []float64{10}, 3},
		{"exact multiple split", []float64{7, 3}, 3},
		{"fractional", []float64{0.5}, 1},
		{"just above", []float64{10.1}, 4},
		{"large", []float64{100, 200, 33}, 100},
		{"overflowing sum", []float64{1e308, 1e308}, math.MaxInt32},
		{"above integer column", []float64{1e10}, math.MaxInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeBuffer(tasksOf(tt.days...)); got != tt.want {
				t.Errorf("ComputeBuffer(%v) = %d, want %d", tt.days, got, tt.want)
			}
		})
	}
}

func TestBufferPolicy_CustomRatio(t *testing.T) {
	p := NewBufferPolicy(0.5)
	if got := p.Compute(tasksOf(3)); got != 2 {
		t.Errorf("Compute = %d, want 2", got)
	}
	if got := NewBufferPolicy(-1).Ratio; got != DefaultBufferRatio {
		t.Errorf("negative ratio = %v, want default", got)
	}
	if got := NewBufferPolicy(0).Compute(tasksOf(50)); got != 0 {
		t.Errorf("zero ratio buffer = %d, want 0", got)
	}
}

// Buffer is the smallest integer not below sum * 0.3 (up to float rounding)
func TestComputeBufferProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	daysGen := gen.SliceOf(gen.Float64Range(0, 500))

	properties.Property("buffer is the ceiling of 30% of the total", prop.ForAll(
		func(days []float64) bool {
			var sum float64
			for _, d := range days {
				sum += d
			}
			raw := sum * DefaultBufferRatio
			got := float64(ComputeBuffer(tasksOf(days...)))
			return got >= raw-1e-6 && got < raw+1 && got == math.Trunc(got)
		},
		daysGen,
	))

	properties.Property("buffer never decreases when a task is added", prop.ForAll(
		func(days []float64, extra float64) bool {
			before := ComputeBuffer(tasksOf(days...))
			after := ComputeBuffer(tasksOf(append(days, extra)...))
			return after >= before
		},
		daysGen,
		gen.Float64Range(0, 100),
	))

	properties.Property("buffer of whole man-days matches integer ceiling", prop.ForAll(
		func(days []int) bool {
			sum := 0
			f := make([]float64, len(days))
			for i, d := range days {
				sum += d
				f[i] = float64(d)
			}
			want := (sum*3 + 9) / 10
			return ComputeBuffer(tasksOf(f...)) == want
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
