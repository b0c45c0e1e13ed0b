package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Cotação"
	tasksSheet   = "Tarefas"
)

// ExcelGenerator gera a planilha de uma cotação
type ExcelGenerator struct{}

// NewExcelGenerator cria um novo gerador de Excel
func NewExcelGenerator() *ExcelGenerator {
	return &ExcelGenerator{}
}

// Generate gera o arquivo com o resumo da cotação e a tabela de tarefas
func (g *ExcelGenerator) Generate(q *model.Quotation) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	// Renomeia a sheet padrão
	defaultSheet := f.GetSheetName(0)
	if err := f.SetSheetName(defaultSheet, summarySheet); err != nil {
		return nil, fmt.Errorf("renomear sheet: %w", err)
	}
	if _, err := f.NewSheet(tasksSheet); err != nil {
		return nil, fmt.Errorf("criar sheet de tarefas: %w", err)
	}

	headerStyle, err := g.headerStyle(f)
	if err != nil {
		return nil, fmt.Errorf("criar estilo: %w", err)
	}

	if err := g.writeSummary(f, q, headerStyle); err != nil {
		return nil, fmt.Errorf("escrever resumo: %w", err)
	}
	if err := g.writeTasks(f, q, headerStyle); err != nil {
		return nil, fmt.Errorf("escrever tarefas: %w", err)
	}

	// Escreve para buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("escrever buffer: %w", err)
	}

	return buf, nil
}

// headerStyle cria o estilo do cabeçalho
func (g *ExcelGenerator) headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:  true,
			Size:  11,
			Color: "FFFFFF",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"4472C4"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
}

func (g *ExcelGenerator) writeSummary(f *excelize.File, q *model.Quotation, style int) error {
	total := q.TotalManDays()
	rows := [][]interface{}{
		{"ID", q.ID},
		{"Tipo de estimativa", string(q.EstimationType)},
		{"Plataformas", strings.Join(platformNames(q.Platforms), ", ")},
		{"Escopo", q.Scope},
		{"Total (man-days)", total},
		{"Buffer (man-days)", q.Buffer},
		{"Total com buffer", total + float64(q.Buffer)},
		{"Criada em", q.CreatedAt.Format("2006-01-02 15:04")},
		{"Raciocínio", q.Reasoning()},
	}

	for i, row := range rows {
		label, _ := excelize.CoordinatesToCellName(1, i+1)
		value, _ := excelize.CoordinatesToCellName(2, i+1)
		if err := f.SetCellValue(summarySheet, label, row[0]); err != nil {
			return err
		}
		if err := f.SetCellStyle(summarySheet, label, label, style); err != nil {
			return err
		}
		if err := f.SetCellValue(summarySheet, value, row[1]); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "B", "B", 80)
}

func (g *ExcelGenerator) writeTasks(f *excelize.File, q *model.Quotation, style int) error {
	headers := []string{"#", "Tarefa", "Man-days"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(tasksSheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(tasksSheet, cell, cell, style); err != nil {
			return err
		}
	}

	for i, task := range q.Tasks {
		row := i + 2 // Linha 1 é header
		values := []interface{}{i + 1, task.Description, nil}
		if task.ManDays != nil {
			values[2] = *task.ManDays
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(tasksSheet, cell, v); err != nil {
				return err
			}
		}
	}

	// Linha de total
	totalRow := len(q.Tasks) + 2
	label, _ := excelize.CoordinatesToCellName(2, totalRow)
	sum, _ := excelize.CoordinatesToCellName(3, totalRow)
	if err := f.SetCellValue(tasksSheet, label, "Total"); err != nil {
		return err
	}
	if len(q.Tasks) > 0 {
		if err := f.SetCellFormula(tasksSheet, sum, fmt.Sprintf("SUM(C2:C%d)", totalRow-1)); err != nil {
			return err
		}
	} else if err := f.SetCellValue(tasksSheet, sum, 0); err != nil {
		return err
	}

	if err := f.SetColWidth(tasksSheet, "A", "A", 6); err != nil {
		return err
	}
	if err := f.SetColWidth(tasksSheet, "B", "B", 70); err != nil {
		return err
	}
	return f.SetColWidth(tasksSheet, "C", "C", 12)
}

func platformNames(platforms []model.Platform) []string {
	names := make([]string, 0, len(platforms))
	for _, p := range platforms {
		if p.Name != "" {
			names = append(names, p.Name)
		} else {
			names = append(names, p.ID)
		}
	}
	return names
}
