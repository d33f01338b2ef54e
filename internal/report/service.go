// Package report exports cached analysis results as spreadsheets.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/kiranshivaraju/agripay/internal/mlmodel"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

const sheet = "Results"

// ResultLister lists a farm's cached results for one model, newest first.
type ResultLister interface {
	ListByFarm(ctx context.Context, farmID uuid.UUID, modelID string) ([]*models.CachedResult, error)
}

type Service struct {
	results ResultLister
	logger  *slog.Logger
}

func NewService(results ResultLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{results: results, logger: logger}
}

// ResultsXLSX returns a workbook with one row per cached result. The fixed
// columns are followed by the model's summary fields.
func (s *Service) ResultsXLSX(ctx context.Context, farmID uuid.UUID, modelID string) ([]byte, error) {
	start := time.Now()

	model, err := mlmodel.Lookup(modelID)
	if err != nil {
		return nil, err
	}
	recs, err := s.results.ListByFarm(ctx, farmID, model.ID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Analyzed At", "Flight", "Image", "Job"}
	for _, fld := range model.Fields {
		headers = append(headers, fld.Label)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range recs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.AnalyzedAt.UTC().Format(time.DateTime))
		if r.FlightID != nil {
			write(2, r.FlightID.String())
		}
		write(3, r.ImageFilename)
		if r.JobID != nil {
			write(4, *r.JobID)
		}

		summary, err := model.Summarize(r.ResultData)
		if err != nil {
			s.logger.Warn("result payload not summarizable", "result_id", r.ID, "error", err)
			continue
		}
		for j, fld := range model.Fields {
			if v := summary[fld.Key]; v != nil {
				write(5+j, v)
			}
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "B", 38)
	_ = f.SetColWidth(sheet, "C", "C", 36)
	_ = f.SetColWidth(sheet, "D", "D", 38)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("results export written",
		"farm_id", farmID, "model_id", model.ID, "rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
