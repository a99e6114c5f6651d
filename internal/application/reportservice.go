package application

import (
	"context"
	"log/slog"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
	"github.com/jcnich/App-UAT-Tool/internal/domain/port/driven"
)

// ReportService builds the read-only projection of a finished-or-later run
// that the document-rendering collaborator consumes. It performs no mutation.
type ReportService struct {
	runs   driven.RunStore
	logger *slog.Logger
}

// NewReportService creates a ReportService with the required dependencies.
func NewReportService(runs driven.RunStore, logger *slog.Logger) *ReportService {
	return &ReportService{runs: runs, logger: logger}
}

// BuildRunReport assembles the report view for a run: app metadata, run
// sequence/ref/timestamps, the snapshot in frozen order with outcomes and
// attachments, and per-outcome counts. Runs still in draft or in progress
// have no report.
func (s *ReportService) BuildRunReport(ctx context.Context, runID int64) (model.RunReport, error) {
	detail, err := s.runs.GetRunDetail(ctx, runID)
	if err != nil {
		return model.RunReport{}, err
	}
	if detail == nil {
		return model.RunReport{}, &model.NotFoundError{Kind: "run", ID: runID}
	}

	if detail.Run.Status.ResultsMutable() {
		return model.RunReport{}, &model.ValidationError{
			Field:  "run",
			Reason: "report is available once the run is finished",
		}
	}

	report := model.RunReport{
		App:      detail.App,
		Run:      detail.Run,
		Sections: detail.Sections,
		Counts:   tallyOutcomes(detail.Sections),
	}

	s.logger.Debug("run report built", "run_id", runID, "sections", len(report.Sections))
	return report, nil
}

func tallyOutcomes(sections []model.ReportSection) model.OutcomeCounts {
	var counts model.OutcomeCounts
	for _, sec := range sections {
		for _, item := range sec.Items {
			switch item.Outcome {
			case model.OutcomePass:
				counts.Pass++
			case model.OutcomeFail:
				counts.Fail++
			case model.OutcomePartial:
				counts.Partial++
			case model.OutcomeNA:
				counts.NA++
			default:
				counts.Unset++
			}
		}
	}
	return counts
}
