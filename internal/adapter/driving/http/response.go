package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jcnich/App-UAT-Tool/internal/application"
	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes:
// validation problems are 400, missing entities 404, workflow conflicts
// (illegal transitions, incomplete finishes) 409, everything else 500.
// Only unexpected errors are logged; the rest are normal API outcomes.
func writeDomainError(logger *slog.Logger, w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	var nerr *model.NotFoundError
	var terr *model.InvalidTransitionError
	var ierr *model.IncompleteRunError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &nerr):
		writeError(w, http.StatusNotFound, nerr.Error())
	case errors.As(err, &terr):
		writeError(w, http.StatusConflict, terr.Error())
	case errors.As(err, &ierr):
		writeError(w, http.StatusConflict, ierr.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SectionResponse is the JSON representation of a template section.
type SectionResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// CriterionResponse is the JSON representation of a template criterion.
type CriterionResponse struct {
	ID        int64  `json:"id"`
	SectionID int64  `json:"section_id"`
	Text      string `json:"text"`
	SortOrder int    `json:"sort_order"`
}

// TemplateSectionResponse is a section with its criteria in display order.
type TemplateSectionResponse struct {
	SectionResponse
	Criteria []CriterionResponse `json:"criteria"`
}

// AppResponse is the JSON representation of an app under review.
type AppResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	OwnerEmail string `json:"owner_email"`
	Notes      string `json:"notes"`
	CreatedAt  string `json:"created_at"`
}

// RunResponse is the JSON representation of a review run.
type RunResponse struct {
	ID         int64  `json:"id"`
	Ref        string `json:"ref"`
	AppID      int64  `json:"app_id"`
	Seq        int    `json:"seq"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// RunSummaryResponse is a run with the progress counts the overview shows.
type RunSummaryResponse struct {
	RunResponse
	AppName  string `json:"app_name"`
	Answered int    `json:"answered"`
	Total    int    `json:"total"`
}

// ResultItemResponse is one snapshot criterion with its recorded result.
type ResultItemResponse struct {
	CriterionID int64  `json:"criterion_id"`
	Text        string `json:"text"`
	Outcome     string `json:"outcome"`
	Attachment  string `json:"attachment"`
}

// RunSectionResponse groups result items under the frozen section name.
type RunSectionResponse struct {
	Name  string               `json:"name"`
	Items []ResultItemResponse `json:"items"`
}

// RunDetailResponse is a run joined with its app and grouped results.
type RunDetailResponse struct {
	Run      RunResponse          `json:"run"`
	App      AppResponse          `json:"app"`
	Sections []RunSectionResponse `json:"sections"`
}

// OutcomeCountsResponse is the per-outcome tally in a run report.
type OutcomeCountsResponse struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Partial int `json:"partial"`
	NA      int `json:"na"`
	Unset   int `json:"unset"`
	Total   int `json:"total"`
}

// ReportResponse is the JSON representation of a run report.
type ReportResponse struct {
	App               AppResponse           `json:"app"`
	Run               RunResponse           `json:"run"`
	Sections          []RunSectionResponse  `json:"sections"`
	Counts            OutcomeCountsResponse `json:"counts"`
	SuggestedFilename string                `json:"suggested_filename"`
}

// ImportSummaryResponse is the JSON outcome of a CSV import.
type ImportSummaryResponse struct {
	BatchID           string             `json:"batch_id"`
	SectionsCreated   int                `json:"sections_created"`
	CriteriaAdded     int                `json:"criteria_added"`
	DuplicatesSkipped int                `json:"duplicates_skipped"`
	Rejected          []RowErrorResponse `json:"rejected"`
}

// RowErrorResponse is one rejected CSV row with its 1-based data row number.
type RowErrorResponse struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// PasteResponse is the JSON outcome of a bulk criteria paste.
type PasteResponse struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// ArchiveSummaryResponse is the JSON outcome of a bulk archive.
type ArchiveSummaryResponse struct {
	Archived int                    `json:"archived"`
	Failed   []ArchiveErrorResponse `json:"failed"`
}

// ArchiveErrorResponse is one run that could not be archived.
type ArchiveErrorResponse struct {
	RunID  int64  `json:"run_id"`
	Reason string `json:"reason"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// NameRequest is the JSON body for section create and rename.
type NameRequest struct {
	Name string `json:"name"`
}

// TextRequest is the JSON body for criterion create, edit, and paste.
type TextRequest struct {
	Text string `json:"text"`
}

// MoveRequest is the JSON body for section and criterion reordering.
type MoveRequest struct {
	Direction string `json:"direction"` // "up" or "down".
}

// IDsRequest is the JSON body for bulk criterion removal and bulk archive.
type IDsRequest struct {
	IDs []int64 `json:"ids"`
}

// CreateAppRequest is the JSON body for app registration.
type CreateAppRequest struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	OwnerEmail string `json:"owner_email"`
	Notes      string `json:"notes"`
}

// CreateRunRequest is the JSON body for run and re-review creation.
type CreateRunRequest struct {
	SectionIDs     []int64 `json:"section_ids,omitempty"`
	CarryFromRunID int64   `json:"carry_from_run_id,omitempty"`
}

// ResultRequest is the JSON body for recording a single result.
type ResultRequest struct {
	Outcome    string `json:"outcome"`
	Attachment string `json:"attachment"`
}

// SaveProgressRequest is the JSON body for a progress save batch.
type SaveProgressRequest struct {
	Results []ResultUpdateRequest `json:"results"`
}

// ResultUpdateRequest is one entry of a progress save batch. An empty outcome
// updates only the attachment.
type ResultUpdateRequest struct {
	CriterionID int64  `json:"criterion_id"`
	Outcome     string `json:"outcome"`
	Attachment  string `json:"attachment"`
}

// toSectionResponse converts a domain Section to its JSON representation.
func toSectionResponse(s model.Section) SectionResponse {
	return SectionResponse{ID: s.ID, Name: s.Name, SortOrder: s.SortOrder}
}

// toCriterionResponse converts a domain Criterion to its JSON representation.
func toCriterionResponse(c model.Criterion) CriterionResponse {
	return CriterionResponse{ID: c.ID, SectionID: c.SectionID, Text: c.Text, SortOrder: c.SortOrder}
}

// toTemplateSectionResponse converts a TemplateSection with its criteria.
func toTemplateSectionResponse(ts model.TemplateSection) TemplateSectionResponse {
	criteria := make([]CriterionResponse, 0, len(ts.Criteria))
	for _, c := range ts.Criteria {
		criteria = append(criteria, toCriterionResponse(c))
	}
	return TemplateSectionResponse{
		SectionResponse: toSectionResponse(ts.Section),
		Criteria:        criteria,
	}
}

// toAppResponse converts a domain App to its JSON representation.
func toAppResponse(a model.App) AppResponse {
	return AppResponse{
		ID:         a.ID,
		Name:       a.Name,
		ExternalID: a.ExternalID,
		OwnerEmail: a.OwnerEmail,
		Notes:      a.Notes,
		CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toRunResponse converts a domain ReviewRun to its JSON representation.
func toRunResponse(r model.ReviewRun) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		Ref:       r.Ref,
		AppID:     r.AppID,
		Seq:       r.Seq,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toRunSummaryResponse converts a RunSummary to its JSON representation.
func toRunSummaryResponse(s model.RunSummary) RunSummaryResponse {
	return RunSummaryResponse{
		RunResponse: toRunResponse(s.ReviewRun),
		AppName:     s.AppName,
		Answered:    s.Answered,
		Total:       s.Total,
	}
}

// toRunSectionResponses converts grouped report sections to their JSON shape.
func toRunSectionResponses(sections []model.ReportSection) []RunSectionResponse {
	out := make([]RunSectionResponse, 0, len(sections))
	for _, sec := range sections {
		items := make([]ResultItemResponse, 0, len(sec.Items))
		for _, item := range sec.Items {
			items = append(items, ResultItemResponse{
				CriterionID: item.CriterionID,
				Text:        item.Text,
				Outcome:     string(item.Outcome),
				Attachment:  item.Attachment,
			})
		}
		out = append(out, RunSectionResponse{Name: sec.Name, Items: items})
	}
	return out
}

// toRunDetailResponse converts a RunDetail to its JSON representation.
func toRunDetailResponse(d model.RunDetail) RunDetailResponse {
	return RunDetailResponse{
		Run:      toRunResponse(d.Run),
		App:      toAppResponse(d.App),
		Sections: toRunSectionResponses(d.Sections),
	}
}

// toReportResponse converts a RunReport to its JSON representation.
func toReportResponse(r model.RunReport) ReportResponse {
	return ReportResponse{
		App:      toAppResponse(r.App),
		Run:      toRunResponse(r.Run),
		Sections: toRunSectionResponses(r.Sections),
		Counts: OutcomeCountsResponse{
			Pass:    r.Counts.Pass,
			Fail:    r.Counts.Fail,
			Partial: r.Counts.Partial,
			NA:      r.Counts.NA,
			Unset:   r.Counts.Unset,
			Total:   r.Counts.Total(),
		},
		SuggestedFilename: r.SuggestedFilename(),
	}
}

// toImportSummaryResponse converts an ImportSummary to its JSON representation.
func toImportSummaryResponse(s application.ImportSummary) ImportSummaryResponse {
	rejected := make([]RowErrorResponse, 0, len(s.Rejected))
	for _, re := range s.Rejected {
		rejected = append(rejected, RowErrorResponse{Line: re.Line, Reason: re.Reason})
	}
	return ImportSummaryResponse{
		BatchID:           s.BatchID,
		SectionsCreated:   s.SectionsCreated,
		CriteriaAdded:     s.CriteriaAdded,
		DuplicatesSkipped: s.DuplicatesSkipped,
		Rejected:          rejected,
	}
}

// toArchiveSummaryResponse converts an ArchiveSummary to its JSON representation.
func toArchiveSummaryResponse(s application.ArchiveSummary) ArchiveSummaryResponse {
	failed := make([]ArchiveErrorResponse, 0, len(s.Failed))
	for _, f := range s.Failed {
		failed = append(failed, ArchiveErrorResponse{RunID: f.RunID, Reason: f.Reason})
	}
	return ArchiveSummaryResponse{Archived: s.Archived, Failed: failed}
}
