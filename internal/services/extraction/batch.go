package extraction

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ternarybob/portalx/internal/models"
	"golang.org/x/time/rate"
)

// BatchEntry is the outcome for one patient of a batch; exactly one of Result
// and Err is set
type BatchEntry struct {
	Query  models.PatientQuery
	Result *models.ExtractionResult
	Err    error
}

// MarshalJSON renders the error as its message and the failed stage, if any
func (e BatchEntry) MarshalJSON() ([]byte, error) {
	out := struct {
		Query  models.PatientQuery      `json:"query"`
		Result *models.ExtractionResult `json:"result,omitempty"`
		Error  string                   `json:"error,omitempty"`
		Stage  models.Stage             `json:"failedStage,omitempty"`
	}{Query: e.Query, Result: e.Result}
	if e.Err != nil {
		out.Error = e.Err.Error()
		out.Stage, _ = models.FailedStage(e.Err)
	}
	return json.Marshal(out)
}

// BatchRequest is a list of patients extracted over one session
type BatchRequest struct {
	Request
	Queries []models.PatientQuery
}

// ExtractBatch extracts every query in order with a politeness delay between
// patients. One patient's fatal error is recorded on its entry and the batch
// moves on; only cancellation of ctx ends it early.
func (s *Service) ExtractBatch(ctx context.Context, req BatchRequest) []BatchEntry {
	runID := uuid.New().String()
	logger := s.logger.WithCorrelationId(runID)
	logger.Info().Int("patients", len(req.Queries)).Msg("Starting batch")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if d := s.config.PatientDelay.Duration; d > 0 {
		limiter = rate.NewLimiter(rate.Every(d), 1)
	}

	entries := make([]BatchEntry, 0, len(req.Queries))
	failed := 0
	for i, query := range req.Queries {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range req.Queries[i:] {
				entries = append(entries, BatchEntry{Query: rest, Err: ctx.Err()})
			}
			failed += len(req.Queries) - i
			break
		}

		one := req.Request
		one.Query = query
		result, err := s.Extract(ctx, one)
		if err != nil {
			failed++
			logger.Warn().Err(err).Int("index", i).Str("patient", query.FullName()).Msg("Batch entry failed")
		}
		entries = append(entries, BatchEntry{Query: query, Result: result, Err: err})
	}

	logger.Info().Int("patients", len(req.Queries)).Int("failed", failed).Msg("Batch complete")
	return entries
}
