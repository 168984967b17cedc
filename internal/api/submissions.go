package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-cli/internal/fetcher"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
)

// maxUploadBytes bounds batch file uploads.
const maxUploadBytes = 32 << 20

// submissionView is the API shape for a submission, with derived per-stage
// progress alongside the raw status.
type submissionView struct {
	*model.Submission
	Progress model.StageProgress `json:"progress"`
}

func viewOf(sub *model.Submission) submissionView {
	return submissionView{Submission: sub, Progress: sub.Progress()}
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "empty submission")
		return
	}

	npi, _ := payload["npi"].(string)

	sub, err := s.store.CreateSubmission(r.Context(), model.SourceForm, npi, payload)
	if err != nil {
		zap.L().Error("create submission", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create submission")
		return
	}

	s.processAsync(sub.ID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"submission_id": sub.ID,
		"status":        sub.Status,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return
	}

	sub, err := s.store.GetSubmission(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		zap.L().Error("get submission", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	filter := store.SubmissionFilter{
		Status: model.SubmissionStatus(r.URL.Query().Get("status")),
		NPI:    r.URL.Query().Get("npi"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	subs, err := s.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		zap.L().Error("list submissions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	views := make([]submissionView, len(subs))
	for i := range subs {
		views[i] = viewOf(&subs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": views, "count": len(views)})
}

// handleBatchUpload accepts a multipart CSV upload, creates one submission
// per row, and processes them in the background with bounded concurrency.
// Rows without a recognizable NPI column value still become submissions;
// the pipeline fails them individually.
func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(r.Context(), file, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	header, ok := <-headerCh
	if !ok {
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}
	mapper := fetcher.NewRowMapper(header)
	if !mapper.HasNPIColumn() {
		writeError(w, http.StatusBadRequest, "no NPI column found in header")
		return
	}

	batchID := uuid.NewString()
	var ids []int64
	for row := range rowCh {
		npi, payload := mapper.Map(row)
		if len(payload) == 0 {
			continue
		}
		payload["batch_id"] = batchID

		sub, err := s.store.CreateSubmission(r.Context(), model.SourceCSV, npi, payload)
		if err != nil {
			zap.L().Error("create batch submission", zap.String("batch_id", batchID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not create submission")
			return
		}
		ids = append(ids, sub.ID)
	}
	if err := <-errCh; err != nil {
		writeError(w, http.StatusBadRequest, "could not parse file")
		return
	}

	go s.processBatch(batchID, ids)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":       batchID,
		"submission_ids": ids,
		"accepted":       len(ids),
	})
}

func (s *Server) processBatch(batchID string, ids []int64) {
	g, ctx := errgroup.WithContext(s.background)
	g.SetLimit(s.batchCfg.MaxConcurrentSubmissions)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.processor.Process(ctx, id); err != nil {
				zap.L().Error("batch submission failed",
					zap.String("batch_id", batchID),
					zap.Int64("submission_id", id),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	zap.L().Info("batch complete", zap.String("batch_id", batchID), zap.Int("count", len(ids)))
}

func (s *Server) processAsync(id int64) {
	go func() {
		if err := s.processor.Process(s.background, id); err != nil {
			zap.L().Error("submission processing failed",
				zap.Int64("submission_id", id),
				zap.Error(err))
		}
	}()
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
