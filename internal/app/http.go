package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/geo"
	"kerrokantasi/api/internal/store"
)

type HTTPOptions struct {
	CORSOrigin     string
	AnonWriteRate  float64
	AnonWriteBurst int
	Audit          *audit.Middleware
	Logger         *slog.Logger
}

type HTTPServer struct {
	service *Service
	opts    HTTPOptions
	limiter *ipLimiter
	logger  *slog.Logger
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	logger := opts.Logger
	if logger == nil {
		logger = service.logger
	}
	return &HTTPServer{
		service: service,
		opts:    opts,
		limiter: newIPLimiter(opts.AnonWriteRate, opts.AnonWriteBurst),
		logger:  logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(s.withRequestLog)
	if s.opts.Audit != nil {
		r.Use(s.opts.Audit.Handler)
	}
	r.Use(s.withActor)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Post("/session/logout", s.handleLogout)
		r.Get("/users/me", s.handleCurrentUser)

		r.Route("/hearing", func(r chi.Router) {
			r.Get("/", s.handleListHearings)
			r.Post("/", s.handleCreateHearing)
			r.Route("/{hearingID}", func(r chi.Router) {
				r.Get("/", s.handleGetHearing)
				r.Put("/", s.handleUpdateHearing)
				r.Patch("/", s.handleUpdateHearing)
				r.Delete("/", s.handleDeleteHearing)
				r.Post("/follow", s.handleFollowHearing)
				r.Post("/unfollow", s.handleUnfollowHearing)
				r.Post("/compact_sections", s.handleCompactSections)
				r.Get("/sections", s.handleListSections)
				r.Delete("/sections/{sectionID}", s.handleDeleteSection)
				r.Get("/sections/{sectionID}/comments", s.handleListSectionComments)
				r.With(s.throttleAnonymous).Post("/sections/{sectionID}/comments", s.handleCreateComment)
			})
		})

		r.Route("/comment", func(r chi.Router) {
			r.Get("/", s.handleListComments)
			r.Route("/{commentID}", func(r chi.Router) {
				r.Get("/", s.handleGetComment)
				r.Put("/", s.handleUpdateComment)
				r.Patch("/", s.handleUpdateComment)
				r.Delete("/", s.handleDeleteComment)
				r.With(s.throttleAnonymous).Post("/vote", s.handleVote)
				r.Post("/unvote", s.handleUnvote)
				r.Post("/flag", s.handleFlag)
				r.Get("/revisions", s.handleRevisions)
			})
		})

		r.Post("/file", s.handleUploadFile)
		r.Get("/download/{kind}/{id}", s.handleDownload)

		r.Get("/label", s.handleListLabels)
		r.Post("/label", s.handleCreateLabel)
		r.Get("/project", s.handleListProjects)
		r.Get("/contact_person", s.handleListContactPersons)
		r.Post("/contact_person", s.handleCreateContactPerson)
		r.Put("/contact_person/{id}", s.handleUpdateContactPerson)
		r.Get("/organization", s.handleListOrganizations)
		r.Get("/search", s.handleSearch)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), actorFrom(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.CurrentUser(r.Context(), actorFrom(r))
	s.respond(w, r, http.StatusOK, user, err)
}

func (s *HTTPServer) handleListHearings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := HearingListParams{
		Title:          query.Get("title"),
		Organization:   query.Get("organization"),
		Following:      isTrue(query.Get("following")),
		IncludeGeoJSON: query.Get("include") == "geojson",
		Ordering:       query.Get("ordering"),
		Open:           parseBool(query.Get("open")),
		Published:      parseBool(query.Get("published")),
	}
	var err error
	if params.Limit, params.Offset, err = pagination(query.Get("limit"), query.Get("offset")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	for _, raw := range query["label"] {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				s.writeServiceError(w, r, errValidation("label must be a list of ids", map[string]any{"field": "label"}))
				return
			}
			params.Labels = append(params.Labels, id)
		}
	}
	if raw := query.Get("bbox"); raw != "" {
		bound, err := geo.ParseBBox(raw)
		if err != nil {
			s.writeServiceError(w, r, errValidation(err.Error(), map[string]any{"field": "bbox"}))
			return
		}
		params.BBox = &store.BBox{MinLon: bound.Min.Lon(), MinLat: bound.Min.Lat(), MaxLon: bound.Max.Lon(), MaxLat: bound.Max.Lat()}
	}
	hearings, err := s.service.ListHearings(r.Context(), actorFrom(r), params)
	s.respond(w, r, http.StatusOK, hearings, err)
}

func (s *HTTPServer) handleCreateHearing(w http.ResponseWriter, r *http.Request) {
	var input HearingInput
	if !s.decode(w, r, &input) {
		return
	}
	hearing, err := s.service.CreateHearing(r.Context(), actorFrom(r), input)
	s.respond(w, r, http.StatusCreated, hearing, err)
}

func (s *HTTPServer) handleGetHearing(w http.ResponseWriter, r *http.Request) {
	hearing, err := s.service.GetHearing(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"), r.URL.Query().Get("preview"))
	s.respond(w, r, http.StatusOK, hearing, err)
}

func (s *HTTPServer) handleUpdateHearing(w http.ResponseWriter, r *http.Request) {
	var input HearingInput
	if !s.decode(w, r, &input) {
		return
	}
	partial := r.Method == http.MethodPatch
	hearing, err := s.service.UpdateHearing(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"), input, partial)
	s.respond(w, r, http.StatusOK, hearing, err)
}

func (s *HTTPServer) handleDeleteHearing(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteHearing(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleFollowHearing(w http.ResponseWriter, r *http.Request) {
	err := s.service.FollowHearing(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"))
	s.respond(w, r, http.StatusCreated, map[string]any{"status": "You follow a hearing now"}, err)
}

func (s *HTTPServer) handleUnfollowHearing(w http.ResponseWriter, r *http.Request) {
	err := s.service.UnfollowHearing(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleCompactSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.service.CompactSections(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"))
	s.respond(w, r, http.StatusOK, sections, err)
}

func (s *HTTPServer) handleListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.service.ListSections(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"), r.URL.Query().Get("preview"))
	s.respond(w, r, http.StatusOK, sections, err)
}

// Sections are removed by omitting them from a hearing update.
func (s *HTTPServer) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	s.writeServiceError(w, r, errUnsupportedOperation("Sections are deleted through the hearing document"))
}

func (s *HTTPServer) handleListSectionComments(w http.ResponseWriter, r *http.Request) {
	params, err := commentListParams(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	comments, err := s.service.ListSectionComments(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"), chi.URLParam(r, "sectionID"), params)
	s.respond(w, r, http.StatusOK, comments, err)
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var input CommentInput
	if !s.decode(w, r, &input) {
		return
	}
	comment, err := s.service.CreateComment(r.Context(), actorFrom(r), chi.URLParam(r, "hearingID"), chi.URLParam(r, "sectionID"), input)
	s.respond(w, r, http.StatusCreated, comment, err)
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	params, err := commentListParams(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	comments, err := s.service.ListComments(r.Context(), actorFrom(r), params)
	s.respond(w, r, http.StatusOK, comments, err)
}

func commentListParams(r *http.Request) (CommentListParams, error) {
	query := r.URL.Query()
	params := CommentListParams{
		HearingID:   query.Get("hearing"),
		SectionID:   query.Get("section"),
		CreatedByMe: query.Get("created_by") == "me",
		Pinned:      parseBool(query.Get("pinned")),
		Ordering:    query.Get("ordering"),
	}
	var err error
	if params.Limit, params.Offset, err = pagination(query.Get("limit"), query.Get("offset")); err != nil {
		return params, err
	}
	if params.ParentID, err = optionalInt(query.Get("comment"), "comment"); err != nil {
		return params, err
	}
	if params.LabelID, err = optionalInt(query.Get("label"), "label"); err != nil {
		return params, err
	}
	return params, nil
}

func (s *HTTPServer) handleGetComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	comment, err := s.service.GetComment(r.Context(), actorFrom(r), id)
	s.respond(w, r, http.StatusOK, comment, err)
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	var input CommentInput
	if !s.decode(w, r, &input) {
		return
	}
	comment, err := s.service.UpdateComment(r.Context(), actorFrom(r), id, input)
	s.respond(w, r, http.StatusOK, comment, err)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"delete_reason"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	err := s.service.DeleteComment(r.Context(), actorFrom(r), id, body.Reason)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	result, err := s.service.Vote(r.Context(), actorFrom(r), id)
	status := http.StatusOK
	if result.Registered {
		status = http.StatusCreated
	}
	s.respond(w, r, status, map[string]any{"status": "Vote has been added", "n_votes": result.NVotes}, err)
}

func (s *HTTPServer) handleUnvote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	_, err := s.service.Unvote(r.Context(), actorFrom(r), id)
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	err := s.service.FlagComment(r.Context(), actorFrom(r), id)
	s.respond(w, r, http.StatusOK, map[string]any{"status": "comment flagged"}, err)
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.commentID(w, r)
	if !ok {
		return
	}
	revisions, err := s.service.CommentRevisions(r.Context(), actorFrom(r), id)
	s.respond(w, r, http.StatusOK, revisions, err)
}

func (s *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	var upload FileUpload
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		limit := s.service.config.MaxFileSize
		if limit <= 0 {
			limit = 70 << 20
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, "invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeServiceError(w, r, errValidation("A file is required", map[string]any{"field": "file"}))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, "invalid multipart body", nil)
			return
		}
		upload.Data = data
		upload.ContentType = header.Header.Get("Content-Type")
		upload.Title = formText(r.FormValue("title"))
		upload.Caption = formText(r.FormValue("caption"))
	} else {
		var body struct {
			File    string          `json:"file"`
			Title   json.RawMessage `json:"title"`
			Caption json.RawMessage `json:"caption"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		upload.DataURL = body.File
		upload.Title = body.Title
		upload.Caption = body.Caption
		if upload.DataURL == "" {
			s.writeServiceError(w, r, errValidation("A file is required", map[string]any{"field": "file"}))
			return
		}
	}
	file, err := s.service.UploadFile(r.Context(), actorFrom(r), upload)
	s.respond(w, r, http.StatusCreated, file, err)
}

// formText accepts a translation object or a bare string from a form field.
func formText(value string) json.RawMessage {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "{") {
		return json.RawMessage(value)
	}
	encoded, _ := json.Marshal(value)
	return encoded
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	download, err := s.service.Download(r.Context(), actorFrom(r), chi.URLParam(r, "kind"), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", download.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(download.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", download.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(download.Data)
}

func (s *HTTPServer) handleListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.service.ListLabels(r.Context())
	s.respond(w, r, http.StatusOK, labels, err)
}

func (s *HTTPServer) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var input LabelInput
	if !s.decode(w, r, &input) {
		return
	}
	label, err := s.service.CreateLabel(r.Context(), actorFrom(r), input)
	s.respond(w, r, http.StatusCreated, label, err)
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context())
	s.respond(w, r, http.StatusOK, projects, err)
}

func (s *HTTPServer) handleListContactPersons(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.service.ListContactPersons(r.Context(), actorFrom(r))
	s.respond(w, r, http.StatusOK, contacts, err)
}

func (s *HTTPServer) handleCreateContactPerson(w http.ResponseWriter, r *http.Request) {
	var input ContactPersonInput
	if !s.decode(w, r, &input) {
		return
	}
	contact, err := s.service.CreateContactPerson(r.Context(), actorFrom(r), input)
	s.respond(w, r, http.StatusCreated, contact, err)
}

func (s *HTTPServer) handleUpdateContactPerson(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	var input ContactPersonInput
	if !s.decode(w, r, &input) {
		return
	}
	contact, err := s.service.UpdateContactPerson(r.Context(), actorFrom(r), id, input)
	s.respond(w, r, http.StatusOK, contact, err)
}

func (s *HTTPServer) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.service.ListOrganizations(r.Context())
	s.respond(w, r, http.StatusOK, orgs, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset, err := pagination(query.Get("limit"), query.Get("offset"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	results, err := s.service.Search(r.Context(), actorFrom(r), query.Get("q"), query.Get("type"), query.Get("hearing"), query.Get("lang"), limit, offset)
	s.respond(w, r, http.StatusOK, results, err)
}

func (s *HTTPServer) commentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "commentID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return false
	}
	return true
}

// respond writes payload with status, or the mapped error when err is set.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", requestIDFrom(r.Context()), "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func parseBool(value string) *bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		v := true
		return &v
	case "false", "0", "no":
		v := false
		return &v
	}
	return nil
}

func isTrue(value string) bool {
	v := parseBool(value)
	return v != nil && *v
}

func optionalInt(value, field string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, errValidation(field+" must be an integer", map[string]any{"field": field})
	}
	return &n, nil
}

func pagination(limitRaw, offsetRaw string) (limit, offset int, err error) {
	if limitRaw != "" {
		if limit, err = strconv.Atoi(limitRaw); err != nil || limit < 0 {
			return 0, 0, errValidation("limit must be a non-negative integer", map[string]any{"field": "limit"})
		}
	}
	if offsetRaw != "" {
		if offset, err = strconv.Atoi(offsetRaw); err != nil || offset < 0 {
			return 0, 0, errValidation("offset must be a non-negative integer", map[string]any{"field": "offset"})
		}
	}
	return limit, offset, nil
}
