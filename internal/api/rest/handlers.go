package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/store"
	"github.com/clintrovert/praxis/pkg/types"
)

// WorkflowStarter launches the backfill workflow for an installation. The
// Temporal client implements it.
type WorkflowStarter interface {
	StartBackfill(ctx context.Context, installationID int64, jiraHost string, startTime time.Time) (string, error)
}

// Handler handles REST API requests.
type Handler struct {
	store   store.Store
	starter WorkflowStarter
	logger  *zap.Logger
}

// NewHandler creates a new REST handler.
func NewHandler(st store.Store, starter WorkflowStarter, logger *zap.Logger) *Handler {
	return &Handler{
		store:   st,
		starter: starter,
		logger:  logger,
	}
}

// StartSyncRequest asks for a backfill of one installation. SyncType "full"
// restarts from the beginning; anything else resumes from stored cursors.
type StartSyncRequest struct {
	JiraHost string `json:"jira_host"`
	SyncType string `json:"sync_type"`
}

// StartSyncResponse reports the workflow driving the backfill.
type StartSyncResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// SyncStatusResponse is the installation-level backfill status.
type SyncStatusResponse struct {
	InstallationID int64            `json:"installation_id"`
	JiraHost       string           `json:"jira_host"`
	SyncStatus     string           `json:"sync_status"`
	SyncWarning    string           `json:"sync_warning,omitempty"`
	SyncedRepos    int              `json:"synced_repos"`
	TotalRepos     int              `json:"total_repos"`
	Repos          []RepoSyncStatus `json:"repos,omitempty"`
}

// RepoSyncStatus is one repository's task progress.
type RepoSyncStatus struct {
	Repository string            `json:"repository"`
	Tasks      map[string]string `json:"tasks"`
}

// StartSync handles POST /installations/{id}/sync. It finds or creates the
// subscription, resets its sync state and starts a fresh backfill workflow.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}

	var req StartSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.JiraHost == "" {
		http.Error(w, "jira_host is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sub, err := h.store.GetSubscription(ctx, req.JiraHost, installationID)
	if err != nil {
		h.logger.Error("failed to load subscription", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sub == nil {
		sub, err = h.store.CreateSubscription(ctx, installationID, req.JiraHost)
		if err != nil {
			h.logger.Error("failed to create subscription", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	fullReset := req.SyncType == "full"
	if err := h.store.ResetSyncState(ctx, sub.ID, fullReset); err != nil {
		h.logger.Error("failed to reset sync state", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.store.SetSyncWarning(ctx, sub.ID, ""); err != nil {
		h.logger.Error("failed to clear sync warning", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.store.UpdateSyncStatus(ctx, sub.ID, types.SyncStatusPending); err != nil {
		h.logger.Error("failed to reset sync status", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workflowID, err := h.starter.StartBackfill(ctx, installationID, req.JiraHost, time.Now())
	if err != nil {
		h.logger.Error("failed to start backfill workflow", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, StartSyncResponse{WorkflowID: workflowID, Status: "started"})
}

// GetSyncStatus handles GET /installations/{id}/sync.
func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}
	jiraHost := r.URL.Query().Get("jira_host")
	if jiraHost == "" {
		http.Error(w, "jira_host is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sub, err := h.store.GetSubscription(ctx, jiraHost, installationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}

	states, err := h.store.ListRepoSyncStates(ctx, sub.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := SyncStatusResponse{
		InstallationID: sub.InstallationID,
		JiraHost:       sub.JiraHost,
		SyncStatus:     string(sub.SyncStatus),
		SyncWarning:    sub.SyncWarning,
		SyncedRepos:    sub.SyncedRepos,
		TotalRepos:     len(states),
	}
	for _, state := range states {
		tasks := make(map[string]string, len(state.Tasks))
		for task, ts := range state.Tasks {
			tasks[string(task)] = string(ts.Status)
		}
		resp.Repos = append(resp.Repos, RepoSyncStatus{
			Repository: state.Repository.FullName,
			Tasks:      tasks,
		})
	}

	writeJSON(w, resp)
}

// DeleteSubscription handles DELETE /installations/{id}. It removes the
// subscription so in-flight backfill jobs drop out on their next step.
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}
	jiraHost := r.URL.Query().Get("jira_host")
	if jiraHost == "" {
		http.Error(w, "jira_host is required", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), jiraHost, installationID); err != nil {
		h.logger.Error("failed to delete subscription", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success": true}`))
}

// RegisterRoutes registers REST API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/installations/{id}/sync", h.StartSync)
	r.Get("/installations/{id}/sync", h.GetSyncStatus)
	r.Delete("/installations/{id}", h.DeleteSubscription)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
