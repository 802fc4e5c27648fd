// Package siteapi serves the small JSON API next to the site: a public health
// check, the contact details shown on the contact section and a summary of
// the content currently being served.
package siteapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bobbiedigital/bobbiedigital-web/internal/content"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type AppInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type ContactInfo struct {
	Email string             `json:"email"`
	Phone string             `json:"phone"`
	Apps  map[string]AppInfo `json:"apps"`
}

// NewContactInfo builds the contact payload with the two product listings.
func NewContactInfo(email, phone, bodigiURL, w2bURL string) ContactInfo {
	return ContactInfo{
		Email: email,
		Phone: phone,
		Apps: map[string]AppInfo{
			"bodigi": {
				Name:        "BoDiGi",
				Description: "Fully automated small business builder",
				URL:         bodigiURL,
			},
			"where2begin": {
				Name:        "Where_2_Begin",
				Description: "App for getting organized and tracking goals to stay productive in life",
				URL:         w2bURL,
			},
		},
	}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ContentSummary struct {
	Source   content.Source `json:"source"`
	Version  string         `json:"version,omitempty"`
	Hash     string         `json:"hash,omitempty"`
	Signed   bool           `json:"signed"`
	LoadedAt time.Time      `json:"loaded_at"`
}

type API struct {
	contact ContactInfo
	content SnapshotProvider
	logger  log.Logger
	now     func() time.Time
}

// NewAPI returns the API. content may be nil, in which case /api/content
// always reports that nothing is loaded.
func NewAPI(contact ContactInfo, content SnapshotProvider, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{contact: contact, content: content, logger: logger, now: time.Now}
}

// RegisterRoutes mounts the JSON routes for GET and HEAD. Without an explicit
// HEAD route chi would hand HEAD requests to the site fallback.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", api.HandleHealth)
	r.Head("/health", api.HandleHealth)
	r.Get("/api/contact", api.HandleContact)
	r.Head("/api/contact", api.HandleContact)
	r.Get("/api/content", api.HandleContent)
	r.Head("/api/content", api.HandleContent)
}

// HandleHealth always answers 200; it reports that the process is serving,
// not that dependencies are healthy.
func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	api.writeJSON(r.Context(), w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: api.now().UTC().Format(timestampLayout),
	})
}

func (api *API) HandleContact(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, api.contact)
}

func (api *API) HandleContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.content == nil {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "no content loaded"})
		return
	}
	snap, ok := api.content.Get()
	if !ok {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "no content loaded"})
		return
	}
	api.logger.Debug(ctx, "served content summary", "source", snap.Meta.Source, "version", snap.Meta.Version)
	api.writeJSON(ctx, w, http.StatusOK, ContentSummary{
		Source:   snap.Meta.Source,
		Version:  snap.Meta.Version,
		Hash:     snap.Meta.SHA256,
		Signed:   snap.Meta.Signed,
		LoadedAt: snap.LoadedAt.UTC().Truncate(time.Second),
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
