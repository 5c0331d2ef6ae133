// Package api exposes the post service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Sternrassler/posts-proxy/pkg/apierror"
	"github.com/Sternrassler/posts-proxy/pkg/logging"
	"github.com/Sternrassler/posts-proxy/pkg/model"
)

// Service is the subset of service.PostService the handlers need.
type Service interface {
	GetPosts(ctx context.Context) ([]model.Post, error)
	GetPostsWithFilter(ctx context.Context, userID, title string) ([]model.Post, error)
	GetPostByID(ctx context.Context, id int) (*model.Post, error)
	GetPostByIDWithComments(ctx context.Context, id int) (*model.Post, error)
	GetCommentsForPost(ctx context.Context, postID int) ([]model.Comment, error)
	ClearCache(ctx context.Context)
	EvictPostCache(ctx context.Context, id int)
	EvictAllPostsCache(ctx context.Context)
}

// Handler serves the posts API.
type Handler struct {
	service Service
}

// NewHandler creates a handler backed by svc.
func NewHandler(svc Service) *Handler {
	return &Handler{service: svc}
}

// NewRouter registers the API routes on a new router. Unknown paths and
// unsupported methods are answered with problem documents.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	h.Register(r)
	return r
}

// Register adds the API routes to r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/posts", h.listPosts).Methods(http.MethodGet)
	r.HandleFunc("/posts/{id}", h.getPost).Methods(http.MethodGet)
	r.HandleFunc("/posts/{id}/comments", h.getPostWithComments).Methods(http.MethodGet)
	r.HandleFunc("/comments", h.listComments).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin/cache").Subrouter()
	admin.HandleFunc("", h.clearCache).Methods(http.MethodDelete)
	admin.HandleFunc("/posts", h.evictAllPosts).Methods(http.MethodDelete)
	admin.HandleFunc("/posts/{id}", h.evictPost).Methods(http.MethodDelete)
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	params, err := parseListPosts(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var posts []model.Post
	if params.filtered() {
		posts, err = h.service.GetPostsWithFilter(r.Context(), params.userID(), params.Title)
	} else {
		posts, err = h.service.GetPosts(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, posts)
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	post, err := h.service.GetPostByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, post)
}

func (h *Handler) getPostWithComments(w http.ResponseWriter, r *http.Request) {
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	post, err := h.service.GetPostByIDWithComments(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, post)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	postID, err := parseCommentsQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	comments, err := h.service.GetCommentsForPost(r.Context(), postID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, comments)
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.service.ClearCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) evictAllPosts(w http.ResponseWriter, r *http.Request) {
	h.service.EvictAllPostsCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) evictPost(w http.ResponseWriter, r *http.Request) {
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.service.EvictPostCache(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apierror.New(
		fmt.Sprintf("No endpoint %s %s", r.Method, r.URL.Path),
		apierror.TitleNotFound, http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, fmt.Errorf("%w: %s", apierror.ErrMethodNotAllowed, r.Method))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierror.WriteProblem(w, r, logging.FromContext(r.Context()), err)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.FromContext(r.Context())
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}
