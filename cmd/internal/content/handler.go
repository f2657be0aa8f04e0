package content

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"postline/cmd/internal/auth/api"
	"postline/cmd/internal/httpjson"
	"postline/cmd/internal/logutil"
)

// Handler serves the post and comment routes.
type Handler struct {
	store        Store
	maxBodyBytes int64
	now          func() time.Time
}

// NewHandler constructs a Handler over store.
func NewHandler(store Store, maxBodyBytes int64) (*Handler, error) {
	if store == nil {
		return nil, errors.New("content: nil store")
	}
	return &Handler{
		store:        store,
		maxBodyBytes: maxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Routes registers every content route behind gate.
func (h *Handler) Routes(router *httprouter.Router, gate *authapi.Gate) {
	protect := func(fn http.HandlerFunc) http.Handler { return gate.Protect(fn) }

	router.Handler(http.MethodPost, "/post", protect(h.handleCreatePost))
	router.Handler(http.MethodGet, "/posts", protect(h.handleListPosts))
	router.Handler(http.MethodGet, "/post", protect(h.handlePostsBySender))
	router.Handler(http.MethodGet, "/post/:id", protect(h.handleGetPost))
	router.Handler(http.MethodPut, "/post/:id", protect(h.handleUpdatePost))
	router.Handler(http.MethodGet, "/post/:id/comments", protect(h.handleListComments))

	router.Handler(http.MethodPost, "/comment", protect(h.handleCreateComment))
	router.Handler(http.MethodGet, "/comment/:id", protect(h.handleGetComment))
	router.Handler(http.MethodPut, "/comment/:id", protect(h.handleUpdateComment))
	router.Handler(http.MethodDelete, "/comment/:id", protect(h.handleDeleteComment))
}

type postRequest struct {
	Title  *string         `json:"title"`
	Body   *string         `json:"body"`
	Sender json.RawMessage `json:"sender"`
}

type commentRequest struct {
	PostID string          `json:"postId"`
	Body   *string         `json:"body"`
	Sender json.RawMessage `json:"sender"`
}

// ---- posts ----

func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "title is required")
		return
	}

	sender, _ := authapi.SubjectFromContext(r.Context())
	p := Post{Title: *req.Title, Sender: sender, CreatedAt: h.now()}
	if req.Body != nil {
		p.Body = *req.Body
	}

	created, err := h.store.CreatePost(r.Context(), p)
	if err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	logutil.FromContext(r.Context()).Info().Str("post_id", created.ID).Str("sender", sender).Msg("content.post.created")
	httpjson.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	h.listPosts(w, r, "")
}

func (h *Handler) handlePostsBySender(w http.ResponseWriter, r *http.Request) {
	sender := strings.TrimSpace(r.URL.Query().Get("sender"))
	if sender == "" {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "sender query parameter is required")
		return
	}
	h.listPosts(w, r, sender)
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request, sender string) {
	posts, err := h.store.ListPosts(r.Context(), sender)
	if err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, posts)
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "post")
	if !ok {
		return
	}
	p, err := h.store.GetPost(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "post")
	if !ok {
		return
	}
	var req postRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Sender) > 0 {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "sender cannot be updated")
		return
	}

	cur, err := h.store.GetPost(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	if !isSender(w, r, cur.Sender) {
		return
	}

	p, err := h.store.UpdatePost(r.Context(), id, PostUpdate{Title: req.Title, Body: req.Body, Now: h.now()})
	if err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "post")
	if !ok {
		return
	}
	if _, err := h.store.GetPost(r.Context(), id); err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	comments, err := h.store.ListComments(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "comment", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, comments)
}

// ---- comments ----

func (h *Handler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !h.decode(w, r, &req) {
		return
	}
	postID := strings.TrimSpace(req.PostID)
	if postID == "" || req.Body == nil || strings.TrimSpace(*req.Body) == "" {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "postId and body are required")
		return
	}
	if !ValidID(postID) {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid post id")
		return
	}

	sender, _ := authapi.SubjectFromContext(r.Context())
	c, err := h.store.CreateComment(r.Context(), Comment{
		PostID:    postID,
		Body:      *req.Body,
		Sender:    sender,
		CreatedAt: h.now(),
	})
	if err != nil {
		writeStoreError(w, r, "post", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetComment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "comment")
	if !ok {
		return
	}
	c, err := h.store.GetComment(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "comment", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "comment")
	if !ok {
		return
	}
	var req commentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Sender) > 0 || req.PostID != "" {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "only body can be updated")
		return
	}
	if req.Body == nil || strings.TrimSpace(*req.Body) == "" {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "body is required")
		return
	}

	cur, err := h.store.GetComment(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "comment", err)
		return
	}
	if !isSender(w, r, cur.Sender) {
		return
	}

	c, err := h.store.UpdateComment(r.Context(), id, *req.Body, h.now())
	if err != nil {
		writeStoreError(w, r, "comment", err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "comment")
	if !ok {
		return
	}
	cur, err := h.store.GetComment(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "comment", err)
		return
	}
	if !isSender(w, r, cur.Sender) {
		return
	}
	if err := h.store.DeleteComment(r.Context(), id); err != nil {
		writeStoreError(w, r, "comment", err)
		return
	}
	httpjson.WriteMessage(w, "Comment deleted successfully")
}

// ---- helpers ----

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpjson.Decode(w, r, h.maxBodyBytes, dst); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidJSON, "invalid request body")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, resource string) (string, bool) {
	id := httprouter.ParamsFromContext(r.Context()).ByName("id")
	if !ValidID(id) {
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid "+resource+" id")
		return "", false
	}
	return id, true
}

func isSender(w http.ResponseWriter, r *http.Request, sender string) bool {
	sub, _ := authapi.SubjectFromContext(r.Context())
	if sub != sender {
		httpjson.WriteError(w, http.StatusForbidden, httpjson.CodeForbidden, "Forbidden")
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, httpjson.CodeNotFound, notFoundMessage(resource))
	case errors.Is(err, ErrInvalidInput):
		httpjson.WriteError(w, http.StatusBadRequest, httpjson.CodeInvalidRequest, "invalid "+resource)
	default:
		logutil.FromContext(r.Context()).Error().Err(err).Str("resource", resource).Msg("content.store.fail")
		httpjson.WriteError(w, http.StatusInternalServerError, httpjson.CodeServerError, "internal error")
	}
}

func notFoundMessage(resource string) string {
	if resource == "comment" {
		return "Comment not found"
	}
	return "Post not found"
}
