package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/Sternrassler/posts-proxy/pkg/apierror"
)

var validate = validator.New()

type listPostsParams struct {
	UserID *int   `validate:"omitempty,min=1,max=2147483647"`
	Title  string `validate:"max=100"`
}

// filtered reports whether any filter was supplied. A blank title counts as
// absent.
func (p listPostsParams) filtered() bool {
	return p.UserID != nil || strings.TrimSpace(p.Title) != ""
}

func (p listPostsParams) userID() string {
	if p.UserID == nil {
		return ""
	}
	return strconv.Itoa(*p.UserID)
}

type postIDParams struct {
	ID int `validate:"min=1,max=2147483647"`
}

type commentsParams struct {
	PostID int `validate:"min=1,max=2147483647"`
}

// validationMessages maps a failed field and tag to the detail returned to
// clients.
var validationMessages = map[string]string{
	"UserID.min": "User ID must be positive",
	"UserID.max": "User ID too large",
	"Title.max":  "Title filter must be between 1 and 100 characters",
	"ID.min":     "Post ID must be positive",
	"ID.max":     "Post ID too large",
	"PostID.min": "Post ID must be positive",
	"PostID.max": "Post ID too large",
}

// validateParams runs the struct tags and converts the first failure into a
// 400 error.
func validateParams(params any) error {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if msg, ok := validationMessages[fe.Field()+"."+fe.Tag()]; ok {
			return apierror.Invalid(msg)
		}
		return apierror.Invalid(fieldErrs[0].Error())
	}
	return apierror.Invalid(err.Error())
}

func parseListPosts(r *http.Request) (listPostsParams, error) {
	q := r.URL.Query()
	params := listPostsParams{Title: q.Get("title")}

	if raw := strings.TrimSpace(q.Get("userId")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return params, apierror.Invalid("User ID must be a valid integer")
		}
		params.UserID = &id
	}

	return params, validateParams(params)
}

func parsePostID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		return 0, apierror.Invalid("Post ID must be a valid integer")
	}
	return id, validateParams(postIDParams{ID: id})
}

func parseCommentsQuery(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("postId"))
	if raw == "" {
		return 0, apierror.Invalid("Post ID is required")
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierror.Invalid("Post ID must be a valid integer")
	}
	return id, validateParams(commentsParams{PostID: id})
}
