// Package model defines the post and comment payloads exchanged with the
// upstream API and returned to clients.
package model

// Post is a single post as served by the upstream API.
// Comments is only populated by the "with comments" lookup.
type Post struct {
	ID       int       `json:"id"`
	UserID   int       `json:"userId"`
	Title    string    `json:"title,omitempty"`
	Body     string    `json:"body,omitempty"`
	Comments []Comment `json:"comments,omitempty"`
}

// Comment belongs to the post referenced by PostID.
type Comment struct {
	ID     int    `json:"id"`
	PostID int    `json:"postId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Body   string `json:"body,omitempty"`
}

// WithComments returns a copy of the post carrying the given comments.
// The receiver is left untouched so cached values stay immutable.
func (p Post) WithComments(comments []Comment) *Post {
	cp := p
	cp.Comments = append([]Comment(nil), comments...)
	return &cp
}
