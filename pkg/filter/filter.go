// Package filter narrows post lists by user id and title.
package filter

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/posts-proxy/pkg/model"
)

// Posts returns the posts matching both filters, in input order. A blank
// filter matches everything. A userID filter that is not an integer matches
// nothing. The title filter is a case-insensitive substring match. The input
// slice is never modified.
func Posts(posts []model.Post, userID, title string) []model.Post {
	userID = strings.TrimSpace(userID)
	title = strings.TrimSpace(title)

	if userID == "" && title == "" {
		return posts
	}

	var wantUser int
	if userID != "" {
		n, err := strconv.Atoi(userID)
		if err != nil {
			log.Warn().Str("user_id", userID).Msg("Invalid userId filter, returning no posts")
			return []model.Post{}
		}
		wantUser = n
	}
	needle := strings.ToLower(title)

	result := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if userID != "" && p.UserID != wantUser {
			continue
		}
		if needle != "" && (p.Title == "" || !strings.Contains(strings.ToLower(p.Title), needle)) {
			continue
		}
		result = append(result, p)
	}
	return result
}
