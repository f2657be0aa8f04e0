// Package content stores and serves posts and their comments.
//
// Every post and comment records its sender, the user id taken from the
// access token of the request that created it. Only the sender may edit or
// delete what they wrote.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Post is a titled message.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment belongs to exactly one post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	Body      string    `json:"body"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PostUpdate lists post fields to change; nil means unchanged.
type PostUpdate struct {
	Title *string
	Body  *string
	Now   time.Time
}

// Store persists posts and comments. Lists are newest first.
type Store interface {
	CreatePost(ctx context.Context, p Post) (Post, error)
	GetPost(ctx context.Context, id string) (Post, error)
	// ListPosts returns every post, or only those of sender when it is set.
	ListPosts(ctx context.Context, sender string) ([]Post, error)
	UpdatePost(ctx context.Context, id string, upd PostUpdate) (Post, error)

	// CreateComment fails with ErrNotFound when the post does not exist.
	CreateComment(ctx context.Context, c Comment) (Comment, error)
	GetComment(ctx context.Context, id string) (Comment, error)
	ListComments(ctx context.Context, postID string) ([]Comment, error)
	UpdateComment(ctx context.Context, id, body string, now time.Time) (Comment, error)
	DeleteComment(ctx context.Context, id string) error
}

// NewID returns a new ULID string.
func NewID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// ValidID reports whether s is a well-formed ULID.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

func notFound(op, resource string) error {
	return fmt.Errorf("%s: %s %w", op, resource, ErrNotFound)
}

func invalid(op, msg string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrInvalidInput, msg)
}

func validatePost(op string, p Post) error {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return invalid(op, "title is required")
	case p.Sender == "":
		return invalid(op, "sender is required")
	}
	return nil
}

func validateComment(op string, c Comment) error {
	switch {
	case c.PostID == "":
		return invalid(op, "postId is required")
	case strings.TrimSpace(c.Body) == "":
		return invalid(op, "body is required")
	case c.Sender == "":
		return invalid(op, "sender is required")
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
