package content

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	posts    map[string]Post
	comments map[string]Comment
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:    make(map[string]Post),
		comments: make(map[string]Comment),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	if err := validatePost("content.CreatePost", p); err != nil {
		return Post{}, err
	}

	now := nowOr(p.CreatedAt)
	p.ID = NewID(now)
	p.Title = strings.TrimSpace(p.Title)
	p.CreatedAt, p.UpdatedAt = now, now

	s.mu.Lock()
	s.posts[p.ID] = p
	s.mu.Unlock()
	return p, nil
}

func (s *MemoryStore) GetPost(ctx context.Context, id string) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, notFound("content.GetPost", "post")
	}
	return p, nil
}

func (s *MemoryStore) ListPosts(ctx context.Context, sender string) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		if sender == "" || p.Sender == sender {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *MemoryStore) UpdatePost(ctx context.Context, id string, upd PostUpdate) (Post, error) {
	const op = "content.UpdatePost"

	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return Post{}, invalid(op, "title must not be blank")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, notFound(op, "post")
	}
	if upd.Title != nil {
		p.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Body != nil {
		p.Body = *upd.Body
	}
	p.UpdatedAt = nowOr(upd.Now)
	s.posts[id] = p
	return p, nil
}

func (s *MemoryStore) CreateComment(ctx context.Context, c Comment) (Comment, error) {
	const op = "content.CreateComment"

	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	if err := validateComment(op, c); err != nil {
		return Comment{}, err
	}

	now := nowOr(c.CreatedAt)
	c.ID = NewID(now)
	c.CreatedAt, c.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[c.PostID]; !ok {
		return Comment{}, notFound(op, "post")
	}
	s.comments[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetComment(ctx context.Context, id string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, notFound("content.GetComment", "comment")
	}
	return c, nil
}

func (s *MemoryStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Comment, 0)
	for _, c := range s.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *MemoryStore) UpdateComment(ctx context.Context, id, body string, now time.Time) (Comment, error) {
	const op = "content.UpdateComment"

	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Comment{}, invalid(op, "body is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, notFound(op, "comment")
	}
	c.Body = body
	c.UpdatedAt = nowOr(now)
	s.comments[id] = c
	return c, nil
}

func (s *MemoryStore) DeleteComment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[id]; !ok {
		return notFound("content.DeleteComment", "comment")
	}
	delete(s.comments, id)
	return nil
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if a.Equal(b) {
		return idA > idB
	}
	return a.After(b)
}
