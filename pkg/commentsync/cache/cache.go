// Package cache holds the in-memory view of one video's comments: an
// append-ordered list of top-level comments, each owning its replies, plus
// the pagination cursor of the loaded window.
//
// Cache performs no I/O and no locking; callers serialize access.
package cache

import (
	"github.com/example/video-collab/pkg/commentsync/model"
)

// Cache mirrors the server state of one video's comments.
type Cache struct {
	videoID    string
	comments   []model.Comment
	pagination *model.Pagination
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// VideoID is the video the cache currently mirrors.
func (c *Cache) VideoID() string {
	return c.videoID
}

// Reset replaces the whole cache. A nil pagination leaves the cursor unset.
func (c *Cache) Reset(videoID string, comments []model.Comment, p *model.Pagination) {
	c.videoID = videoID
	c.comments = make([]model.Comment, 0, len(comments))
	c.pagination = nil
	if p != nil {
		cp := *p
		c.pagination = &cp
	}
	for _, cm := range comments {
		if c.indexOf(cm.ID) >= 0 {
			continue
		}
		c.comments = append(c.comments, normalizeTopLevel(cm))
	}
}

// Clear empties the cache and forgets the video.
func (c *Cache) Clear() {
	c.Reset("", nil, nil)
}

// Append adds the next page to the end of the list and moves the cursor.
// Comments already present are skipped, so overlapping pages never
// duplicate. It returns the number of comments added.
func (c *Cache) Append(comments []model.Comment, p model.Pagination) int {
	added := 0
	for _, cm := range comments {
		if c.indexOf(cm.ID) >= 0 {
			continue
		}
		c.comments = append(c.comments, normalizeTopLevel(cm))
		added++
	}
	c.pagination = &p
	return added
}

// Insert places cm as a reply when it has a parent and as a top-level
// comment otherwise. It is a no-op when cm is already present.
func (c *Cache) Insert(cm model.Comment) bool {
	if cm.IsReply() {
		return c.InsertReply(cm.ParentID, cm)
	}
	return c.InsertTopLevel(cm)
}

// InsertTopLevel appends cm to the end of the list unless a comment with
// the same id is already loaded.
func (c *Cache) InsertTopLevel(cm model.Comment) bool {
	if cm.ID == "" {
		return false
	}
	if top, reply := c.locate(cm.ID); top >= 0 || reply >= 0 {
		return false
	}
	c.comments = append(c.comments, normalizeTopLevel(cm))
	return true
}

// InsertReply appends cm to the replies of parentID. It returns false when
// the parent is not loaded or the reply is already present.
func (c *Cache) InsertReply(parentID string, cm model.Comment) bool {
	if cm.ID == "" || parentID == "" {
		return false
	}
	pi := c.indexOf(parentID)
	if pi < 0 {
		return false
	}
	if top, reply := c.locate(cm.ID); top >= 0 || reply >= 0 {
		return false
	}
	cm = cm.Clone()
	cm.ParentID = parentID
	cm.Replies = nil
	c.comments[pi].Replies = append(c.comments[pi].Replies, cm)
	return true
}

// Replace swaps the comment with cm's id for cm, keeping its position. A
// top-level replacement that carries no replies keeps the loaded ones.
func (c *Cache) Replace(cm model.Comment) bool {
	top, reply := c.locate(cm.ID)
	switch {
	case top < 0:
		return false
	case reply < 0:
		next := normalizeTopLevel(cm)
		if next.Replies == nil {
			next.Replies = c.comments[top].Replies
		}
		c.comments[top] = next
	default:
		next := cm.Clone()
		next.ParentID = c.comments[top].ID
		next.Replies = nil
		c.comments[top].Replies[reply] = next
	}
	return true
}

// Remove deletes the comment with id from wherever it is loaded.
func (c *Cache) Remove(id string) bool {
	top, reply := c.locate(id)
	switch {
	case top < 0:
		return false
	case reply < 0:
		c.comments = append(c.comments[:top], c.comments[top+1:]...)
	default:
		replies := c.comments[top].Replies
		c.comments[top].Replies = append(replies[:reply], replies[reply+1:]...)
	}
	return true
}

// SetReactions overwrites the reaction list of the comment with id.
func (c *Cache) SetReactions(id string, reactions []model.Reaction) bool {
	top, reply := c.locate(id)
	rs := append([]model.Reaction{}, reactions...)
	switch {
	case top < 0:
		return false
	case reply < 0:
		c.comments[top].Reactions = rs
	default:
		c.comments[top].Replies[reply].Reactions = rs
	}
	return true
}

// Find returns a copy of the comment with id.
func (c *Cache) Find(id string) (model.Comment, bool) {
	top, reply := c.locate(id)
	switch {
	case top < 0:
		return model.Comment{}, false
	case reply < 0:
		return c.comments[top].Clone(), true
	default:
		return c.comments[top].Replies[reply].Clone(), true
	}
}

// Contains reports whether id is loaded at any level.
func (c *Cache) Contains(id string) bool {
	top, _ := c.locate(id)
	return top >= 0
}

// Snapshot returns a deep copy of the loaded comments in order.
func (c *Cache) Snapshot() []model.Comment {
	out := make([]model.Comment, len(c.comments))
	for i, cm := range c.comments {
		out[i] = cm.Clone()
	}
	return out
}

// Pagination returns the current cursor.
func (c *Cache) Pagination() (model.Pagination, bool) {
	if c.pagination == nil {
		return model.Pagination{}, false
	}
	return *c.pagination, true
}

// Len is the number of loaded top-level comments.
func (c *Cache) Len() int {
	return len(c.comments)
}

func (c *Cache) indexOf(id string) int {
	for i := range c.comments {
		if c.comments[i].ID == id {
			return i
		}
	}
	return -1
}

// locate finds id as a top-level comment (reply == -1) or as a reply of the
// top-level comment at top. top is -1 when id is not loaded.
func (c *Cache) locate(id string) (top, reply int) {
	if id == "" {
		return -1, -1
	}
	for i := range c.comments {
		if c.comments[i].ID == id {
			return i, -1
		}
		for j := range c.comments[i].Replies {
			if c.comments[i].Replies[j].ID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

func normalizeTopLevel(cm model.Comment) model.Comment {
	out := cm.Clone()
	for i := range out.Replies {
		out.Replies[i].Replies = nil
	}
	return out
}
