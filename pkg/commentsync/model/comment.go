// Package model holds the comment wire types shared by the comments service
// and the commentsync client.
package model

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ReactionType is one of the closed set of reactions an author can leave.
type ReactionType string

const (
	ReactionLike    ReactionType = "like"
	ReactionDislike ReactionType = "dislike"
	ReactionHeart   ReactionType = "heart"
	ReactionLaugh   ReactionType = "laugh"
)

// ReactionTypes lists every valid reaction in display order.
var ReactionTypes = []ReactionType{ReactionLike, ReactionDislike, ReactionHeart, ReactionLaugh}

func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionDislike, ReactionHeart, ReactionLaugh:
		return true
	}
	return false
}

// ParseReactionType validates a user supplied reaction name.
func ParseReactionType(s string) (ReactionType, error) {
	t := ReactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown reaction type %q", s)
	}
	return t, nil
}

// Author is a denormalized snapshot of the user who wrote a comment.
type Author struct {
	ID     string `json:"_id" validate:"required"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// Reaction is a single (author, type) pair on a comment.
type Reaction struct {
	UserID string       `json:"userId"`
	Type   ReactionType `json:"type"`
}

// Comment is a message attached to a video, optionally anchored to a
// playback timestamp. Top-level comments carry their replies; replies never
// carry replies of their own.
type Comment struct {
	ID        string     `json:"_id" validate:"required"`
	VideoID   string     `json:"videoId"`
	Author    *Author    `json:"userId" validate:"required"`
	Content   string     `json:"content" validate:"required"`
	Timestamp *float64   `json:"timestamp,omitempty"`
	ParentID  string     `json:"parentId,omitempty"`
	Mentions  []string   `json:"mentions"`
	Reactions []Reaction `json:"reactions"`
	IsEdited  bool       `json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Replies   []Comment  `json:"replies,omitempty"`
}

// IsReply reports whether the comment belongs to a parent thread.
func (c *Comment) IsReply() bool {
	return c.ParentID != ""
}

// ReactionOf returns the reaction userID currently holds on c, if any.
func (c *Comment) ReactionOf(userID string) (ReactionType, bool) {
	for _, r := range c.Reactions {
		if r.UserID == userID {
			return r.Type, true
		}
	}
	return "", false
}

// ReactionCount counts the reactions of type t.
func (c *Comment) ReactionCount(t ReactionType) int {
	n := 0
	for _, r := range c.Reactions {
		if r.Type == t {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of c, replies included.
func (c Comment) Clone() Comment {
	out := c
	if c.Author != nil {
		a := *c.Author
		out.Author = &a
	}
	if c.Timestamp != nil {
		ts := *c.Timestamp
		out.Timestamp = &ts
	}
	if c.EditedAt != nil {
		e := *c.EditedAt
		out.EditedAt = &e
	}
	out.Mentions = slices.Clone(c.Mentions)
	out.Reactions = slices.Clone(c.Reactions)
	if c.Replies != nil {
		out.Replies = make([]Comment, len(c.Replies))
		for i, r := range c.Replies {
			out.Replies[i] = r.Clone()
		}
	}
	return out
}

// ToggleReaction applies a reaction toggle for userID and returns the new
// reaction list. Re-applying the type the author already holds removes it;
// any other type replaces it, so an author never holds more than one.
func ToggleReaction(reactions []Reaction, userID string, t ReactionType) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	removed := false
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
			continue
		}
		if r.Type == t {
			removed = true
		}
	}
	if !removed {
		out = append(out, Reaction{UserID: userID, Type: t})
	}
	return out
}

// FormatTimestamp renders playback seconds as m:ss.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// ParseTimestamp accepts "m:ss", "h:mm:ss" or plain seconds.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

var mentionRe = regexp.MustCompile(`(?:^|\s)@([A-Za-z0-9_][A-Za-z0-9_.-]*)`)

// ExtractMentions returns the distinct @handles in content, in order of
// first appearance.
func ExtractMentions(content string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		h := strings.TrimRight(m[1], ".-")
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
