package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/example/video-collab/pkg/commentsync/model"
)

func renderThread(w io.Writer, c model.Comment, me string) {
	renderComment(w, c, me, "")
	for _, r := range c.Replies {
		renderComment(w, r, me, "    ")
	}
}

func renderComment(w io.Writer, c model.Comment, me, indent string) {
	var head strings.Builder
	head.WriteString(indent)
	if c.Timestamp != nil {
		fmt.Fprintf(&head, "[%s] ", model.FormatTimestamp(*c.Timestamp))
	}
	head.WriteString(authorName(c.Author))
	fmt.Fprintf(&head, " (%s)", c.ID)
	if c.IsEdited {
		head.WriteString(" (edited)")
	}
	fmt.Fprintln(w, head.String())
	fmt.Fprintf(w, "%s  %s\n", indent, c.Content)
	if s := reactionSummary(c.Reactions, me); s != "" {
		fmt.Fprintf(w, "%s  %s\n", indent, s)
	}
}

func authorName(a *model.Author) string {
	switch {
	case a == nil:
		return "unknown"
	case a.Name != "":
		return a.Name
	default:
		return a.ID
	}
}

// reactionSummary lists per-type counts; the caller's own reaction is
// marked with '*'.
func reactionSummary(rs []model.Reaction, me string) string {
	c := model.Comment{Reactions: rs}
	mine, hasMine := c.ReactionOf(me)
	var parts []string
	for _, t := range model.ReactionTypes {
		n := c.ReactionCount(t)
		if n == 0 {
			continue
		}
		p := fmt.Sprintf("%s %d", t, n)
		if hasMine && me != "" && mine == t {
			p += "*"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "  ")
}
