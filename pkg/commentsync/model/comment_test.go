package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestToggleReaction_AddReplaceRemove(t *testing.T) {
	var rs []Reaction

	rs = ToggleReaction(rs, "user-a", ReactionLike)
	if len(rs) != 1 || rs[0].Type != ReactionLike {
		t.Fatalf("expected one like, got %+v", rs)
	}

	rs = ToggleReaction(rs, "user-a", ReactionHeart)
	if len(rs) != 1 || rs[0].Type != ReactionHeart {
		t.Fatalf("expected like replaced by heart, got %+v", rs)
	}

	rs = ToggleReaction(rs, "user-a", ReactionHeart)
	if len(rs) != 0 {
		t.Fatalf("expected heart removed, got %+v", rs)
	}
}

func TestToggleReaction_AtMostOnePerAuthor(t *testing.T) {
	var rs []Reaction
	seq := []ReactionType{ReactionLike, ReactionDislike, ReactionLaugh, ReactionLaugh, ReactionHeart, ReactionLike}
	for _, typ := range seq {
		rs = ToggleReaction(rs, "user-a", typ)
		rs = ToggleReaction(rs, "user-b", ReactionLike)

		count := 0
		for _, r := range rs {
			if r.UserID == "user-a" {
				count++
			}
		}
		if count > 1 {
			t.Fatalf("expected at most one reaction for user-a, got %d in %+v", count, rs)
		}
	}
}

func TestComment_ReactionHelpers(t *testing.T) {
	c := Comment{Reactions: []Reaction{
		{UserID: "a", Type: ReactionLike},
		{UserID: "b", Type: ReactionLike},
		{UserID: "c", Type: ReactionHeart},
	}}
	if n := c.ReactionCount(ReactionLike); n != 2 {
		t.Fatalf("expected 2 likes, got %d", n)
	}
	typ, ok := c.ReactionOf("c")
	if !ok || typ != ReactionHeart {
		t.Fatalf("expected heart for c, got %q %v", typ, ok)
	}
	if _, ok := c.ReactionOf("zzz"); ok {
		t.Fatal("expected no reaction for unknown user")
	}
}

func TestComment_CloneIsDeep(t *testing.T) {
	ts := 12.5
	c := Comment{
		ID:        "c1",
		Author:    &Author{ID: "u1", Name: "Ann"},
		Timestamp: &ts,
		Reactions: []Reaction{{UserID: "u2", Type: ReactionLike}},
		Replies:   []Comment{{ID: "r1", ParentID: "c1", Author: &Author{ID: "u3"}}},
	}
	cp := c.Clone()
	cp.Author.Name = "changed"
	*cp.Timestamp = 99
	cp.Reactions[0].Type = ReactionHeart
	cp.Replies[0].Author.ID = "changed"

	if c.Author.Name != "Ann" || *c.Timestamp != 12.5 || c.Reactions[0].Type != ReactionLike || c.Replies[0].Author.ID != "u3" {
		t.Fatalf("clone shares memory with original: %+v", c)
	}
}

func TestComment_CloneKeepsEmptyLists(t *testing.T) {
	c := Comment{ID: "c1", Mentions: []string{}, Reactions: []Reaction{}, Replies: []Comment{}}
	cp := c.Clone()
	if cp.Mentions == nil || cp.Reactions == nil || cp.Replies == nil {
		t.Fatalf("expected empty lists to stay non-nil, got %+v", cp)
	}

	raw, err := json.Marshal(cp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"mentions":[]`, `"reactions":[]`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("expected %s in %s", want, raw)
		}
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(1, 50, 120)
	if p.Pages != 3 || !p.HasMore {
		t.Fatalf("expected 3 pages with more, got %+v", p)
	}
	p = NewPagination(3, 50, 120)
	if p.HasMore {
		t.Fatalf("expected no more on last page, got %+v", p)
	}
	p = NewPagination(1, 50, 0)
	if p.Pages != 0 || p.HasMore {
		t.Fatalf("expected empty pagination, got %+v", p)
	}
	if off := NewPagination(2, 50, 120).Offset(); off != 50 {
		t.Fatalf("expected offset 50, got %d", off)
	}
}

func TestNewPagination_HasMoreMatchesPageCount(t *testing.T) {
	for total := 0; total <= 151; total++ {
		for page := 1; page <= 4; page++ {
			p := NewPagination(page, 50, total)
			if p.HasMore != (p.Page < p.Pages) {
				t.Fatalf("hasMore mismatch for %+v", p)
			}
			if p.Page*p.Limit >= p.Total && p.HasMore {
				t.Fatalf("expected hasMore=false when page*limit >= total: %+v", p)
			}
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{
		0:     "0:00",
		5.9:   "0:05",
		65:    "1:05",
		600:   "10:00",
		3725:  "62:05",
		-3:    "0:00",
	}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v): expected %q, got %q", in, want, got)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]float64{
		"83":      83,
		"1:23":    83,
		"1:02:03": 3723,
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseTimestamp(%q): expected %v, got %v", in, want, got)
		}
	}
	for _, bad := range []string{"", "a:b", "1:75", "-1", "1:2:3:4"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseReactionType(t *testing.T) {
	if typ, err := ParseReactionType(" Heart "); err != nil || typ != ReactionHeart {
		t.Fatalf("expected heart, got %q %v", typ, err)
	}
	if _, err := ParseReactionType("angry"); err == nil {
		t.Fatal("expected error for unknown reaction")
	}
}

func TestExtractMentions(t *testing.T) {
	got := ExtractMentions("@ana check 0:42, cc @bo.k and @ana. mail me at x@y.z")
	want := []string{"ana", "bo.k"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if m := ExtractMentions("no handles here"); m == nil || len(m) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", m)
	}
}
