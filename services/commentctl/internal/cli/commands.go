package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/video-collab/pkg/commentsync"
	"github.com/example/video-collab/pkg/commentsync/model"
)

func newListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list <videoId>",
		Short: "List a video's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			videoID := args[0]
			if err := s.FetchComments(ctx, videoID, 1); err != nil {
				return err
			}
			if all {
				// Keep the end-of-list sentinel in view until the last page.
				trigger := commentsync.NewScrollTrigger(s)
				for {
					started, err := trigger.Observe(ctx, 1)
					if err != nil {
						return err
					}
					if !started {
						break
					}
				}
			}

			me := a.me()
			for _, c := range s.Comments() {
				renderThread(a.out, c, me)
			}
			if p, ok := s.Pagination(); ok {
				fmt.Fprintf(a.out, "-- %d of %d comments", len(s.Comments()), p.Total)
				if p.HasMore {
					fmt.Fprint(a.out, " (more with --all)")
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "load every page")
	return cmd
}

func newPostCmd(a *app) *cobra.Command {
	var at, replyTo string
	cmd := &cobra.Command{
		Use:   "post <videoId> <content...>",
		Short: "Post a comment or a reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ts *float64
			if at != "" {
				v, err := model.ParseTimestamp(at)
				if err != nil {
					return err
				}
				ts = &v
			}
			s, err := a.store()
			if err != nil {
				return err
			}
			c, err := s.AddComment(cmd.Context(), args[0], strings.Join(args[1:], " "), ts, replyTo)
			if err != nil {
				return err
			}
			renderComment(a.out, *c, a.me(), "")
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "anchor to a playback time (m:ss)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "parent comment id")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <commentId> <content...>",
		Short: "Edit one of your comments",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			c, err := s.UpdateComment(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			renderComment(a.out, *c, a.me(), "")
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <commentId>",
		Short: "Delete a comment and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			if err := s.DeleteComment(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return nil
		},
	}
}

func newReactCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "react <commentId> <like|dislike|heart|laugh>",
		Short: "Toggle your reaction on a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := model.ParseReactionType(args[1])
			if err != nil {
				return err
			}
			s, err := a.store()
			if err != nil {
				return err
			}
			c, err := s.ToggleReaction(cmd.Context(), args[0], t)
			if err != nil {
				return err
			}
			summary := reactionSummary(c.Reactions, a.me())
			if summary == "" {
				summary = "no reactions"
			}
			fmt.Fprintf(a.out, "%s: %s\n", c.ID, summary)
			return nil
		},
	}
}
