package cli

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/video-collab/pkg/commentsync/model"
	"github.com/example/video-collab/pkg/commentsync/socket"
)

func newTailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tail <videoId>",
		Short: "Print the first page, then follow live changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, a, args[0])
		},
	}
}

// lockedWriter serializes output from socket callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func (l *lockedWriter) comment(prefix string, c model.Comment, me string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.w, prefix)
	renderComment(l.w, c, me, "")
}

func runTail(cmd *cobra.Command, a *app, videoID string) error {
	ctx := cmd.Context()
	st, log, err := a.settings()
	if err != nil {
		return err
	}
	s, err := a.store()
	if err != nil {
		return err
	}
	if err := s.FetchComments(ctx, videoID, 1); err != nil {
		return err
	}
	me := a.me()
	out := &lockedWriter{w: a.out}
	for _, c := range s.Comments() {
		out.comment("", c, me)
	}

	sc := socket.New(socket.Options{URL: st.SocketURL, Token: st.Token, Logger: log})
	defer sc.Disconnect()
	s.Bind(sc)

	failed := make(chan error, 1)
	sc.OnStateChange(func(state socket.State) {
		log.Debug("push channel", zap.Stringer("state", state))
		if state == socket.StateFailed {
			select {
			case failed <- connectError(st.SocketURL, sc.Err()):
			default:
			}
		}
	})
	sc.OnCommentAdded(func(c model.Comment) { out.comment("+ ", c, me) })
	sc.OnCommentUpdated(func(c model.Comment) { out.comment("~ ", c, me) })
	sc.OnCommentDeleted(func(id string) { out.printf("- %s deleted\n", id) })
	sc.OnReactionUpdated(func(ru model.ReactionUpdate) {
		out.printf("* %s %s\n", ru.CommentID, reactionSummary(ru.Reactions, me))
	})
	sc.OnUserTyping(func(t model.Typing) {
		if t.IsTyping {
			out.printf("... %s is typing\n", authorName(&model.Author{ID: t.UserID, Name: t.UserName}))
		}
	})
	sc.JoinVideoRoom(videoID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !sc.WaitForConnection(gctx, st.Timeout) {
			if gctx.Err() != nil {
				return nil
			}
			return connectError(st.SocketURL, sc.Err())
		}
		out.printf("-- following %s (%d loaded)\n", videoID, len(s.Comments()))
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-failed:
			return err
		}
	})
	return g.Wait()
}

func connectError(url string, err error) error {
	if err == nil {
		err = errors.New("timed out")
	}
	return fmt.Errorf("connect %s: %w", url, err)
}
