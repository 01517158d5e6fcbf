// Package cli implements the commentctl commands on top of the commentsync
// client library.
package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/internal/platform/logging"
	"github.com/example/video-collab/pkg/commentsync"
	"github.com/example/video-collab/pkg/commentsync/api"
	"github.com/example/video-collab/pkg/commentsync/model"
)

// Settings are resolved from flags, then COMMENTCTL_* env vars, then the
// config file.
type Settings struct {
	APIURL    string        `mapstructure:"api-url"`
	SocketURL string        `mapstructure:"socket-url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageSize  int           `mapstructure:"page-size"`
	LogLevel  string        `mapstructure:"log-level"`
}

type app struct {
	v   *viper.Viper
	out io.Writer

	once sync.Once
	st   Settings
	log  *zap.Logger
	err  error
}

func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}
	var cfgFile string

	root := &cobra.Command{
		Use:   "commentctl",
		Short: "Read, post and follow video comments",
		Long: `commentctl talks to the comments service REST API and push channel.

Settings come from flags, COMMENTCTL_* environment variables
(COMMENTCTL_API_URL, COMMENTCTL_TOKEN, ...) or a YAML config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.readConfig(cfgFile)
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.String("api-url", "http://localhost:8080/api", "comments API base URL")
	pf.String("socket-url", "", "push channel URL (derived from --api-url when empty)")
	pf.String("token", "", "bearer token")
	pf.Duration("timeout", 15*time.Second, "per-request timeout")
	pf.Int("page-size", model.DefaultPageSize, "comments per page")
	pf.String("log-level", "warn", "log level")
	_ = a.v.BindPFlags(pf)

	a.v.SetEnvPrefix("COMMENTCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newListCmd(a),
		newTailCmd(a),
		newPostCmd(a),
		newEditCmd(a),
		newDeleteCmd(a),
		newReactCmd(a),
	)
	return root
}

func (a *app) readConfig(file string) error {
	if file == "" {
		return nil
	}
	a.v.SetConfigFile(file)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("config file not found: %w", err)
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (a *app) settings() (Settings, *zap.Logger, error) {
	a.once.Do(func() {
		var st Settings
		if err := a.v.Unmarshal(&st); err != nil {
			a.err = fmt.Errorf("decode settings: %w", err)
			return
		}
		st.APIURL = strings.TrimRight(strings.TrimSpace(st.APIURL), "/")
		if st.APIURL == "" {
			a.err = errors.New("api-url is required")
			return
		}
		if st.SocketURL == "" {
			su, err := socketURL(st.APIURL)
			if err != nil {
				a.err = err
				return
			}
			st.SocketURL = su
		}
		log, err := logging.New(st.LogLevel, true)
		if err != nil {
			a.err = err
			return
		}
		a.st, a.log = st, log
	})
	return a.st, a.log, a.err
}

func (a *app) store() (*commentsync.Store, error) {
	st, log, err := a.settings()
	if err != nil {
		return nil, err
	}
	client := api.New(api.Options{
		BaseURL: st.APIURL,
		Token:   st.Token,
		Timeout: st.Timeout,
		Logger:  log,
	})
	return commentsync.NewStore(client, commentsync.WithLogger(log), commentsync.WithPageSize(st.PageSize)), nil
}

// me is the caller's user id, read from the token's subject. The server
// verifies the token; here it only marks the caller's own reactions.
func (a *app) me() string {
	st, _, err := a.settings()
	if err != nil || st.Token == "" {
		return ""
	}
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(st.Token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

// socketURL maps http(s)://host/api to ws(s)://host/socket.
func socketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api-url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api-url must use http or https, got %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api") + "/socket"
	u.RawQuery = ""
	return u.String(), nil
}
