// Package render displays system notifications. The platform notification
// surface is abstracted behind Notifier; the production implementation sends
// through shoutrrr service URLs, and a log-backed fallback is used when no
// URLs are configured. Repeated renders with the same dedup tag collapse to
// one visible notification.
package render

import (
	"context"
	"io"
	"log"
	"log/slog"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	gocache "github.com/patrickmn/go-cache"

	"github.com/expensems/emspush/internal/errors"
	"github.com/expensems/emspush/internal/logging"
)

// Notifier renders a system notification. Implementations must treat tag as
// a collapse key: showing the same tag twice should not produce two alerts.
type Notifier interface {
	Show(ctx context.Context, title, body, tag string) error
}

// ShoutrrrNotifier sends notifications via nicholas-fedor/shoutrrr.
// Creates a single sender for multiple URLs.
type ShoutrrrNotifier struct {
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrNotifier builds a notifier for the given service URLs
func NewShoutrrrNotifier(urls []string, timeout time.Duration) (*ShoutrrrNotifier, error) {
	sn := &ShoutrrrNotifier{
		urls:    slices.Clone(urls),
		timeout: timeout,
	}

	if len(sn.urls) == 0 {
		return nil, errors.Newf("at least one URL is required").
			Component("render").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(sn.urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("render").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_sender").
			Build()
	}
	sn.sender = sender
	if sn.timeout > 0 {
		sn.sender.Timeout = sn.timeout
	}
	sn.sender.SetLogger(log.New(io.Discard, "", 0))

	return sn, nil
}

// Show sends the notification to every configured service
func (sn *ShoutrrrNotifier) Show(ctx context.Context, title, body, tag string) error {
	_ = ctx // router handles its own timeouts

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	errs := sn.sender.Send(body, &params)
	for _, e := range errs {
		if e != nil {
			return errors.New(e).
				Component("render").
				Category(errors.CategoryRender).
				Context("tag", tag).
				Build()
		}
	}
	return nil
}

// LogNotifier writes notifications to the structured log. Used when no
// renderer URLs are configured so the pipeline stays observable.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	logger := logging.ForService("render")
	if logger == nil {
		logger = slog.Default().With("service", "render")
	}
	return &LogNotifier{logger: logger}
}

// Show logs the notification
func (ln *LogNotifier) Show(_ context.Context, title, body, tag string) error {
	ln.logger.Info("system notification", "title", title, "body", body, "tag", tag)
	return nil
}

// TagCollapser wraps a Notifier and suppresses repeated renders of the same
// tag within the collapse window, the way the platform collapses
// notifications sharing a tag.
type TagCollapser struct {
	next Notifier
	seen *gocache.Cache
}

// NewTagCollapser wraps next with tag collapsing over the given window
func NewTagCollapser(next Notifier, window time.Duration) *TagCollapser {
	return &TagCollapser{
		next: next,
		seen: gocache.New(window, window),
	}
}

// Show renders unless the tag was already rendered within the window
func (tc *TagCollapser) Show(ctx context.Context, title, body, tag string) error {
	if tag != "" {
		if _, found := tc.seen.Get(tag); found {
			return nil
		}
		tc.seen.SetDefault(tag, struct{}{})
	}
	return tc.next.Show(ctx, title, body, tag)
}
