// Package envctx supplies the environment snapshot stamped on each event.
package envctx

import (
	"os"
	"strings"
	"time"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/build"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/connectors"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
)

// Provider returns the context to attach to an event recorded now. The
// emitter calls it once per event and clones the result.
type Provider func() model.EventContext

// Static always returns a copy of ctx.
func Static(ctx model.EventContext) Provider {
	snapshot := ctx.Clone()

	return func() model.EventContext {
		return snapshot.Clone()
	}
}

// Host describes the current process: user agent, locale and timezone
// from the environment, and the library that recorded the event. It has
// no page or screen.
func Host() Provider {
	return func() model.EventContext {
		return model.EventContext{
			UserAgent: connectors.GetUserAgent(),
			Locale:    locale(os.Getenv),
			Timezone:  timezone(os.Getenv, time.Local),
			Library:   Library(),
		}
	}
}

// WithPage overlays page information on whatever p returns.
func WithPage(p Provider, page model.PageContext) Provider {
	return func() model.EventContext {
		ctx := p()
		pg := page
		ctx.Page = &pg
		return ctx
	}
}

func Library() *model.LibraryContext {
	info := build.GetBuildInfo()

	return &model.LibraryContext{
		Name:    info.Name,
		Version: info.Version,
	}
}

// locale turns a POSIX locale such as en_US.UTF-8 into a language tag
// such as en-US.
func locale(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := getenv(key)
		if value == "" {
			continue
		}

		if i := strings.IndexAny(value, ".@"); i >= 0 {
			value = value[:i]
		}

		if value == "" || value == "C" || value == "POSIX" {
			return ""
		}

		return strings.ReplaceAll(value, "_", "-")
	}

	return ""
}

func timezone(getenv func(string) string, local *time.Location) string {
	if tz := strings.TrimPrefix(getenv("TZ"), ":"); tz != "" {
		return tz
	}

	if name := local.String(); name != "" && name != "Local" {
		return name
	}

	name, _ := time.Now().In(local).Zone()

	return name
}
