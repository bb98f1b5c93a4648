// Package apm starts the New Relic Go agent for hosts that want the
// emitter's own sends traced and its logs decorated.
package apm

import (
	"fmt"
	"os"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/logcontext-v2/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_SHUTDOWN_TIMEOUT = 3 * time.Second
)

// Setup creates the agent application. The license key and app name fall
// back to NEW_RELIC_LICENSE_KEY and NEW_RELIC_APP_NAME, then to the program
// name. A nil application is returned when the agent cannot start; every
// agent call is nil safe so callers need not check.
func Setup(
	appName string,
	licenseKey string,
	logger *logrus.Logger,
) (*newrelic.Application, error) {
	if licenseKey == "" {
		licenseKey = os.Getenv("NEW_RELIC_LICENSE_KEY")
	}

	if licenseKey == "" {
		return nil, nil
	}

	apmAppName, err := resolveAppName(appName)
	if err != nil {
		return nil, err
	}

	// We don't care if this fails, the Agent is nil safe
	app, _ := newrelic.NewApplication(
		newrelic.ConfigAppName(apmAppName),
		newrelic.ConfigLicense(licenseKey),
	)

	// Setup in context logging
	if app != nil {
		logger.SetFormatter(nrlogrus.NewFormatter(app, &logrus.TextFormatter{}))
	}

	return app, nil
}

// Shutdown flushes the agent's data. A nil app is ignored.
func Shutdown(app *newrelic.Application) {
	if app == nil {
		return
	}

	app.Shutdown(DEFAULT_SHUTDOWN_TIMEOUT)
}

func resolveAppName(appName string) (string, error) {
	if appName != "" {
		return appName, nil
	}

	if name := os.Getenv("NEW_RELIC_APP_NAME"); name != "" {
		return name, nil
	}

	if len(os.Args) > 0 && os.Args[0] != "" {
		return os.Args[0], nil
	}

	return "", fmt.Errorf("no application name found")
}
