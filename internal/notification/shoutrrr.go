package notification

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/ebirdsync/internal/errors"
	"github.com/tphakala/ebirdsync/internal/logger"
	"github.com/tphakala/ebirdsync/internal/privacy"
)

const (
	defaultAlertTimeout = 10 * time.Second
	// one alert per integration and action within this window
	defaultCooldown = 15 * time.Minute
)

// sender is the part of the shoutrrr router the alerter uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrAlerter sends alerts to every configured service URL.
type ShoutrrrAlerter struct {
	sender  sender
	recent  *cache.Cache
	timeout time.Duration
	log     logger.Logger
}

// ShoutrrrConfig configures the alerter.
type ShoutrrrConfig struct {
	URLs     []string
	Timeout  time.Duration
	Cooldown time.Duration
}

// NewShoutrrrAlerter validates the service URLs and builds one router for
// all of them.
func NewShoutrrrAlerter(cfg ShoutrrrConfig) (*ShoutrrrAlerter, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Category(errors.CategoryConfiguration).
			Component("notification").
			Build()
	}

	router, err := shoutrrr.CreateSender(slices.Clone(cfg.URLs)...)
	if err != nil {
		// router errors echo the URL, tokens included
		return nil, errors.New(privacy.WrapError(err)).
			Category(errors.CategoryConfiguration).
			Component("notification").
			Context("urls", len(cfg.URLs)).
			Build()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAlertTimeout
	}
	router.Timeout = timeout
	router.SetLogger(stdlog.New(io.Discard, "", 0))

	return newShoutrrrAlerter(router, timeout, cfg.Cooldown), nil
}

func newShoutrrrAlerter(s sender, timeout, cooldown time.Duration) *ShoutrrrAlerter {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &ShoutrrrAlerter{
		sender:  s,
		recent:  cache.New(cooldown, 2*cooldown),
		timeout: timeout,
		log:     GetLogger(),
	}
}

// Alert sends alert unless an alert for the same integration and action was
// sent within the cooldown window.
func (a *ShoutrrrAlerter) Alert(ctx context.Context, alert Alert) error {
	key := alert.IntegrationID + "/" + alert.ActionID
	if err := a.recent.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		a.log.Debug("alert suppressed by cooldown",
			logger.String("integration_id", alert.IntegrationID),
			logger.String("action_id", alert.ActionID))
		return nil
	}

	params := stypes.Params{}
	if alert.Title != "" {
		params.SetTitle(alert.Title)
	}
	body := privacy.ScrubMessage(alert.Body())

	done := make(chan error, 1)
	go func() {
		done <- firstError(a.sender.Send(body, &params))
	}()

	select {
	case err := <-done:
		if err != nil {
			a.recent.Delete(key)
			return errors.New(privacy.WrapError(err)).
				Category(errors.CategoryNetwork).
				Component("notification").
				Context("integration_id", alert.IntegrationID).
				Build()
		}
	case <-ctx.Done():
		a.recent.Delete(key)
		return errors.New(ctx.Err()).
			Category(errors.CategoryCancellation).
			Component("notification").
			Context("integration_id", alert.IntegrationID).
			Build()
	}

	a.log.Info("alert sent",
		logger.String("integration_id", alert.IntegrationID),
		logger.String("action_id", alert.ActionID),
		logger.String("priority", string(alert.Priority)))
	return nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
