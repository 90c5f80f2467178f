package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/macroferro/macroferro-backend/api/responses"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthController struct {
	checks []HealthCheck
	logg   *logger.Logger
}

func NewHealthController(logg *logger.Logger, checks ...HealthCheck) *HealthController {
	return &HealthController{checks: checks, logg: logg}
}

func (c *HealthController) Live(w http.ResponseWriter, r *http.Request) {
	responses.WriteSuccess(w, map[string]string{"status": "live"})
}

// Ready probes every registered dependency and reports all failures at once.
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var probeErr error
	var down []string
	for _, check := range c.checks {
		if check.Ping == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := check.Ping(probeCtx)
		cancel()
		if err != nil {
			probeErr = multierr.Append(probeErr, err)
			down = append(down, check.Name)
		}
	}
	if probeErr != nil {
		responses.WriteError(ctx, c.logg, w,
			pkgerrors.Wrap(pkgerrors.CodeDependency, probeErr, strings.Join(down, ", ")+" unavailable").
				WithDetails(map[string]any{"dependencies": down}))
		return
	}
	responses.WriteSuccess(w, map[string]string{"status": "ready"})
}
