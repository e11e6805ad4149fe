// SPDX-License-Identifier: AGPL-3.0-or-later

package pprof

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/sirimitm/sirimitm/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readTimeout = 3 * time.Second

// CreatePProfServer starts the debug pprof endpoint when enabled. It blocks
// for the life of the process, so callers run it in its own goroutine.
func CreatePProfServer(config *config.Config) {
	if config.PProf.Enabled {
		r := gin.New()
		r.Use(gin.Logger())
		r.Use(gin.Recovery())

		if config.Metrics.OTLPEndpoint != "" {
			r.Use(otelgin.Middleware("sirimitm-pprof"))
		}

		err := r.SetTrustedProxies(config.PProf.TrustedProxies)
		if err != nil {
			slog.Error("Failed setting trusted proxies", "error", err)
		}

		pprof.Register(r)

		server := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.PProf.Bind, config.PProf.Port),
			Handler:           r,
			ReadHeaderTimeout: readTimeout,
		}
		slog.Info("PProf Server Listening", "address", server.Addr)
		err = server.ListenAndServe()
		if err != nil {
			panic(err)
		}
	}
}
