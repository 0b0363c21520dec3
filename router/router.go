package router

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type Router interface {
	Start(addr string) error
}

type routerStruct struct {
	router chi.Router
}

// SetupRouter serves the metrics of gatherer and a health probe.
func SetupRouter(chiRouter chi.Router, gatherer prometheus.Gatherer) *routerStruct {
	r := &routerStruct{
		router: chiRouter,
	}

	chiRouter.Use(middleware.Recoverer)
	chiRouter.Get("/health", r.health)
	chiRouter.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		gatherer,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	))

	return r
}

func (r *routerStruct) Start(addr string) error {
	log.Infof("starting to listen for connections on %s", addr)
	return http.ListenAndServe(addr, r.router)
}

func (router *routerStruct) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
