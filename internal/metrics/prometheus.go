package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is a named prometheus registry; the name becomes the metrics
// path suffix.
type Registry struct {
	prometheus.Registry
	Name string
}

func NewRegistry(name string) *Registry {
	return &Registry{
		Registry: *prometheus.NewRegistry(),
		Name:     name,
	}
}

// MetricsServer owns the /metrics HTTP listener's lifecycle.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// NewPrometheus binds a metrics listener on host:port serving each registry
// under /metrics/<name>, plus the first registry under plain /metrics.
func NewPrometheus(host string, port int, registries ...*Registry) (*MetricsServer, error) {
	srvr := &MetricsServer{}

	mux := http.NewServeMux()
	for i, registry := range registries {
		handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		mux.Handle("/metrics/"+registry.Name, handler)
		if i == 0 {
			mux.Handle("/metrics", handler)
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srvr.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srvr.listener = listener
	return srvr, nil
}

func (srvr *MetricsServer) Start(ctx context.Context) {
	ctx, srvr.cancel = context.WithCancel(ctx)

	go func() {
		err := srvr.server.Serve(srvr.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("metrics endpoint stopped unexpectedly")
		}
	}()

	go func() {
		<-ctx.Done()
		srvr.server.Close()
	}()
}

func (srvr *MetricsServer) Stop() {
	if srvr.cancel != nil {
		srvr.cancel()
	}
}
