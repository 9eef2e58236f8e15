package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/wispr-stream/internal/metrics"
)

type Options struct {
	Bridge  Bridge
	Store   RecordingStore
	Hub     *Hub
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func Handler(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()

	if opts.Hub != nil {
		registerWSRoute(mux, opts.Hub, opts.Bridge, log.Named("ws"))
	}
	a := &api{bridge: opts.Bridge, store: opts.Store, metrics: opts.Metrics, log: log.Named("api")}
	a.register(mux)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	return mux
}

func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
