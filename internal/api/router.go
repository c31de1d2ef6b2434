package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/livemap/internal/websocket"
	"github.com/yegors/livemap/pkg/logger"
)

// Router wires the handlers onto chi
type Router struct {
	handler   *Handler
	wsServer  *websocket.Server
	staticDir string
	logger    *logger.Logger
}

// NewRouter creates the API router. An empty staticDir disables the file server.
func NewRouter(handler *Handler, wsServer *websocket.Server, staticDir string, log *logger.Logger) *Router {
	return &Router{
		handler:   handler,
		wsServer:  wsServer,
		staticDir: staticDir,
		logger:    log.Named("router"),
	}
}

// Routes returns the HTTP handler serving every route
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)
		r.Get("/datasets", rt.handler.GetDatasets)
		r.Get("/stats", rt.handler.GetStats)

		r.Route("/airports", func(r chi.Router) {
			r.Get("/", rt.handler.GetAirports)
			r.Get("/led", rt.handler.GetLEDAirports)
			r.Get("/export.xlsx", rt.handler.ExportAirports)
			r.Get("/{icao}", rt.handler.GetAirport)
			r.Get("/{icao}/nearby", rt.handler.GetNearby)
			r.Get("/{icao}/history", rt.handler.GetHistory)
		})

		r.Get("/wx/{icao}", rt.handler.GetWX)
		r.Get("/metar/{icao}", rt.handler.GetMETAR)
		r.Get("/taf/{icao}", rt.handler.GetTAF)
	})

	if rt.wsServer != nil {
		r.Get("/ws", rt.wsServer.HandleConnection)
	}

	if rt.staticDir != "" {
		r.Handle("/*", NewStaticFileHandler(rt.staticDir, rt.logger))
	}
	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
