// Package targetfixture serves the demo target: a small set of GET
// endpoints with distinct latency and failure profiles, just enough to
// exercise the workload driver and the aggregator under realistic skew.
package targetfixture

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	PathHealthy = "/healthy"
	PathSlow    = "/slow"
	PathBroken  = "/broken"
	PathPanic   = "/panic"
)

var requestDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "target_fixture_request_duration_seconds",
}, []string{"method", "path", "status"},
)

func init() {
	// Must happen in init(), otherwise running unittests with count > 1
	// fails due to duplicate registration.
	prometheus.MustRegister(requestDurations)
}

type statusCodeCapturingResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
	statusCode  int
}

func (l *statusCodeCapturingResponseWriter) Write(p []byte) (n int, err error) {
	l.wroteHeader = true
	return l.ResponseWriter.Write(p)
}

func (l *statusCodeCapturingResponseWriter) WriteHeader(code int) {
	if !l.wroteHeader {
		l.statusCode = code
		l.wroteHeader = true
	}
	l.ResponseWriter.WriteHeader(code)
}

// NewHandler builds the fixture surface. The slow endpoint suspends only
// its own request, concurrent requests on other endpoints keep being
// served. A panicking handler is caught at the router boundary and turned
// into a plain 500 without taking the process down.
func NewHandler(logger *logrus.Entry, delay time.Duration) http.Handler {
	router := httprouter.New()
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, reason interface{}) {
		logger.WithFields(logrus.Fields{"path": r.URL.Path, "reason": fmt.Sprintf("%v", reason)}).Error("Handler panicked.")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	register := func(path string, handler httprouter.Handle) {
		router.GET(path, instrument(path, handler))
	}
	register(PathHealthy, func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		fmt.Fprintln(w, "ok")
	})
	register(PathSlow, func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		time.Sleep(delay)
		fmt.Fprintln(w, "ok, eventually")
	})
	register(PathBroken, func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		http.Error(w, "deliberately broken", http.StatusInternalServerError)
	})
	register(PathPanic, func(_ http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		panic("deliberate panic")
	})
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

func instrument(path string, handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		capturingWriter := &statusCodeCapturingResponseWriter{w, false, 200}
		start := time.Now()
		handler(capturingWriter, r, p)
		requestDurations.WithLabelValues(r.Method, path, strconv.Itoa(capturingWriter.statusCode)).Observe(time.Since(start).Seconds())
	}
}
