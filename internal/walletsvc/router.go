package walletsvc

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "keycortex_walletd_request_duration_seconds",
	Help: "HTTP request duration in seconds, by route and status.",
}, []string{"route", "status"})

// requestLogger mirrors walletserver/middleware/logger.go's timing +
// logrus.Infof shape, generalized to log structured fields instead of a
// single format string, and to additionally feed the duration histogram.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			duration := time.Since(start)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": duration.String(),
			}).Info("request handled")

			requestDuration.WithLabelValues(route, http.StatusText(ww.Status())).Observe(duration.Seconds())
		})
	}
}

// Router assembles the full chi router for the service.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.Log))

	r.Post("/wallet/create", s.CreateWallet)
	r.Post("/wallet/restore", s.RestoreWallet)
	r.Post("/wallet/rename", s.RenameWallet)
	r.Post("/wallet/sign", s.Sign)
	r.Post("/wallet/submit", s.Submit)
	r.Get("/wallet/nonce", s.WalletNonce)
	r.Get("/wallet/balance", s.Balance)
	r.Get("/wallet/tx/{hash}", s.TxStatus)

	r.Post("/auth/challenge", s.AuthChallenge)
	r.Post("/auth/verify", s.AuthVerify)
	r.Post("/auth/bind", s.AuthBind)

	r.Post("/proofcortex/commitment", s.ProofCortexCommitment)
	r.Get("/fortressdigital/wallet-status", s.FortressDigitalWalletStatus)
	r.Get("/chain/config", s.ChainConfig)

	r.Get("/ops/bindings/{address}", s.OpsGetBinding)
	r.Get("/ops/audit", s.OpsListAudit)

	r.Get("/health", s.Health)
	r.Get("/readyz", s.Readyz)
	r.Get("/startupz", s.Startupz)
	r.Get("/version", s.Version)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
