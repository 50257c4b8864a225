package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bhatti/transform-headers/transformheaders"
)

// gatewayPolicy is satisfied by both the modern and the legacy policy
type gatewayPolicy interface {
	OnRequest(r *http.Request) error
	ModifyResponse(resp *http.Response) error
	ErrorHandler(w http.ResponseWriter, r *http.Request, err error)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a reverse proxy that transforms request and response headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			policy, err := buildGatewayPolicy(logger)
			if err != nil {
				return err
			}
			handler, err := newGateway(viper.GetString("serve.upstream"), policy, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return listenAndServe(ctx, viper.GetString("serve.listen"), handler, logger)
		},
	}

	cmd.Flags().String("listen", ":8080", "address to listen on")
	cmd.Flags().String("upstream", "", "upstream base URL")
	cmd.Flags().Bool("legacy", false, "run the policy with legacy scope semantics")
	cmd.Flags().StringSlice("skip-path", nil, "request paths that bypass the policy")

	_ = viper.BindPFlag("serve.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("serve.upstream", cmd.Flags().Lookup("upstream"))
	_ = viper.BindPFlag("serve.legacy", cmd.Flags().Lookup("legacy"))
	_ = viper.BindPFlag("serve.skip_paths", cmd.Flags().Lookup("skip-path"))
	return cmd
}

func buildGatewayPolicy(logger logrus.FieldLogger) (gatewayPolicy, error) {
	config, err := loadPolicyConfig(viper.GetString("policy"))
	if err != nil {
		return nil, err
	}
	opts := []transformheaders.Option{
		transformheaders.WithAPIID(viper.GetString("api_id")),
		transformheaders.WithLogger(logger),
		transformheaders.WithSkipPaths(viper.GetStringSlice("serve.skip_paths")...),
	}
	if viper.GetBool("serve.legacy") {
		return transformheaders.NewLegacyPolicy(config, opts...), nil
	}
	return transformheaders.NewPolicy(config, opts...), nil
}

// newGateway routes /healthz locally and proxies everything else to upstream
func newGateway(upstream string, policy gatewayPolicy, logger logrus.FieldLogger) (http.Handler, error) {
	if upstream == "" {
		return nil, errors.New("upstream is required")
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", upstream, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: scheme and host are required", upstream)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ModifyResponse = policy.ModifyResponse
	proxy.ErrorHandler = policy.ErrorHandler

	chain := alice.New(requestID, accessLog(logger), requestTransform(policy))

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(chain.Then(proxy))
	return r, nil
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requestID makes sure every request carries an X-Request-ID
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(transformheaders.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(transformheaders.RequestIDHeader, id)
		}
		w.Header().Set(transformheaders.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(status int) {
	if sr.status == 0 {
		sr.status = status
	}
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func accessLog(logger logrus.FieldLogger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"bytes":      rec.bytes,
				"duration":   time.Since(start).String(),
				"request-id": r.Header.Get(transformheaders.RequestIDHeader),
			}).Info("request")
		})
	}
}

// requestTransform applies the request side of the policy. The response side
// runs in the proxy's ModifyResponse.
func requestTransform(policy gatewayPolicy) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := policy.OnRequest(r); err != nil {
				transformheaders.WriteFailure(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func listenAndServe(ctx context.Context, addr string, handler http.Handler, logger logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
