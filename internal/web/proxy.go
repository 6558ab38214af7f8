package web

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

// newAudioProxy forwards /audio/<file> to the backend unchanged.
func newAudioProxy(target string, logger *zap.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("web: invalid API URL %q", target)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)

	origDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		origDirector(req)
		req.Host = u.Host
		// the backend has no use for the worker's cookie
		req.Header.Del("Cookie")
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("audio proxy error", zap.String("target", target), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		proxy.ServeHTTP(w, r)
	}), nil
}
