package health

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// VersionInfo describes the running build. It is served on /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Register mounts the probes on mux:
//
//	/health   liveness, always 200 while the process serves HTTP
//	/ready    readiness, 503 when a critical check fails
//	/version  build information
//
// Each answers GET and HEAD with JSON and rejects other methods with 405.
func Register(mux *http.ServeMux, c *Checker, info VersionInfo) {
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}

	mux.Handle("/health", probe(func(r *http.Request) (int, any) {
		return http.StatusOK, c.CheckLiveness(r.Context())
	}))
	mux.Handle("/ready", probe(func(r *http.Request) (int, any) {
		status := c.CheckReadiness(r.Context())
		if !status.Ready() {
			return http.StatusServiceUnavailable, status
		}
		return http.StatusOK, status
	}))
	mux.Handle("/version", probe(func(*http.Request) (int, any) {
		return http.StatusOK, info
	}))
}

// probe adapts fn to a read-only JSON endpoint.
func probe(fn func(r *http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		code, body := fn(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(body)
		}
	}
}
