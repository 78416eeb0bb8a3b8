// Command mock serves a fake airdrop campaign for local runs: a landing page
// that records referral visits, a points endpoint and a probe target for
// proxy checks.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"html/template"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"airdrop_manager/internal/config"
	"airdrop_manager/internal/logging"
)

type visits struct {
	mu    sync.Mutex
	byRef map[string]int
	total int
}

func (v *visits) add(ref string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total++
	if ref != "" {
		v.byRef[ref]++
	}
}

func (v *visits) snapshot() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	refs := make(map[string]int, len(v.byRef))
	for k, n := range v.byRef {
		refs[k] = n
	}
	return map[string]any{"total": v.total, "byReferral": refs}
}

var landing = template.Must(template.New("landing").Parse(`<!doctype html>
<html><head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p id="ref">{{if .Ref}}Invited by {{.Ref}}{{else}}No referral{{end}}</p>
<button id="claim">Claim daily points</button>
<script>
document.getElementById("claim").addEventListener("click", function () {
  fetch("/mock/points", {method: "POST"}).then(r => r.json()).then(d => {
    document.getElementById("claim").dataset.points = d.points;
  });
});
</script>
</body></html>`))

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	title := flag.String("title", "Mock Quest Season 1", "landing page title")
	failRate := flag.Float64("fail-rate", 0.1, "share of points claims that fail with 503")
	flag.Parse()

	logger := logging.New(config.LogConfig{Level: "info", Development: true})
	defer func() { _ = logger.Sync() }()

	seen := &visits{byRef: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	// probe target for proxy.probeURL
	mux.HandleFunc("/mock/generate_204", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/mock/quest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ref := r.URL.Query().Get("ref")
		seen.add(ref)
		logger.Info("landing visit", zap.String("ref", ref), zap.String("ua", r.UserAgent()))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = landing.Execute(w, map[string]any{"Title": *title, "Ref": ref})
	})

	mux.HandleFunc("/mock/points", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if rand.Float64() < *failRate {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "try again later"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"points":  10 + rand.IntN(41),
			"claimId": fmt.Sprintf("claim_%d", rand.Int64()),
			"at":      time.Now().Format(time.RFC3339Nano),
		})
	})

	mux.HandleFunc("/mock/visits", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, seen.snapshot())
	})

	// tracker and ad stand-ins so resource blocking can be observed
	mux.HandleFunc("/mock/analytics.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("window.__tracked = true;"))
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("mock campaign listening", zap.String("addr", *addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("mock server", zap.Error(err))
	}
}
