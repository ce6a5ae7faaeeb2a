package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"numeroly/voice/internal/clientws"
)

// NewRouter wires the sessions REST surface. ws may be nil when the client
// event socket is not configured.
func NewRouter(h *Handlers, ws *clientws.Server) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz/deep", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.HandleDeepHealth(w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			instrument("create_session", h.HandleCreateSession)(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		// /sessions/{id}/end | /token | /ws-creds | /ws | /events | /turns | /profile | /insight | /saved
		path := strings.TrimSuffix(r.URL.Path, "/")
		const prefix = "/sessions/"
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		type route struct {
			method  string
			handler func(http.ResponseWriter, *http.Request, string)
		}
		routes := map[string]route{
			"":         {http.MethodGet, h.HandleGetSession},
			"end":      {http.MethodPost, h.HandleEndSession},
			"token":    {http.MethodPost, h.HandleRefreshToken},
			"ws-creds": {http.MethodPost, h.HandleMintWSCreds},
			"events":   {http.MethodGet, h.HandleListEvents},
			"turns":    {http.MethodPost, h.HandleSubmitTurn},
			"profile":  {http.MethodPost, h.HandleAttachProfile},
			"insight":  {http.MethodPost, h.HandleAttachInsight},
			"saved":    {http.MethodPost, h.HandleMarkSaved},
		}

		if tail == "ws" {
			if ws == nil {
				http.Error(w, "client socket not configured", http.StatusServiceUnavailable)
				return
			}
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			ws.HandleClientWS(w, r, id)
			return
		}

		rt, ok := routes[tail]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method != rt.method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := tail
		if name == "" {
			name = "get_session"
		}
		instrumentID(name, rt.handler)(w, r, id)
	})

	return mux
}
