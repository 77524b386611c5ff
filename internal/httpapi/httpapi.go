// Package httpapi is the small control plane a peer associated to the
// hotspot uses to provision credentials and trigger operator actions.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"wifimgrd/internal/platform"
)

// Handler is the narrow contract httpapi drives against the event handler.
type Handler interface {
	AddNetwork(ctx context.Context, ssid, password string, priority *int) (ok bool, completed func())
	Restart(ctx context.Context) bool
	Identify() bool
}

// PredeclaredCommand is one operator-invokable shell command offered on the
// /web/execution page.
type PredeclaredCommand struct {
	Name    string
	Command string
}

type Server struct {
	handler  Handler
	commands []PredeclaredCommand
	srv      *http.Server
}

func New(handler Handler, port int, commands []PredeclaredCommand) *Server {
	s := &Server{handler: handler, commands: commands}
	r := mux.NewRouter()
	r.HandleFunc("/api/configure", s.apiConfigure).Methods(http.MethodPost)
	r.HandleFunc("/api/restart", s.apiRestart).Methods(http.MethodPost)
	r.HandleFunc("/api/identify", s.apiIdentify).Methods(http.MethodPost)
	r.HandleFunc("/web/configuration", s.webConfigurationForm).Methods(http.MethodGet)
	r.HandleFunc("/web/configure", s.webConfigure).Methods(http.MethodPost)
	r.HandleFunc("/web/operation", s.webOperationForm).Methods(http.MethodGet)
	r.HandleFunc("/web/identify", s.webIdentify).Methods(http.MethodPost)
	r.HandleFunc("/web/restart", s.webRestart).Methods(http.MethodPost)
	r.HandleFunc("/web/execution", s.webExecutionForm).Methods(http.MethodGet)
	r.HandleFunc("/web/execute", s.webExecute).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(s.captivePortalRedirect)

	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: r}
	return s
}

// ListenAndServe blocks serving the hotspot subnet until the server is shut
// down; the orchestrator runs it on a dedicated goroutine.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type configureRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

func (s *Server) apiConfigure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.doConfigure(r.Context(), w, req.SSID, req.Password, "Configured network", "Failed to configure network")
}

func (s *Server) doConfigure(ctx context.Context, w http.ResponseWriter, ssid, password, okMsg, failMsg string) {
	ok, completed := s.handler.AddNetwork(ctx, ssid, password, nil)
	if !ok {
		http.Error(w, failMsg, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, okMsg)
	flushResponse(w)
	// add_network_completed runs after the response has been flushed, so
	// the peer's browser sees the confirmation before the hotspot goes down.
	if completed != nil {
		go completed()
	}
}

func flushResponse(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) apiRestart(w http.ResponseWriter, r *http.Request) {
	if s.handler.Restart(r.Context()) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Restarted")
		return
	}
	http.Error(w, "Failed to restart", http.StatusBadRequest)
}

func (s *Server) apiIdentify(w http.ResponseWriter, r *http.Request) {
	if s.handler.Identify() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Identifying")
		return
	}
	http.Error(w, "Failed to identify", http.StatusBadRequest)
}

func (s *Server) webConfigurationForm(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<html><body><form method="POST" action="/web/configure">
<input name="ssid"><input name="password" type="password"><button>Configure</button></form></body></html>`)
}

func (s *Server) webConfigure(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ssid := r.FormValue("ssid")
	password := r.FormValue("password")
	ok, completed := s.handler.AddNetwork(r.Context(), ssid, password, nil)
	result := "success"
	if !ok {
		result = "failure"
	}
	fmt.Fprintf(w, `<html><body>configure_result: %s</body></html>`, result)
	flushResponse(w)
	if ok && completed != nil {
		go completed()
	}
}

func (s *Server) webOperationForm(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<html><body>
<form method="POST" action="/web/identify"><button>Identify</button></form>
<form method="POST" action="/web/restart"><button>Restart</button></form>
</body></html>`)
}

func (s *Server) webIdentify(w http.ResponseWriter, r *http.Request) {
	result := "failure"
	if s.handler.Identify() {
		result = "success"
	}
	fmt.Fprintf(w, `<html><body>identify_result: %s</body></html>`, result)
}

func (s *Server) webRestart(w http.ResponseWriter, r *http.Request) {
	result := "failure"
	if s.handler.Restart(r.Context()) {
		result = "success"
	}
	fmt.Fprintf(w, `<html><body>restart_result: %s</body></html>`, result)
}

func (s *Server) webExecutionForm(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<html><body><form method="POST" action="/web/execute">`)
	for _, c := range s.commands {
		fmt.Fprintf(w, `<button name="command" value="%s">%s</button>`, c.Name, c.Name)
	}
	fmt.Fprint(w, `</form></body></html>`)
}

func (s *Server) webExecute(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	name := r.FormValue("command")
	var line string
	for _, c := range s.commands {
		if c.Name == name {
			line = c.Command
			break
		}
	}
	if line == "" {
		http.Error(w, "unknown command", http.StatusBadRequest)
		return
	}
	stdout, exitCode, err := platform.RunShellLine(r.Context(), line)
	if err != nil {
		log.Ctx(r.Context()).Err(err).Str("command", name).Msg("operator command execution failed")
	}
	fmt.Fprintf(w, `<html><body><pre>exit=%d
%s</pre></body></html>`, exitCode, stdout)
}

// captivePortalRedirect sends every unmatched path to the provisioning
// page, so a peer's captive-portal detection probe lands on the form.
func (s *Server) captivePortalRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/web/configuration", http.StatusFound)
}
