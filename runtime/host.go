// Package runtime implements the service runtime: the SOAP control
// server, GENA event publisher, subscription lifecycle and state-variable
// change notification (spec.md §4.5). A Host binds one or more Services
// to HTTP endpoints; each Service owns its own action dispatch table and
// subscription table.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	goruntime "runtime"
	"sync"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/coissac-labs/halyard/acl"
	"github.com/coissac-labs/halyard/httpheader"
	"github.com/coissac-labs/halyard/netutils"
)

// Host owns the HTTP listener every hosted Service's control/event/SCPD
// endpoints are registered on. Grounded on upnp.Server (upnp/server.go):
// the same single http.Server, the same start/stop-once discipline, the
// same base-URL derivation via netutils.GuessLocalIP when not configured.
type Host struct {
	Name     string
	HTTPPort int

	// BindIP, if set, restricts the listener to one interface and makes
	// Host header validation enforce an exact match against it. Left
	// empty, the listener binds every interface and Host header
	// validation is skipped (there is no single address to compare
	// against).
	BindIP string

	ACL acl.Checker

	mu       sync.RWMutex
	baseURL  string
	router   chi.Router
	httpSrv  *http.Server
	services []*Service

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewHost builds a Host bound to httpPort. If baseURL is "", it is
// derived from the local IP address guessed by netutils.GuessLocalIP.
func NewHost(name string, httpPort int, baseURL string) *Host {
	if baseURL == "" {
		ip, err := netutils.GuessLocalIP()
		if err != nil {
			ip = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s:%d", ip, httpPort)
	}
	return &Host{
		Name:     name,
		HTTPPort: httpPort,
		ACL:      acl.AllowAll{},
		baseURL:  baseURL,
		router:   chi.NewRouter(),
	}
}

// BaseURL returns the URL prefix every hosted service's endpoints are
// resolved against.
func (h *Host) BaseURL() string { return h.baseURL }

// Attach registers svc's endpoints on the host's router. Must be called
// before Start.
func (h *Host) Attach(svc *Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	svc.host = h
	h.services = append(h.services, svc)
	svc.registerRoutes(h.router)
}

// Start begins listening. Idempotent: subsequent calls are no-ops.
func (h *Host) Start() error {
	h.startOnce.Do(func() {
		h.mu.RLock()
		h.httpSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", h.BindIP, h.HTTPPort),
			Handler: h.router,
		}
		for _, svc := range h.services {
			svc.startExpiryScan()
		}
		h.mu.RUnlock()

		go func() {
			if srvErr := h.httpSrv.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
				log.Errorf("runtime: host %s: server error: %v", h.Name, srvErr)
			}
		}()
		log.Infof("runtime: host %s started on %s", h.Name, h.baseURL)
	})
	return nil
}

// Stop shuts the HTTP listener down, waiting up to ctx's deadline.
func (h *Host) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for _, svc := range h.services {
			svc.stopExpiryScan()
		}
		if h.httpSrv != nil {
			err = h.httpSrv.Shutdown(ctx)
		}
	})
	return err
}

// serverHeaderValue is the Server: header advertised on every response
// this host emits, grounded on upnp/server.go's ServeXML.
func (h *Host) serverHeaderValue(appName, appVersion string) string {
	return httpheader.ServerHeader(goruntime.GOOS, goruntime.GOARCH, appName, appVersion)
}
