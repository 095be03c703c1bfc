// Package proxy implements the client side of UPnP service control: a
// reusable SOAP action buffer (PendingAction), the HTTP round trip and
// response decoding (spec.md §4.6), and the GENA subscription client in
// subscribe.go. The teacher has no control-point/client code at all (it
// is a renderer/server only); this package is grounded on the teacher's
// own SOAP envelope shapes read in reverse, and on its ControlHandler's
// request-building idiom.
package proxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coissac-labs/halyard/httpheader"
	"github.com/coissac-labs/halyard/soapenvelope"
	"github.com/coissac-labs/halyard/upnperr"
	"github.com/coissac-labs/halyard/upnptype"
)

// ServiceProxy is the client-side handle for one remote service.
type ServiceProxy struct {
	ServiceType string
	ServiceID   string
	ControlURL  string
	EventURL    string

	AppName    string
	AppVersion string

	HTTPClient *http.Client

	sub subscriptionClient
}

// NewServiceProxy builds a ServiceProxy for the given descriptor fields.
// controlURL/eventURL must be fully-qualified URLs (resolved against the
// device's URLBase by the caller, e.g. deviceinfo).
func NewServiceProxy(serviceType, serviceID, controlURL, eventURL, appName, appVersion string) *ServiceProxy {
	p := &ServiceProxy{
		ServiceType: serviceType,
		ServiceID:   serviceID,
		ControlURL:  controlURL,
		EventURL:    eventURL,
		AppName:     appName,
		AppVersion:  appVersion,
		HTTPClient:  http.DefaultClient,
	}
	p.sub.proxy = p
	p.sub.callbacks = make(map[string][]*notifyCallback)
	return p
}

// PendingAction is a reusable SOAP action invocation: its request buffer
// is built once by NewAction and can be re-emitted on retry without
// re-rendering arguments. Shared-ownership via Ref/Unref: the last
// Unref cancels any outstanding transfer.
type PendingAction struct {
	proxy  *ServiceProxy
	action string
	body   []byte

	refs int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     bool
	resp     *soapenvelope.ActionResponse
	fault    *soapenvelope.Fault
	err      error
	cancelled bool
}

// NewAction builds the SOAP request buffer for action with the given
// ordered input arguments. Safe to call Call on the result more than
// once (e.g. on retry).
func (p *ServiceProxy) NewAction(action string, inArgs []soapenvelope.Arg) (*PendingAction, error) {
	body, err := soapenvelope.BuildRequest(p.ServiceType, action, inArgs)
	if err != nil {
		return nil, fmt.Errorf("proxy: build request for %s: %w", action, err)
	}
	return &PendingAction{proxy: p, action: action, body: body, refs: 1}, nil
}

// Ref increments the pending action's reference count.
func (pa *PendingAction) Ref() { atomic.AddInt32(&pa.refs, 1) }

// Unref decrements the reference count. When it reaches zero, any
// outstanding transfer is cancelled.
func (pa *PendingAction) Unref() {
	if atomic.AddInt32(&pa.refs, -1) == 0 {
		pa.Cancel()
	}
}

// Cancel aborts the outstanding HTTP transfer, if any. Subsequent
// GetResult calls return upnperr.Cancelled.
func (pa *PendingAction) Cancel() {
	pa.mu.Lock()
	pa.cancelled = true
	cancel := pa.cancel
	pa.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Call performs the SOAP HTTP round trip for pa against its proxy's
// control URL, per spec.md §4.6. Blocks until the response is received,
// the context is cancelled, or pa is cancelled via Cancel/Unref.
func (p *ServiceProxy) Call(ctx context.Context, pa *PendingAction) error {
	ctx, cancel := context.WithCancel(ctx)
	pa.mu.Lock()
	if pa.cancelled {
		pa.mu.Unlock()
		cancel()
		return upnperr.Cancelled
	}
	pa.cancel = cancel
	pa.mu.Unlock()
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ControlURL, bytes.NewReader(pa.body))
	if err != nil {
		return pa.finish(nil, nil, fmt.Errorf("proxy: build HTTP request: %w", err))
	}
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, p.ServiceType, pa.action))
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("User-Agent", httpheader.UserAgentFor(p.AppName, p.AppVersion))
	req.Header.Set("Accept-Language", httpheader.AcceptLanguageFromProcessLocale())
	req.Header.Set("Accept-Encoding", "gzip")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return pa.finish(nil, nil, upnperr.Cancelled)
		}
		return pa.finish(nil, nil, &upnperr.TransportError{Err: err})
	}
	defer httpResp.Body.Close()

	bodyReader := io.Reader(httpResp.Body)
	if httpResp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(bodyReader)
		if gzErr != nil {
			return pa.finish(nil, nil, &upnperr.ServerError{Kind: upnperr.InvalidResponse, ReasonPhrase: gzErr.Error()})
		}
		defer gz.Close()
		bodyReader = gz
	}
	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		return pa.finish(nil, nil, &upnperr.ServerError{Kind: upnperr.InvalidResponse, ReasonPhrase: err.Error()})
	}

	switch httpResp.StatusCode {
	case http.StatusOK:
		env, err := soapenvelope.Parse(raw)
		if err != nil {
			return pa.finish(nil, nil, &upnperr.ServerError{Kind: upnperr.InvalidResponse, ReasonPhrase: err.Error()})
		}
		resp, fault, err := soapenvelope.ParseResponse(env)
		if err != nil {
			return pa.finish(nil, nil, &upnperr.ServerError{Kind: upnperr.InvalidResponse, ReasonPhrase: err.Error()})
		}
		if fault != nil {
			return pa.finish(nil, fault, upnperr.NewControlError(fault.ErrorCode, fault.Description))
		}
		return pa.finish(resp, nil, nil)

	case http.StatusInternalServerError:
		env, err := soapenvelope.Parse(raw)
		if err != nil {
			return pa.finish(nil, nil, &upnperr.ServerError{Kind: upnperr.InvalidResponse, ReasonPhrase: "malformed fault body"})
		}
		_, fault, err := soapenvelope.ParseResponse(env)
		if err != nil || fault == nil {
			return pa.finish(nil, nil, &upnperr.ServerError{Kind: upnperr.InvalidResponse, ReasonPhrase: "malformed SOAP fault"})
		}
		return pa.finish(nil, fault, upnperr.NewControlError(fault.ErrorCode, fault.Description))

	default:
		return pa.finish(nil, nil, &upnperr.ServerError{
			Kind:         upnperr.FromStatus(httpResp.StatusCode),
			ReasonPhrase: httpResp.Status,
		})
	}
}

func (pa *PendingAction) finish(resp *soapenvelope.ActionResponse, fault *soapenvelope.Fault, err error) error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.done = true
	pa.resp = resp
	pa.fault = fault
	pa.err = err
	return err
}

// GetResult coerces pa's decoded response arguments to the requested
// out types. Missing arguments yield a zero Value and are reported via
// warn, rather than failing the whole call, per spec.md §4.6.
func (pa *PendingAction) GetResult(outTypes map[string]upnptype.Type, warn func(missing string)) (map[string]upnptype.Value, error) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	if pa.cancelled {
		return nil, upnperr.Cancelled
	}
	if !pa.done {
		return nil, fmt.Errorf("proxy: GetResult called before Call completed")
	}
	if pa.err != nil {
		return nil, pa.err
	}

	byName := make(map[string]string, len(pa.resp.Args))
	for _, a := range pa.resp.Args {
		byName[a.Name] = a.Value
	}

	out := make(map[string]upnptype.Value, len(outTypes))
	for name, t := range outTypes {
		raw, ok := byName[name]
		if !ok {
			if warn != nil {
				warn(name)
			}
			out[name] = upnptype.Value{}
			continue
		}
		v, err := upnptype.Parse(raw, t)
		if err != nil {
			if warn != nil {
				warn(name)
			}
			out[name] = upnptype.Value{}
			continue
		}
		out[name] = v
	}
	return out, nil
}
