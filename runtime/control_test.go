package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coissac-labs/halyard/acl"
	"github.com/coissac-labs/halyard/description"
	"github.com/coissac-labs/halyard/soapenvelope"
	"github.com/coissac-labs/halyard/upnptype"
)

func newBrowseService(t *testing.T) *Service {
	t.Helper()
	desc := &description.Service{
		ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
		ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
		ControlURL:  "/upnp/control/ContentDirectory",
		EventURL:    "/upnp/event/ContentDirectory",
		SCPDURL:     "/upnp/scpd/ContentDirectory.xml",
		Actions: map[string]*description.Action{
			"Browse": {
				Name: "Browse",
				Arguments: []description.Argument{
					{Name: "ObjectID", Direction: description.In},
					{Name: "BrowseFlag", Direction: description.In},
					{Name: "Filter", Direction: description.In},
					{Name: "StartingIndex", Direction: description.In},
					{Name: "RequestedCount", Direction: description.In},
					{Name: "SortCriteria", Direction: description.In},
					{Name: "Result", Direction: description.Out},
					{Name: "NumberReturned", Direction: description.Out},
					{Name: "TotalMatches", Direction: description.Out},
					{Name: "UpdateID", Direction: description.Out},
				},
			},
		},
		StateVariables: map[string]*description.StateVariable{},
	}
	svc := NewService(desc, []byte("<scpd/>"), "halyard-test", "0.0.0")
	svc.Handle("Browse", func(a *ActiveAction) {
		a.Set("Result", upnptype.NewString(upnptype.String, "<DIDL-Lite/>"))
		a.Set("NumberReturned", upnptype.NewUint64(upnptype.UI4, 0))
		a.Set("TotalMatches", upnptype.NewUint64(upnptype.UI4, 0))
		a.Set("UpdateID", upnptype.NewUint64(upnptype.UI4, 1))
		a.ReturnSuccess()
	})
	return svc
}

func postControl(t *testing.T, svc *Service, soapAction string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", svc.Desc.ControlURL, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", soapAction)
	w := httptest.NewRecorder()
	svc.handleControl(w, req)
	return w
}

func TestHandleControlBrowseRoundTrip(t *testing.T) {
	svc := newBrowseService(t)
	args := []soapenvelope.Arg{
		{Name: "ObjectID", Value: "0"},
		{Name: "BrowseFlag", Value: "BrowseDirectChildren"},
		{Name: "Filter", Value: "*"},
		{Name: "StartingIndex", Value: "0"},
		{Name: "RequestedCount", Value: "0"},
		{Name: "SortCriteria", Value: ""},
	}
	body, err := soapenvelope.BuildRequest(svc.Desc.ServiceType, "Browse", args)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}

	w := postControl(t, svc, `"`+svc.Desc.ServiceType+`#Browse"`, body)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	env, err := soapenvelope.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatalf("parse response envelope: %v", err)
	}
	resp, fault, err := soapenvelope.ParseResponse(env)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if fault != nil {
		t.Fatalf("unexpected fault: %+v", fault)
	}
	if resp.Action != "BrowseResponse" {
		t.Fatalf("expected BrowseResponse, got %s", resp.Action)
	}
	if len(resp.Args) != 4 {
		t.Fatalf("expected 4 out args, got %d: %+v", len(resp.Args), resp.Args)
	}
}

func TestHandleControlUnknownActionReturnsFault(t *testing.T) {
	svc := newBrowseService(t)
	body, _ := soapenvelope.BuildRequest(svc.Desc.ServiceType, "DoesNotExist", nil)
	w := postControl(t, svc, `"`+svc.Desc.ServiceType+`#DoesNotExist"`, body)

	env, err := soapenvelope.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatalf("parse fault envelope: %v", err)
	}
	_, fault, err := soapenvelope.ParseResponse(env)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if fault == nil || fault.ErrorCode != 401 {
		t.Fatalf("expected a 401 InvalidAction fault, got %+v", fault)
	}
}

func TestHandleControlRejectsNonPost(t *testing.T) {
	svc := newBrowseService(t)
	req := httptest.NewRequest("GET", svc.Desc.ControlURL, nil)
	w := httptest.NewRecorder()
	svc.handleControl(w, req)
	if w.Code != 405 {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestHandleControlRejectsBadContentType(t *testing.T) {
	svc := newBrowseService(t)
	req := httptest.NewRequest("POST", svc.Desc.ControlURL, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SOAPACTION", `"`+svc.Desc.ServiceType+`#Browse"`)
	w := httptest.NewRecorder()
	svc.handleControl(w, req)
	if w.Code != 415 {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestHandleControlActionFailureReturnsFault(t *testing.T) {
	desc := &description.Service{
		ServiceType: "urn:schemas-upnp-org:service:Test:1",
		ServiceID:   "urn:upnp-org:serviceId:Test",
		ControlURL:  "/upnp/control/Test",
		Actions: map[string]*description.Action{
			"Fail": {Name: "Fail"},
		},
		StateVariables: map[string]*description.StateVariable{},
	}
	svc := NewService(desc, nil, "halyard-test", "0.0.0")
	svc.Handle("Fail", func(a *ActiveAction) {
		a.ReturnError(501, "")
	})

	body, _ := soapenvelope.BuildRequest(desc.ServiceType, "Fail", nil)
	w := postControl(t, svc, `"`+desc.ServiceType+`#Fail"`, body)

	env, _ := soapenvelope.Parse(w.Body.Bytes())
	_, fault, err := soapenvelope.ParseResponse(env)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if fault == nil || fault.ErrorCode != 501 {
		t.Fatalf("expected a 501 ActionFailed fault, got %+v", fault)
	}
}

func TestSubscribeUnsubscribeHTTP(t *testing.T) {
	cbSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer cbSrv.Close()

	svc := newTestService(t)

	req := httptest.NewRequest("SUBSCRIBE", svc.Desc.EventURL, nil)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("CALLBACK", "<"+cbSrv.URL+">")
	req.Header.Set("TIMEOUT", "Second-600")
	w := httptest.NewRecorder()
	svc.handleSubscribe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	sid := w.Header().Get("SID")
	if sid == "" {
		t.Fatal("expected a SID header")
	}
	if w.Header().Get("TIMEOUT") != "Second-600" {
		t.Fatalf("expected Second-600, got %s", w.Header().Get("TIMEOUT"))
	}

	renewReq := httptest.NewRequest("SUBSCRIBE", svc.Desc.EventURL, nil)
	renewReq.Header.Set("SID", sid)
	renewReq.Header.Set("TIMEOUT", "Second-1200")
	renewW := httptest.NewRecorder()
	svc.handleSubscribe(renewW, renewReq)
	if renewW.Code != http.StatusOK {
		t.Fatalf("renew: expected 200, got %d", renewW.Code)
	}

	unsubReq := httptest.NewRequest("UNSUBSCRIBE", svc.Desc.EventURL, nil)
	unsubReq.Header.Set("SID", sid)
	unsubW := httptest.NewRecorder()
	svc.handleUnsubscribe(unsubW, unsubReq)
	if unsubW.Code != http.StatusOK {
		t.Fatalf("unsubscribe: expected 200, got %d", unsubW.Code)
	}

	unsubAgainW := httptest.NewRecorder()
	svc.handleUnsubscribe(unsubAgainW, unsubReq)
	if unsubAgainW.Code != http.StatusPreconditionFailed {
		t.Fatalf("double unsubscribe: expected 412, got %d", unsubAgainW.Code)
	}
}

func TestSubscribeRejectsMissingNT(t *testing.T) {
	svc := newTestService(t)
	req := httptest.NewRequest("SUBSCRIBE", svc.Desc.EventURL, nil)
	req.Header.Set("CALLBACK", "<http://example.invalid/cb>")
	w := httptest.NewRecorder()
	svc.handleSubscribe(w, req)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 for missing NT, got %d", w.Code)
	}
}

func TestParseCallbackHeaderMultipleURLs(t *testing.T) {
	got := parseCallbackHeader("<http://a.example/cb><http://b.example/cb>")
	want := []string{"http://a.example/cb", "http://b.example/cb"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestParseCallbackHeaderEmpty(t *testing.T) {
	if got := parseCallbackHeader(""); len(got) != 0 {
		t.Fatalf("expected no URLs, got %v", got)
	}
}

// denyAll is a Checker that rejects every request, used to confirm the
// SUBSCRIBE/UNSUBSCRIBE handlers gate on ACL the same way handleControl
// does.
type denyAll struct{}

func (denyAll) CanSync() bool                                    { return true }
func (denyAll) IsAllowed(acl.Request) bool                       { return false }
func (denyAll) IsAllowedAsync(context.Context, acl.Request) bool { return false }

func TestSubscribeDeniedByACL(t *testing.T) {
	svc := newTestService(t)
	host := NewHost("halyard-test", 0, "http://127.0.0.1:0")
	host.ACL = denyAll{}
	host.Attach(svc)

	req := httptest.NewRequest("SUBSCRIBE", svc.Desc.EventURL, nil)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("CALLBACK", "<http://example.invalid/cb>")
	w := httptest.NewRecorder()
	svc.handleSubscribe(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 from a denying ACL, got %d", w.Code)
	}
}

func TestUnsubscribeDeniedByACL(t *testing.T) {
	svc := newTestService(t)
	host := NewHost("halyard-test", 0, "http://127.0.0.1:0")
	host.Attach(svc)

	req := httptest.NewRequest("SUBSCRIBE", svc.Desc.EventURL, nil)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("CALLBACK", "<http://example.invalid/cb>")
	w := httptest.NewRecorder()
	svc.handleSubscribe(w, req)
	sid := w.Header().Get("SID")

	host.ACL = denyAll{}
	unsubReq := httptest.NewRequest("UNSUBSCRIBE", svc.Desc.EventURL, nil)
	unsubReq.Header.Set("SID", sid)
	unsubW := httptest.NewRecorder()
	svc.handleUnsubscribe(unsubW, unsubReq)
	if unsubW.Code != http.StatusForbidden {
		t.Fatalf("expected 403 from a denying ACL, got %d", unsubW.Code)
	}
}
