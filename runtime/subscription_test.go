package runtime

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coissac-labs/halyard/description"
	"github.com/coissac-labs/halyard/upnptype"
)

func TestClampTimeout(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, defaultSubscriptionTimeout},
		{-1, defaultSubscriptionTimeout},
		{100 * time.Second, minSubscriptionTimeout},
		{10000 * time.Second, maxSubscriptionTimeout},
		{900 * time.Second, 900 * time.Second},
	}
	for _, c := range cases {
		if got := clampTimeout(c.in); got != c.want {
			t.Errorf("clampTimeout(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSubscriptionFirstSeqIsZero(t *testing.T) {
	sub := newSubscription([]string{"http://example.invalid/cb"}, time.Minute)

	if got := sub.nextSeq(); got != 0 {
		t.Fatalf("initial NOTIFY must carry SEQ=0, got %d", got)
	}
	if got := sub.nextSeq(); got != 1 {
		t.Fatalf("second NOTIFY must carry SEQ=1, got %d", got)
	}
}

func TestSubscriptionSeqWrapsNeverZeroAfterFirst(t *testing.T) {
	sub := newSubscription([]string{"http://example.invalid/cb"}, time.Minute)
	sub.nextSeq() // consume the initial SEQ=0
	sub.seq = 4294967294 // 2^32 - 2

	if got := sub.nextSeq(); got != 4294967295 {
		t.Fatalf("expected 2^32-1, got %d", got)
	}
	if got := sub.nextSeq(); got != 1 {
		t.Fatalf("SEQ must wrap to 1, never 0, got %d", got)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	desc := &description.Service{
		ServiceType: "urn:schemas-upnp-org:service:Test:1",
		ServiceID:   "urn:upnp-org:serviceId:Test",
		ControlURL:  "/upnp/control/Test",
		EventURL:    "/upnp/event/Test",
		SCPDURL:     "/upnp/scpd/Test.xml",
		Actions:     map[string]*description.Action{},
		StateVariables: map[string]*description.StateVariable{
			"Volume": {
				Name:         "Volume",
				SendEvents:   true,
				DataType:     upnptype.UI2,
				DefaultValue: upnptype.NewUint64(upnptype.UI2, 0),
			},
		},
	}
	return NewService(desc, []byte("<scpd/>"), "halyard-test", "0.0.0")
}

func TestSubscribeDeliversInitialEventThenOrderedUpdates(t *testing.T) {
	var mu sync.Mutex
	var seqs []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seqs = append(seqs, r.Header.Get("SEQ"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(t)
	sid, timeout := svc.subs.subscribe([]string{srv.URL}, 400*time.Second)
	if sid == "" {
		t.Fatal("expected a non-empty SID")
	}
	if timeout != 400*time.Second {
		t.Fatalf("expected effective timeout 400s, got %v", timeout)
	}

	for i := 1; i <= 5; i++ {
		svc.Set("Volume", upnptype.NewUint64(upnptype.UI2, uint64(i*10)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seqs)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) < 2 {
		t.Fatalf("expected at least an initial NOTIFY and one update, got %v", seqs)
	}
	if seqs[0] != "0" {
		t.Fatalf("first NOTIFY must carry SEQ=0, got %s", seqs[0])
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("SEQ must be strictly increasing per subscriber, got %v", seqs)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sid, _ := svc.subs.subscribe([]string{srv.URL}, time.Minute)
	if !svc.subs.unsubscribe(sid) {
		t.Fatal("unsubscribe of a live SID should succeed")
	}
	if svc.subs.unsubscribe(sid) {
		t.Fatal("unsubscribe of an already-removed SID should fail")
	}
}

func TestRenewUnknownSubscriptionFails(t *testing.T) {
	svc := newTestService(t)
	if _, ok := svc.subs.renew("uuid:does-not-exist", time.Minute); ok {
		t.Fatal("renewing an unknown SID should fail")
	}
}

func TestDeliverNotifyFallsBackToSecondCallback(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	var got string
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("SEQ")
		w.WriteHeader(http.StatusOK)
	}))
	defer alive.Close()

	err := deliverNotify([]string{dead.URL, alive.URL}, "uuid:test", 0, map[string]upnptype.Value{})
	if err != nil {
		t.Fatalf("expected delivery to fall back to the second URL, got %v", err)
	}
	if got != "0" {
		t.Fatalf("expected the second callback to receive the NOTIFY, got SEQ=%q", got)
	}
}

func TestFailedDeliveryAfterRetriesDropsSubscriptionAndReportsFailure(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	svc := newTestService(t)
	var mu sync.Mutex
	var failedSID string
	var failedURLs []string
	svc.NotifyFailed = func(sid string, callbackURLs []string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedSID = sid
		failedURLs = callbackURLs
	}

	sid, _ := svc.subs.subscribe([]string{dead.URL}, time.Minute)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		done := failedSID != ""
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if failedSID != sid {
		t.Fatalf("expected NotifyFailed to be called with sid %s, got %q", sid, failedSID)
	}
	if len(failedURLs) != 1 || failedURLs[0] != dead.URL {
		t.Fatalf("expected NotifyFailed to carry the callback URLs, got %v", failedURLs)
	}
	if svc.subs.unsubscribe(sid) {
		t.Fatal("subscription should already have been dropped after delivery failure")
	}
}
