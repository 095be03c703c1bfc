package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/coissac-labs/halyard/upnperr"
	"github.com/coissac-labs/halyard/upnptype"
	"github.com/coissac-labs/halyard/upnpxml"
)

const subscribeTimeout = 1800 * time.Second

// notifyCallback is one registration under OnChange.
type notifyCallback struct {
	id int
	t  upnptype.Type
	fn func(upnptype.Value)
}

// subscriptionClient is the GENA client state embedded in a ServiceProxy.
// Grounded on spec.md §4.6's subscription lifecycle; the teacher has no
// client-side eventing at all.
type subscriptionClient struct {
	proxy *ServiceProxy

	mu          sync.Mutex
	sid         string
	deliveryURL string
	renewTimer  *time.Timer
	haveSeq     bool
	lastSeq     uint32
	nextCBID    int
	callbacks   map[string][]*notifyCallback

	onLost func(error)
}

// OnSubscriptionLost registers the callback invoked when a subscription
// fails irrecoverably (subscribe failure, renewal failure) and is
// dropped without automatic retry.
func (p *ServiceProxy) OnSubscriptionLost(fn func(error)) {
	p.sub.mu.Lock()
	defer p.sub.mu.Unlock()
	p.sub.onLost = fn
}

// OnChange registers cb to be called, with the value coerced to t,
// whenever variable name changes. The returned func removes the
// registration; it may be called from inside cb itself, since dispatch
// iterates a snapshot.
func (p *ServiceProxy) OnChange(name string, t upnptype.Type, cb func(upnptype.Value)) func() {
	s := &p.sub
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCBID++
	id := s.nextCBID
	nc := &notifyCallback{id: id, t: t, fn: cb}
	s.callbacks[name] = append(s.callbacks[name], nc)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.callbacks[name]
		for i, e := range list {
			if e.id == id {
				s.callbacks[name] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// SetSubscribed subscribes (true) or unsubscribes (false) at the
// service's event URL. deliveryURL is this process's local NOTIFY
// delivery endpoint, only used when subscribing.
func (p *ServiceProxy) SetSubscribed(ctx context.Context, subscribed bool, deliveryURL string) error {
	if subscribed {
		return p.subscribe(ctx, deliveryURL)
	}
	return p.unsubscribe(ctx)
}

func (p *ServiceProxy) subscribe(ctx context.Context, deliveryURL string) error {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", p.EventURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("CALLBACK", "<"+deliveryURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", formatGenaTimeout(subscribeTimeout))

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		p.emitLost(&upnperr.TransportError{Err: err})
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		subErr := &upnperr.EventingError{Kind: upnperr.SubscriptionFailed, Err: fmt.Errorf("subscribe: %s", resp.Status)}
		p.emitLost(subErr)
		return subErr
	}

	sid := resp.Header.Get("SID")
	timeout := parseGenaTimeout(resp.Header.Get("TIMEOUT"))

	s := &p.sub
	s.mu.Lock()
	s.sid = sid
	s.deliveryURL = deliveryURL
	s.haveSeq = false
	s.mu.Unlock()

	p.scheduleRenewal(timeout)
	return nil
}

func (p *ServiceProxy) unsubscribe(ctx context.Context) error {
	s := &p.sub
	s.mu.Lock()
	sid := s.sid
	if s.renewTimer != nil {
		s.renewTimer.Stop()
	}
	s.sid = ""
	s.mu.Unlock()

	if sid == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", p.EventURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *ServiceProxy) scheduleRenewal(timeout time.Duration) {
	delay := timeout - 30*time.Second
	if half := timeout / 2; half < delay {
		delay = half
	}
	if delay <= 0 {
		delay = time.Second
	}

	s := &p.sub
	s.mu.Lock()
	if s.renewTimer != nil {
		s.renewTimer.Stop()
	}
	s.renewTimer = time.AfterFunc(delay, func() { p.renew() })
	s.mu.Unlock()
}

func (p *ServiceProxy) renew() {
	s := &p.sub
	s.mu.Lock()
	sid := s.sid
	s.mu.Unlock()
	if sid == "" {
		return
	}

	req, err := http.NewRequest("SUBSCRIBE", p.EventURL, nil)
	if err != nil {
		p.dropSubscription(&upnperr.EventingError{Kind: upnperr.SubscriptionLost, Err: err})
		return
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", formatGenaTimeout(subscribeTimeout))

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		p.dropSubscription(&upnperr.EventingError{Kind: upnperr.SubscriptionLost, Err: err})
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		p.dropSubscription(&upnperr.EventingError{
			Kind: upnperr.SubscriptionLost,
			Err:  fmt.Errorf("renew: %s", resp.Status),
		})
		return
	}

	p.scheduleRenewal(parseGenaTimeout(resp.Header.Get("TIMEOUT")))
}

func (p *ServiceProxy) dropSubscription(err error) {
	s := &p.sub
	s.mu.Lock()
	s.sid = ""
	s.mu.Unlock()
	p.emitLost(err)
}

func (p *ServiceProxy) emitLost(err error) {
	s := &p.sub
	s.mu.Lock()
	fn := s.onLost
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// HandleNotify is the local NOTIFY delivery endpoint: register it on a
// Host's router (or any http.Handler) at the address passed to
// SetSubscribed. Grounded on spec.md §4.6's four-step acceptance rule.
func (p *ServiceProxy) HandleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	sid := r.Header.Get("SID")

	s := &p.sub
	s.mu.Lock()
	known := sid != "" && sid == s.sid
	s.mu.Unlock()
	if !known {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	seq, err := strconv.ParseUint(r.Header.Get("SEQ"), 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	accept := !s.haveSeq || isNextSeq(s.lastSeq, uint32(seq))
	if accept {
		s.haveSeq = true
		s.lastSeq = uint32(seq)
	}
	s.mu.Unlock()
	if !accept {
		log.Warnf("proxy: dropping out-of-order NOTIFY sid=%s seq=%d", sid, seq)
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	changes, err := parsePropertySet(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	snapshot := make(map[string][]*notifyCallback, len(s.callbacks))
	for name, cbs := range s.callbacks {
		snapshot[name] = append([]*notifyCallback(nil), cbs...)
	}
	s.mu.Unlock()

	for name, raw := range changes {
		for _, cb := range snapshot[name] {
			v, err := upnptype.Parse(raw, cb.t)
			if err != nil {
				continue
			}
			cb.fn(v)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// isNextSeq reports whether seq is the successor of prev, respecting
// the 2^32-1 -> 1 wrap (0 is never a valid non-initial SEQ).
func isNextSeq(prev, seq uint32) bool {
	if prev == 4294967295 {
		return seq == 1
	}
	return seq == prev+1
}

func parsePropertySet(body []byte) (map[string]string, error) {
	root, err := upnpxml.Parse(body)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, prop := range upnpxml.Children(root, "property") {
		for _, child := range prop.ChildElements() {
			out[child.Tag] = child.Text()
		}
	}
	return out, nil
}

func formatGenaTimeout(d time.Duration) string {
	return "Second-" + strconv.Itoa(int(d.Seconds()))
}

func parseGenaTimeout(h string) time.Duration {
	const prefix = "Second-"
	if !strings.HasPrefix(h, prefix) {
		return subscribeTimeout
	}
	n, err := strconv.Atoi(strings.TrimPrefix(h, prefix))
	if err != nil || n <= 0 {
		return subscribeTimeout
	}
	return time.Duration(n) * time.Second
}
