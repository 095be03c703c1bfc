package runtime

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/coissac-labs/halyard/upnptype"
)

var eventTextReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

func escapeEventText(s string) string { return eventTextReplacer.Replace(s) }

const (
	minSubscriptionTimeout     = 300 * time.Second
	maxSubscriptionTimeout     = 1800 * time.Second
	defaultSubscriptionTimeout = 1800 * time.Second
)

// maxNotifyRetries bounds the retries deliveryLoop attempts for one
// failed NOTIFY before dropping it; retryRate paces those retries so a
// subscriber whose callback is flapping or reconnecting doesn't get
// hammered.
const maxNotifyRetries = 3

var retryRate = rate.Every(time.Second)

// subscription is one GENA subscriber. Grounded on spec.md §4.5's
// eventing model; the teacher has no GENA support at all, so the
// delivery discipline below (one serialized worker goroutine per
// subscriber, coalesced pending changes) is built from the spec's
// "strict per-subscription ordering" and "coalesce bursts" rules rather
// than adapted from teacher code.
type subscription struct {
	sid          string
	callbackURLs []string // delivery URLs, in CALLBACK header order
	expires      time.Time

	mu        sync.Mutex
	seq       uint32 // last SEQ sent after the initial one; wraps 2^32-1 -> 1, never 0
	sentFirst bool   // true once the SEQ=0 initial NOTIFY has gone out
	pending   map[string]upnptype.Value
	dirty     bool

	queue chan struct{}
	done  chan struct{}

	retryLimiter *rate.Limiter
}

func newSubscription(callbackURLs []string, timeout time.Duration) *subscription {
	return &subscription{
		sid:          "uuid:" + uuid.NewString(),
		callbackURLs: callbackURLs,
		expires:      time.Now().Add(timeout),
		pending:      make(map[string]upnptype.Value),
		queue:        make(chan struct{}, 1),
		done:         make(chan struct{}),
		retryLimiter: rate.NewLimiter(retryRate, 1),
	}
}

// nextSeq returns the next SEQ value to send. The very first call returns
// 0, per spec.md §4.5's "seq=0, mark initial=true"; every subsequent call
// advances and returns 1, 2, ..., wrapping 2^32-1 back to 1 (0 is
// reserved for the initial event, never reused).
func (s *subscription) nextSeq() uint32 {
	if !s.sentFirst {
		s.sentFirst = true
		return 0
	}
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

func (s *subscription) renew(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires = time.Now().Add(timeout)
}

func (s *subscription) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.expires)
}

// subscriptionTable owns every live subscription for one Service.
type subscriptionTable struct {
	svc *Service

	mu   sync.RWMutex
	subs map[string]*subscription
}

func newSubscriptionTable(svc *Service) *subscriptionTable {
	return &subscriptionTable{
		svc:  svc,
		subs: make(map[string]*subscription),
	}
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultSubscriptionTimeout
	}
	if d < minSubscriptionTimeout {
		return minSubscriptionTimeout
	}
	if d > maxSubscriptionTimeout {
		return maxSubscriptionTimeout
	}
	return d
}

// subscribe registers a new subscriber, starts its delivery worker and
// sends the initial NOTIFY containing every evented state variable's
// current value. Returns the SID and the effective timeout.
func (t *subscriptionTable) subscribe(callbackURLs []string, timeout time.Duration) (string, time.Duration) {
	eff := clampTimeout(timeout)
	sub := newSubscription(callbackURLs, eff)

	t.mu.Lock()
	t.subs[sub.sid] = sub
	t.mu.Unlock()

	go t.deliveryLoop(sub)

	initial := t.svc.snapshotEventedState()
	t.queueChange(sub, initial)

	return sub.sid, eff
}

// renew extends an existing subscription's lease. ok is false if sid is
// unknown.
func (t *subscriptionTable) renew(sid string, timeout time.Duration) (time.Duration, bool) {
	t.mu.RLock()
	sub, ok := t.subs[sid]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	eff := clampTimeout(timeout)
	sub.renew(eff)
	return eff, true
}

// unsubscribe removes and stops a subscriber. ok is false if sid is
// unknown.
func (t *subscriptionTable) unsubscribe(sid string) bool {
	t.mu.Lock()
	sub, ok := t.subs[sid]
	if ok {
		delete(t.subs, sid)
	}
	t.mu.Unlock()
	if ok {
		close(sub.done)
	}
	return ok
}

// publish fans a state-variable change out to every live subscriber.
// Concurrent changes arriving faster than a subscriber can drain are
// coalesced: only the latest value per variable name survives, per
// spec.md §4.5's batching rule.
func (t *subscriptionTable) publish(name string, v upnptype.Value) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	change := map[string]upnptype.Value{name: v}
	for _, sub := range t.subs {
		t.queueChange(sub, change)
	}
}

func (t *subscriptionTable) queueChange(sub *subscription, change map[string]upnptype.Value) {
	sub.mu.Lock()
	for k, v := range change {
		sub.pending[k] = v
	}
	sub.dirty = true
	sub.mu.Unlock()

	select {
	case sub.queue <- struct{}{}:
	default:
	}
}

// deliveryLoop is the single serialized worker per subscription; it is
// the only goroutine that ever sends NOTIFY for this subscriber, which
// is what guarantees in-order delivery.
func (t *subscriptionTable) deliveryLoop(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.queue:
			sub.mu.Lock()
			if !sub.dirty {
				sub.mu.Unlock()
				continue
			}
			batch := sub.pending
			sub.pending = make(map[string]upnptype.Value)
			sub.dirty = false
			seq := sub.nextSeq()
			sub.mu.Unlock()

			err := deliverNotify(sub.callbackURLs, sub.sid, seq, batch)
			for attempt := 0; err != nil && attempt < maxNotifyRetries; attempt++ {
				waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				waitErr := sub.retryLimiter.Wait(waitCtx)
				cancel()
				if waitErr != nil {
					break
				}
				err = deliverNotify(sub.callbackURLs, sub.sid, seq, batch)
			}
			if err != nil {
				log.Warnf("runtime: NOTIFY to %v (sid=%s seq=%d) failed after retries, dropping subscription: %v", sub.callbackURLs, sub.sid, seq, err)
				t.dropFailed(sub, err)
				return
			}
		}
	}
}

// dropFailed removes sub from the table and stops its delivery worker,
// then tells the application a NOTIFY it could not deliver to any
// callback URL, per spec.md §4.5's "emit notify-failed(callback_urls,
// error) to the application and drop the subscription" and §7's "exactly
// once" requirement: the table lock guards against a concurrent
// unsubscribe also tearing this subscription down.
func (t *subscriptionTable) dropFailed(sub *subscription, err error) {
	t.mu.Lock()
	_, stillTracked := t.subs[sub.sid]
	if stillTracked {
		delete(t.subs, sub.sid)
	}
	t.mu.Unlock()
	if !stillTracked {
		return
	}
	close(sub.done)
	if t.svc.metrics != nil {
		t.svc.metrics.subscriptionsActive.Dec()
	}
	if t.svc.NotifyFailed != nil {
		t.svc.NotifyFailed(sub.sid, sub.callbackURLs, err)
	}
}

// deliverNotify sends one GENA NOTIFY request carrying batch's property
// set, trying each of callbackURLs in order and stopping at the first
// HTTP success, per spec.md §4.5's per-subscription callback fallback
// list. Grounded on the XML property-set shape from spec.md §4.5; the
// teacher has no analog since it never implements GENA.
func deliverNotify(callbackURLs []string, sid string, seq uint32, batch map[string]upnptype.Value) error {
	var lastErr error
	for _, callback := range callbackURLs {
		if err := deliverNotifyOnce(callback, sid, seq, batch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no callback URL configured")
	}
	return lastErr
}

func deliverNotifyOnce(callback, sid string, seq uint32, batch map[string]upnptype.Value) error {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>`)
	buf.WriteString(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	for name, v := range batch {
		buf.WriteString("<e:property>")
		fmt.Fprintf(&buf, "<%s>%s</%s>", name, escapeEventText(v.String()), name)
		buf.WriteString("</e:property>")
	}
	buf.WriteString(`</e:propertyset>`)

	req, err := http.NewRequest("NOTIFY", callback, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", fmt.Sprintf("%d", seq))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify recipient returned %s", resp.Status)
	}
	return nil
}

// stop halts delivery for every subscriber and removes them from the
// table; used during Host.Stop.
func (t *subscriptionTable) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sid, sub := range t.subs {
		close(sub.done)
		delete(t.subs, sid)
	}
}

// expireOnce removes every subscription whose lease has lapsed.
func (t *subscriptionTable) expireOnce() {
	now := time.Now()
	t.mu.Lock()
	var expired []*subscription
	for sid, sub := range t.subs {
		if sub.expired(now) {
			expired = append(expired, sub)
			delete(t.subs, sid)
		}
	}
	t.mu.Unlock()
	for _, sub := range expired {
		close(sub.done)
		if t.svc.metrics != nil {
			t.svc.metrics.subscriptionsActive.Dec()
		}
	}
}
