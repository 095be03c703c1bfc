// Package controlpoint implements the control-point side of discovery
// (spec.md §4.8): it consumes resource-available/resource-unavailable
// events from an external discovery collaborator, fetches and parses the
// matching device description exactly once per USN, and emits
// DeviceProxy/ServiceProxy availability signals to the application.
package controlpoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/coissac-labs/halyard/description"
	"github.com/coissac-labs/halyard/deviceinfo"
	"github.com/coissac-labs/halyard/proxy"
)

// Discoverer is the inbound event surface a discovery collaborator drives
// a ControlPoint through. Grounded on the teacher's SSDP announce side
// (ssdp/server.go), read in reverse: the teacher emits NOTIFYs carrying a
// USN of the form "uuid:<UUID>::<NT>" to advertise a device it owns; a
// ControlPoint instead receives that same USN shape, already parsed out
// of the wire protocol, from someone else's discovery transport.
type Discoverer interface {
	ResourceAvailable(usn string, locations []string)
	ResourceUnavailable(usn string)
}

// fetchTimeout bounds every device-description GET, per spec.md §5's
// "HTTP reads carry a per-request deadline" requirement.
const fetchTimeout = 10 * time.Second

// fetchRate paces description fetches across a ControlPoint's locations
// (and across concurrently-announced USNs), so a flapping or reconnecting
// network never turns into a fetch storm.
var fetchRate = rate.Every(200 * time.Millisecond)

const fetchBurst = 5

// ServiceUnavailable is the payload of an OnServiceUnavailable signal.
type ServiceUnavailable struct {
	USN         string
	ServiceType string
}

type trackedDevice struct {
	location string
	proxy    *deviceinfo.DeviceProxy
}

// ControlPoint watches one target type (a device type or service type
// URN) and turns discovery events into proxy availability signals, per
// spec.md §4.8.
type ControlPoint struct {
	TargetType string
	HTTPClient *http.Client
	AppName    string
	AppVersion string

	mu           sync.Mutex
	tracked      map[string]*trackedDevice
	fetchLimiter *rate.Limiter

	deviceAvailable     *signal[*deviceinfo.DeviceProxy]
	deviceUnavailable   *signal[string]
	serviceAvailable    *signal[*proxy.ServiceProxy]
	serviceUnavailable  *signal[ServiceUnavailable]
}

// NewControlPoint builds a ControlPoint watching targetType, a device or
// service type URN matched against the NT portion of incoming USNs.
func NewControlPoint(targetType, appName, appVersion string) *ControlPoint {
	return &ControlPoint{
		TargetType:         targetType,
		AppName:            appName,
		AppVersion:         appVersion,
		tracked:            make(map[string]*trackedDevice),
		fetchLimiter:       rate.NewLimiter(fetchRate, fetchBurst),
		deviceAvailable:    newSignal[*deviceinfo.DeviceProxy](),
		deviceUnavailable:  newSignal[string](),
		serviceAvailable:   newSignal[*proxy.ServiceProxy](),
		serviceUnavailable: newSignal[ServiceUnavailable](),
	}
}

// OnDeviceAvailable registers fn to run once a watched device's
// DeviceProxy has been built. The returned func unregisters it.
func (cp *ControlPoint) OnDeviceAvailable(fn func(*deviceinfo.DeviceProxy)) func() {
	return cp.deviceAvailable.on(fn)
}

// OnDeviceUnavailable registers fn to run, with the device's USN, once a
// watched device goes away.
func (cp *ControlPoint) OnDeviceUnavailable(fn func(usn string)) func() {
	return cp.deviceUnavailable.on(fn)
}

// OnServiceAvailable registers fn to run once more for every immediate
// service ServiceProxy built for a watched device, after its
// device-proxy-available signal.
func (cp *ControlPoint) OnServiceAvailable(fn func(*proxy.ServiceProxy)) func() {
	return cp.serviceAvailable.on(fn)
}

// OnServiceUnavailable registers fn to run for every service of a device
// that goes away, before that device's OnDeviceUnavailable.
func (cp *ControlPoint) OnServiceUnavailable(fn func(ServiceUnavailable)) func() {
	return cp.serviceUnavailable.on(fn)
}

// ResourceAvailable implements Discoverer. A USN not matching TargetType,
// or already tracked, is ignored: per spec.md §4.8 a device with multiple
// locations is fetched only once, and subsequent announcements for a USN
// already being tracked are ignored until it goes fully unavailable.
func (cp *ControlPoint) ResourceAvailable(usn string, locations []string) {
	if !cp.matchesTarget(usn) {
		return
	}

	cp.mu.Lock()
	if _, ok := cp.tracked[usn]; ok {
		cp.mu.Unlock()
		return
	}
	cp.tracked[usn] = &trackedDevice{}
	cp.mu.Unlock()

	cp.fetchAndAnnounce(usn, locations)
}

// ResourceUnavailable implements Discoverer.
func (cp *ControlPoint) ResourceUnavailable(usn string) {
	cp.mu.Lock()
	td, ok := cp.tracked[usn]
	delete(cp.tracked, usn)
	cp.mu.Unlock()
	if !ok || td.proxy == nil {
		return
	}

	for _, sp := range td.proxy.Services {
		cp.serviceUnavailable.emit(ServiceUnavailable{USN: usn, ServiceType: sp.ServiceType})
	}
	cp.deviceUnavailable.emit(usn)
}

func (cp *ControlPoint) matchesTarget(usn string) bool {
	_, nt, ok := splitUSN(usn)
	if !ok {
		return false
	}
	return nt == cp.TargetType
}

func (cp *ControlPoint) fetchAndAnnounce(usn string, locations []string) {
	udn, _, _ := splitUSN(usn)

	var dev *description.Device
	var fetchedFrom string
	for _, loc := range locations {
		waitCtx, waitCancel := context.WithTimeout(context.Background(), fetchTimeout)
		waitErr := cp.fetchLimiter.Wait(waitCtx)
		waitCancel()
		if waitErr != nil {
			log.Warnf("controlpoint: rate limit wait for %s: %v", loc, waitErr)
			continue
		}

		d, err := cp.fetchDescription(loc)
		if err != nil {
			log.Warnf("controlpoint: fetch %s for %s: %v", loc, usn, err)
			continue
		}
		dev = d
		fetchedFrom = loc
		break
	}
	if dev == nil {
		cp.mu.Lock()
		delete(cp.tracked, usn)
		cp.mu.Unlock()
		log.Warnf("controlpoint: no reachable location for %s", usn)
		return
	}

	node := description.FindByUDN(dev, udn)
	if node == nil {
		node = dev
	}

	di := deviceinfo.NewDeviceInfo(node)
	dp := deviceinfo.BuildDeviceProxy(di, cp.AppName, cp.AppVersion)

	cp.mu.Lock()
	cp.tracked[usn] = &trackedDevice{location: fetchedFrom, proxy: dp}
	cp.mu.Unlock()

	cp.deviceAvailable.emit(dp)
	for _, sp := range dp.Services {
		cp.serviceAvailable.emit(sp)
	}
}

func (cp *ControlPoint) fetchDescription(location string) (*description.Device, error) {
	client := cp.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse location %q: %w", location, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %s", location, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	dev, warnings, err := description.ParseDeviceDescription(raw, base)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warnf("controlpoint: %s: %s", location, w.Message)
	}
	return dev, nil
}

// splitUSN splits a USN of the form "uuid:<UDN>::<NT>" into its UDN (kept
// with the "uuid:" prefix, matching how description.Device.UDN reads the
// <UDN> element verbatim) and NT parts, per the shape the teacher's SSDP
// server emits (ssdp/server.go's SendAlive/SendByeBye). A bare
// "uuid:<UDN>" root-device USN carries no type information and never
// matches a non-empty TargetType.
func splitUSN(usn string) (udn, nt string, ok bool) {
	idx := strings.Index(usn, "::")
	if idx < 0 {
		return usn, "", false
	}
	return usn[:idx], usn[idx+2:], true
}
