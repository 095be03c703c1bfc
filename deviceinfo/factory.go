package deviceinfo

import (
	"sync"

	"github.com/coissac-labs/halyard/proxy"
)

// registry is a process-wide, additive, map-keyed lookup of constructors
// by exact type string, generalized from the teacher's ObjectSet[T]
// pattern (upnp/objectstore/objectset.go: a generic map keyed by the
// object's own name) into a generic factory registry keyed by an
// external string rather than the stored value's own identity, since
// the stored values here are funcs, not Objects. Last registration for
// a given key wins, per spec.md §4.7.
type registry[F any] struct {
	mu      sync.RWMutex
	entries map[string]F
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{entries: make(map[string]F)}
}

func (r *registry[F]) register(key string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = f
}

func (r *registry[F]) lookup(key string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.entries[key]
	return f, ok
}

// ServiceProxyFactory constructs a ServiceProxy for one introspected
// service. appName/appVersion feed the proxy's outbound User-Agent.
type ServiceProxyFactory func(si *ServiceInfo, appName, appVersion string) *proxy.ServiceProxy

// DeviceProxy is the constructed client-side handle for one discovered
// device: its DeviceInfo plus one ServiceProxy per immediate service.
type DeviceProxy struct {
	Info     *DeviceInfo
	Services []*proxy.ServiceProxy
}

// DeviceProxyFactory constructs a DeviceProxy for one discovered device.
type DeviceProxyFactory func(di *DeviceInfo, appName, appVersion string) *DeviceProxy

var (
	serviceFactories = newRegistry[ServiceProxyFactory]()
	deviceFactories  = newRegistry[DeviceProxyFactory]()
)

// RegisterServiceProxyFactory overrides the ServiceProxy constructor
// used for serviceType. Additive: registering a second factory for the
// same serviceType replaces the first.
func RegisterServiceProxyFactory(serviceType string, f ServiceProxyFactory) {
	serviceFactories.register(serviceType, f)
}

// RegisterDeviceProxyFactory overrides the DeviceProxy constructor used
// for deviceType.
func RegisterDeviceProxyFactory(deviceType string, f DeviceProxyFactory) {
	deviceFactories.register(deviceType, f)
}

func defaultServiceProxyFactory(si *ServiceInfo, appName, appVersion string) *proxy.ServiceProxy {
	return proxy.NewServiceProxy(si.ServiceType, si.ServiceID, si.ControlURL, si.EventURL, appName, appVersion)
}

// BuildServiceProxy constructs a ServiceProxy for si, using any factory
// registered for si.ServiceType, falling back to a generic ServiceProxy.
func BuildServiceProxy(si *ServiceInfo, appName, appVersion string) *proxy.ServiceProxy {
	if f, ok := serviceFactories.lookup(si.ServiceType); ok {
		return f(si, appName, appVersion)
	}
	return defaultServiceProxyFactory(si, appName, appVersion)
}

func defaultDeviceProxyFactory(di *DeviceInfo, appName, appVersion string) *DeviceProxy {
	dp := &DeviceProxy{Info: di}
	for _, si := range di.Services() {
		dp.Services = append(dp.Services, BuildServiceProxy(si, appName, appVersion))
	}
	return dp
}

// BuildDeviceProxy constructs a DeviceProxy for di, using any factory
// registered for di.DeviceType, falling back to the generic
// DeviceProxy/ServiceProxy construction of every immediate service.
func BuildDeviceProxy(di *DeviceInfo, appName, appVersion string) *DeviceProxy {
	if f, ok := deviceFactories.lookup(di.DeviceType); ok {
		return f(di, appName, appVersion)
	}
	return defaultDeviceProxyFactory(di, appName, appVersion)
}
