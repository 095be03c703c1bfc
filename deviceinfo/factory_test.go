package deviceinfo

import (
	"testing"

	"github.com/coissac-labs/halyard/description"
)

func TestBuildDeviceProxyDefaultBuildsOneProxyPerService(t *testing.T) {
	dev := &description.Device{
		DeviceType: "urn:schemas-upnp-org:device:MediaServer:1",
		UDN:        "uuid:device-1",
		Services: []*description.Service{
			{
				ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
				ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
				ControlURL:  "http://10.0.0.1:8080/control/cd",
				EventURL:    "http://10.0.0.1:8080/event/cd",
				SCPDURL:     "http://10.0.0.1:8080/scpd/cd.xml",
			},
			{
				ServiceType: "urn:schemas-upnp-org:service:ConnectionManager:1",
				ServiceID:   "urn:upnp-org:serviceId:ConnectionManager",
				ControlURL:  "http://10.0.0.1:8080/control/cm",
				EventURL:    "http://10.0.0.1:8080/event/cm",
				SCPDURL:     "http://10.0.0.1:8080/scpd/cm.xml",
			},
		},
	}
	di := NewDeviceInfo(dev)

	dp := BuildDeviceProxy(di, "halyard-test", "0.0.0")
	if dp.Info != di {
		t.Fatal("default factory should embed the DeviceInfo unchanged")
	}
	if len(dp.Services) != 2 {
		t.Fatalf("expected one ServiceProxy per immediate service, got %d", len(dp.Services))
	}
}

func TestBuildDeviceProxyOverride(t *testing.T) {
	dev := &description.Device{
		DeviceType: "urn:schemas-upnp-org:device:Override:1",
		UDN:        "uuid:device-override",
	}
	di := NewDeviceInfo(dev)

	var customCalled bool
	RegisterDeviceProxyFactory(di.DeviceType, func(di *DeviceInfo, appName, appVersion string) *DeviceProxy {
		customCalled = true
		return &DeviceProxy{Info: di}
	})

	dp := BuildDeviceProxy(di, "halyard-test", "0.0.0")
	if !customCalled {
		t.Fatal("registered device factory should have been used")
	}
	if dp.Info != di {
		t.Fatal("custom factory's DeviceProxy should carry the same DeviceInfo")
	}
}

func TestRegistryLookupMiss(t *testing.T) {
	r := newRegistry[int]()
	if _, ok := r.lookup("missing"); ok {
		t.Fatal("expected no entry for an unregistered key")
	}
	r.register("present", 42)
	v, ok := r.lookup("present")
	if !ok || v != 42 {
		t.Fatalf("expected 42, got %v ok=%v", v, ok)
	}
	r.register("present", 43)
	v, _ = r.lookup("present")
	if v != 43 {
		t.Fatalf("second registration should win, got %v", v)
	}
}
