// Package deviceinfo implements the client-side device/service
// introspection model and the resource factory (spec.md §4.7): typed
// wrappers over a parsed device description that lazily build
// ServiceInfo entries and download/parse SCPDs on demand, plus a
// process-wide registry mapping serviceType/deviceType to the proxy
// constructor applications can override.
package deviceinfo

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/coissac-labs/halyard/description"
)

// DeviceInfo is the client-side handle for one device node of a parsed
// device description tree. Grounded on description.Device (§4.3); the
// teacher has no client-side device model at all (it only ever
// constructs its own fixed device for serving, never consumes someone
// else's description).
type DeviceInfo struct {
	UDN              string
	DeviceType       string
	FriendlyName     string
	Manufacturer     string
	ModelName        string
	PresentationURL  string

	device *description.Device
}

// NewDeviceInfo wraps a parsed description.Device.
func NewDeviceInfo(dev *description.Device) *DeviceInfo {
	return &DeviceInfo{
		UDN:             dev.UDN,
		DeviceType:      dev.DeviceType,
		FriendlyName:    dev.FriendlyName,
		Manufacturer:    dev.Manufacturer,
		ModelName:       dev.ModelName,
		PresentationURL: dev.PresentationURL,
		device:          dev,
	}
}

// Services returns a ServiceInfo for each of this device's immediate
// services, in description order.
func (d *DeviceInfo) Services() []*ServiceInfo {
	out := make([]*ServiceInfo, 0, len(d.device.Services))
	for _, svc := range d.device.Services {
		out = append(out, NewServiceInfo(svc))
	}
	return out
}

// SubDevices returns a DeviceInfo for each immediate embedded device.
func (d *DeviceInfo) SubDevices() []*DeviceInfo {
	out := make([]*DeviceInfo, 0, len(d.device.SubDevices))
	for _, sub := range d.device.SubDevices {
		out = append(out, NewDeviceInfo(sub))
	}
	return out
}

// SelectIcon chooses the URL of the best icon for constraint, per §4.3.
func (d *DeviceInfo) SelectIcon(constraint description.IconConstraint) (string, bool) {
	return description.SelectIcon(d.device.Icons, constraint)
}

// FindByUDN searches d and its sub-devices for the device named udn.
func (d *DeviceInfo) FindByUDN(udn string) *DeviceInfo {
	found := description.FindByUDN(d.device, udn)
	if found == nil {
		return nil
	}
	return NewDeviceInfo(found)
}

// ServiceInfo is the client-side handle for one <service> entry, before
// or after SCPD introspection.
type ServiceInfo struct {
	ServiceType string
	ServiceID   string
	ControlURL  string
	EventURL    string
	SCPDURL     string

	device *description.Service
}

// NewServiceInfo wraps a parsed description.Service.
func NewServiceInfo(svc *description.Service) *ServiceInfo {
	return &ServiceInfo{
		ServiceType: svc.ServiceType,
		ServiceID:   svc.ServiceID,
		ControlURL:  svc.ControlURL,
		EventURL:    svc.EventURL,
		SCPDURL:     svc.SCPDURL,
		device:      svc,
	}
}

// Introspect downloads and parses this service's SCPD document, per
// §4.3, returning the fully typed action/state-variable model. Parse
// warnings are returned for the caller to log; nothing is logged here; a nil client
// uses http.DefaultClient.
func (si *ServiceInfo) Introspect(ctx context.Context, client *http.Client) (*description.Service, []*description.ParseWarning, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, si.SCPDURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("deviceinfo: build SCPD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("deviceinfo: fetch SCPD %s: %w", si.SCPDURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("deviceinfo: fetch SCPD %s: HTTP %s", si.SCPDURL, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("deviceinfo: read SCPD %s: %w", si.SCPDURL, err)
	}

	scpd, warnings, err := description.ParseSCPD(raw)
	if err != nil {
		return nil, warnings, fmt.Errorf("deviceinfo: parse SCPD %s: %w", si.SCPDURL, err)
	}
	scpd.ServiceType = si.ServiceType
	scpd.ServiceID = si.ServiceID
	scpd.ControlURL = si.ControlURL
	scpd.EventURL = si.EventURL
	scpd.SCPDURL = si.SCPDURL
	return scpd, warnings, nil
}
