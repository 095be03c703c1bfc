package description

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"

	"github.com/coissac-labs/halyard/upnptype"
	"github.com/coissac-labs/halyard/upnpxml"
)

// ParseWarning is returned alongside a successfully parsed document to
// report non-fatal issues (an unresolved relatedStateVariable, for
// example) that spec.md treats as warnings rather than parse failures.
type ParseWarning struct {
	Message string
}

func (w *ParseWarning) Error() string { return w.Message }

// ParseDeviceDescription builds the device tree rooted at <device> from a
// UPnP device description document. baseURL is the location the document
// was fetched from; it is overridden by an explicit <URLBase> if present,
// per spec.md §4.3.
func ParseDeviceDescription(raw []byte, baseURL *url.URL) (*Device, []*ParseWarning, error) {
	root, err := upnpxml.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("description: parse device description: %w", err)
	}

	base := baseURL
	if b := upnpxml.ChildText(root, "URLBase"); b != "" {
		u, err := url.Parse(b)
		if err == nil {
			base = u
		}
	}

	deviceElem := upnpxml.Child(root, "device")
	if deviceElem == nil {
		return nil, nil, fmt.Errorf("description: no <device> element")
	}

	var warnings []*ParseWarning
	dev := parseDevice(deviceElem, base, &warnings)
	return dev, warnings, nil
}

func parseDevice(elem *etree.Element, base *url.URL, warnings *[]*ParseWarning) *Device {
	d := &Device{
		DeviceType:       upnpxml.ChildText(elem, "deviceType"),
		UDN:              upnpxml.ChildText(elem, "UDN"),
		FriendlyName:     upnpxml.ChildText(elem, "friendlyName"),
		Manufacturer:     upnpxml.ChildText(elem, "manufacturer"),
		ManufacturerURL:  upnpxml.ChildText(elem, "manufacturerURL"),
		ModelDescription: upnpxml.ChildText(elem, "modelDescription"),
		ModelName:        upnpxml.ChildText(elem, "modelName"),
		ModelNumber:      upnpxml.ChildText(elem, "modelNumber"),
		ModelURL:         upnpxml.ChildText(elem, "modelURL"),
		SerialNumber:     upnpxml.ChildText(elem, "serialNumber"),
		UPC:              upnpxml.ChildText(elem, "UPC"),
		PresentationURL:  resolve(base, upnpxml.ChildText(elem, "presentationURL")),
	}

	if iconList := upnpxml.Child(elem, "iconList"); iconList != nil {
		for _, ic := range upnpxml.Children(iconList, "icon") {
			w, _ := upnpxml.ChildInt(ic, "width")
			h, _ := upnpxml.ChildInt(ic, "height")
			depth, _ := upnpxml.ChildInt(ic, "depth")
			d.Icons = append(d.Icons, Icon{
				Mimetype: upnpxml.ChildText(ic, "mimetype"),
				Width:    w,
				Height:   h,
				Depth:    depth,
				URL:      resolve(base, upnpxml.ChildText(ic, "url")),
			})
		}
	}

	if serviceList := upnpxml.Child(elem, "serviceList"); serviceList != nil {
		for _, se := range upnpxml.Children(serviceList, "service") {
			d.Services = append(d.Services, &Service{
				ServiceType: upnpxml.ChildText(se, "serviceType"),
				ServiceID:   upnpxml.ChildText(se, "serviceId"),
				ControlURL:  resolve(base, upnpxml.ChildText(se, "controlURL")),
				EventURL:    resolve(base, upnpxml.ChildText(se, "eventSubURL")),
				SCPDURL:     resolve(base, upnpxml.ChildText(se, "SCPDURL")),
			})
		}
	}

	if deviceList := upnpxml.Child(elem, "deviceList"); deviceList != nil {
		for _, de := range upnpxml.Children(deviceList, "device") {
			d.SubDevices = append(d.SubDevices, parseDevice(de, base, warnings))
		}
	}

	return d
}

// resolve joins ref against base, returning ref unchanged if it is already
// absolute or base is nil.
func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}

// ParseSCPD parses a service description (SCPD) document into its actions
// and state variables. The returned Service has ServiceType/ServiceID/
// *URL fields left zero — callers merge this into the Service obtained
// from the device description.
func ParseSCPD(raw []byte) (*Service, []*ParseWarning, error) {
	root, err := upnpxml.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("description: parse scpd: %w", err)
	}

	svc := &Service{
		Actions:        map[string]*Action{},
		StateVariables: map[string]*StateVariable{},
	}

	if svt := upnpxml.Child(root, "serviceStateTable"); svt != nil {
		for _, sv := range upnpxml.Children(svt, "stateVariable") {
			parsed := parseStateVariable(sv)
			svc.StateVariables[parsed.Name] = parsed
		}
	}

	var warnings []*ParseWarning
	if al := upnpxml.Child(root, "actionList"); al != nil {
		for _, ae := range upnpxml.Children(al, "action") {
			a := &Action{Name: upnpxml.ChildText(ae, "name")}
			if argList := upnpxml.Child(ae, "argumentList"); argList != nil {
				for _, arge := range upnpxml.Children(argList, "argument") {
					dirStr := upnpxml.ChildText(arge, "direction")
					dir, ok := ParseDirection(dirStr)
					if !ok {
						dir = In
					}
					related := upnpxml.ChildText(arge, "relatedStateVariable")
					if _, ok := svc.StateVariables[related]; !ok {
						warnings = append(warnings, &ParseWarning{
							Message: fmt.Sprintf("action %s: argument %s references unknown state variable %q",
								a.Name, upnpxml.ChildText(arge, "name"), related),
						})
					}
					a.Arguments = append(a.Arguments, Argument{
						Name:                 upnpxml.ChildText(arge, "name"),
						Direction:            dir,
						Retval:               upnpxml.Child(arge, "retval") != nil,
						RelatedStateVariable: related,
					})
				}
			}
			svc.Actions[a.Name] = a
		}
	}

	return svc, warnings, nil
}

func parseStateVariable(elem *etree.Element) *StateVariable {
	dataType := upnptype.ParseType(upnpxml.ChildText(elem, "dataType"))

	sendEvents := true
	if attr := elem.SelectAttr("sendEvents"); attr != nil {
		sendEvents = strings.EqualFold(attr.Value, "yes")
	}
	multicast := false
	if attr := elem.SelectAttr("multicast"); attr != nil {
		multicast = strings.EqualFold(attr.Value, "yes")
	}

	sv := &StateVariable{
		Name:            upnpxml.ChildText(elem, "name"),
		SendEvents:      sendEvents,
		MulticastEvents: multicast,
		DataType:        dataType,
	}

	if dv := upnpxml.Child(elem, "defaultValue"); dv != nil {
		if v, err := upnptype.Parse(strings.TrimSpace(dv.Text()), dataType); err == nil {
			sv.DefaultValue = v
		}
	}

	if avl := upnpxml.Child(elem, "allowedValueList"); avl != nil {
		for _, v := range upnpxml.Children(avl, "allowedValue") {
			sv.AllowedValues = append(sv.AllowedValues, strings.TrimSpace(v.Text()))
		}
	}

	if avr := upnpxml.Child(elem, "allowedValueRange"); avr != nil && dataType.IsNumeric() {
		min, _ := upnptype.Parse(upnpxml.ChildText(avr, "minimum"), dataType)
		max, _ := upnptype.Parse(upnpxml.ChildText(avr, "maximum"), dataType)
		var step upnptype.Value
		if s := upnpxml.ChildText(avr, "step"); s != "" {
			step, _ = upnptype.Parse(s, dataType)
		}
		if r, err := upnptype.NewRange(dataType, min, max, step); err == nil {
			sv.Range = &r
		}
	}

	return sv
}
