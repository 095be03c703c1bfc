// Package soapenvelope builds and parses the SOAP envelopes used for UPnP
// control: action requests/responses on the server side, and the matching
// decode on the client side. It is shared by runtime (server) and proxy
// (client) so the wire format is defined exactly once.
package soapenvelope

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

const (
	soapNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncNS = "http://schemas.xmlsoap.org/soap/encoding/"
	controlNS = "urn:schemas-upnp-org:control-1-0"
)

// Envelope is the raw SOAP envelope: a Body whose inner XML is left
// unparsed until the caller knows whether to decode it as an action
// request, an action response, or a fault.
type Envelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    struct {
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Parse decodes the outer SOAP envelope, leaving the Body contents raw.
func Parse(body []byte) (*Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("soapenvelope: parse envelope: %w", err)
	}
	return &env, nil
}

// Arg is a single ordered name/value pair, used for both request
// arguments (direction=in) and response arguments (direction=out).
type Arg struct {
	Name  string
	Value string
}

// ActionRequest is a decoded <Envelope><Body><u:ActionName>...</u:ActionName>.
type ActionRequest struct {
	Action string
	URN    string
	Args   []Arg
}

// ParseAction decodes env's body as an action request/invocation. The
// element name is the action name; its xmlns is the serviceType URN,
// which callers can check against the target service for the namespace
// preservation invariant.
func ParseAction(env *Envelope) (*ActionRequest, error) {
	dec := xml.NewDecoder(bytes.NewReader(env.Body.Content))
	req := &ActionRequest{}

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("soapenvelope: parse action: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if req.Action == "" {
			req.Action = start.Name.Local
			req.URN = start.Name.Space
			continue
		}
		var value string
		if err := dec.DecodeElement(&value, &start); err != nil {
			return nil, fmt.Errorf("soapenvelope: decode argument %s: %w", start.Name.Local, err)
		}
		req.Args = append(req.Args, Arg{Name: start.Name.Local, Value: value})
	}

	if req.Action == "" {
		return nil, fmt.Errorf("soapenvelope: empty action body")
	}
	return req, nil
}

// ActionResponse is a decoded <Envelope><Body><u:ActionNameResponse>...</u:ActionNameResponse>.
type ActionResponse struct {
	Action string
	Args   []Arg
}

// Fault is a decoded SOAP Fault with its UPnPError detail.
type Fault struct {
	FaultCode   string
	FaultString string
	ErrorCode   int
	Description string
}

// ParseResponse decodes env's body as either an action response or a
// SOAP Fault.
func ParseResponse(env *Envelope) (*ActionResponse, *Fault, error) {
	dec := xml.NewDecoder(bytes.NewReader(env.Body.Content))

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("soapenvelope: parse response: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == "Fault" {
			var raw struct {
				FaultCode   string `xml:"faultcode"`
				FaultString string `xml:"faultstring"`
				Detail      struct {
					UPnPError struct {
						ErrorCode        int    `xml:"errorCode"`
						ErrorDescription string `xml:"errorDescription"`
					} `xml:"UPnPError"`
				} `xml:"detail"`
			}
			if err := dec.DecodeElement(&raw, &start); err != nil {
				return nil, nil, fmt.Errorf("soapenvelope: malformed fault: %w", err)
			}
			return nil, &Fault{
				FaultCode:   raw.FaultCode,
				FaultString: raw.FaultString,
				ErrorCode:   raw.Detail.UPnPError.ErrorCode,
				Description: raw.Detail.UPnPError.ErrorDescription,
			}, nil
		}

		resp := &ActionResponse{Action: start.Name.Local}
		for {
			tok, err := dec.Token()
			if err != nil {
				if err == io.EOF {
					break
				}
				return nil, nil, fmt.Errorf("soapenvelope: parse response args: %w", err)
			}
			argStart, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}
			var value string
			if err := dec.DecodeElement(&value, &argStart); err != nil {
				return nil, nil, fmt.Errorf("soapenvelope: decode response arg %s: %w", argStart.Name.Local, err)
			}
			resp.Args = append(resp.Args, Arg{Name: argStart.Name.Local, Value: value})
		}
		return resp, nil, nil
	}

	return nil, nil, fmt.Errorf("soapenvelope: empty response body")
}

// soapDoc is the wire shape shared by request/response/fault emission.
type soapDoc struct {
	XMLName xml.Name `xml:"s:Envelope"`
	SoapNS  string   `xml:"xmlns:s,attr"`
	EncNS   string   `xml:"s:encodingStyle,attr"`
	Body    soapBody `xml:"s:Body"`
}

type soapBody struct {
	Content []byte `xml:",innerxml"`
}

func marshalDoc(bodyContent []byte) ([]byte, error) {
	doc := soapDoc{SoapNS: soapNS, EncNS: soapEncNS, Body: soapBody{Content: bodyContent}}
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("soapenvelope: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildRequest renders a SOAP action invocation for urn/action with args
// in the given order, for the client side of the proxy.
func BuildRequest(urn, action string, args []Arg) ([]byte, error) {
	var body bytes.Buffer
	fmt.Fprintf(&body, `<u:%s xmlns:u="%s">`, action, xmlAttrEscape(urn))
	for _, a := range args {
		fmt.Fprintf(&body, "<%s>%s</%s>", a.Name, xmlEscape(a.Value), a.Name)
	}
	fmt.Fprintf(&body, `</u:%s>`, action)
	return marshalDoc(body.Bytes())
}

// BuildResponse renders a SOAP action response for urn/action with out
// arguments in SCPD order, for the server side of the runtime.
func BuildResponse(urn, action string, args []Arg) ([]byte, error) {
	var body bytes.Buffer
	fmt.Fprintf(&body, `<u:%sResponse xmlns:u="%s">`, action, xmlAttrEscape(urn))
	for _, a := range args {
		fmt.Fprintf(&body, "<%s>%s</%s>", a.Name, xmlEscape(a.Value), a.Name)
	}
	fmt.Fprintf(&body, `</u:%sResponse>`, action)
	return marshalDoc(body.Bytes())
}

// BuildFault renders a SOAP Fault carrying a UPnPError, with the error
// namespace emitted as a real xmlns attribute (spec.md §9: the teacher
// emits this namespace via a raw string; here it goes through the XML
// encoder like every other element).
func BuildFault(errorCode int, description string) ([]byte, error) {
	type upnpError struct {
		XMLName     xml.Name `xml:"UPnPError"`
		NS          string   `xml:"xmlns,attr"`
		ErrorCode   int      `xml:"errorCode"`
		Description string   `xml:"errorDescription"`
	}
	type detail struct {
		XMLName   xml.Name  `xml:"detail"`
		UPnPError upnpError `xml:"UPnPError"`
	}
	type fault struct {
		XMLName     xml.Name `xml:"Fault"`
		FaultCode   string   `xml:"faultcode"`
		FaultString string   `xml:"faultstring"`
		Detail      detail   `xml:"detail"`
	}

	f := fault{
		FaultCode:   "s:Client",
		FaultString: "UPnPError",
		Detail: detail{
			UPnPError: upnpError{NS: controlNS, ErrorCode: errorCode, Description: description},
		},
	}
	body, err := xml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("soapenvelope: marshal fault: %w", err)
	}
	return marshalDoc(body)
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// xmlAttrEscape escapes a string for use inside a double-quoted XML
// attribute value. It is the same as xmlEscape: xml.EscapeText already
// escapes both quote characters.
func xmlAttrEscape(s string) string {
	return xmlEscape(s)
}
