package runtime

import (
	"fmt"

	"github.com/coissac-labs/halyard/description"
	"github.com/coissac-labs/halyard/upnptype"
)

// ActiveAction is the server-side handle a registered ActionHandler uses
// to read arguments, set outputs and complete a SOAP control request.
// Grounded on spec.md §4.5's Active Action and on the teacher's
// ControlHandler/decoder closure (pmoupnp/serviceinstance.go), generalized
// into an explicit object instead of an inline decoder callback.
type ActiveAction struct {
	svc        *Service
	desc       *description.Action
	in         map[string]string
	out        map[string]upnptype.Value
	acceptGzip bool
	locales    []string

	frozen  bool
	errCode int
	errDesc string
}

// ActionHandler is application code registered for one action name.
type ActionHandler func(a *ActiveAction)

// Default UPnPError messages for the codes spec.md §4.5 names.
var defaultErrorMessages = map[int]string{
	401: "Invalid Action",
	402: "Invalid Args",
	403: "Out of Sync",
	501: "Action Failed",
}

// Get returns the named input argument coerced to type t.
func (a *ActiveAction) Get(name string, t upnptype.Type) (upnptype.Value, error) {
	raw, ok := a.in[name]
	if !ok {
		return upnptype.Value{}, fmt.Errorf("runtime: argument %q not present in request", name)
	}
	v, err := upnptype.Parse(raw, t)
	if err != nil {
		return upnptype.Value{}, fmt.Errorf("runtime: argument %q: %w", name, err)
	}
	return v, nil
}

// GetLocales returns the Accept-Language-derived locale preference list
// for this request.
func (a *ActiveAction) GetLocales() []string { return a.locales }

// Set stores an output argument's value. Rejected (silently, per spec's
// "subsequent set calls are rejected" once frozen) after ReturnSuccess or
// ReturnError has been called.
func (a *ActiveAction) Set(name string, v upnptype.Value) {
	if a.frozen {
		return
	}
	a.out[name] = v
}

// ReturnSuccess freezes the action for successful response rendering.
func (a *ActiveAction) ReturnSuccess() {
	a.frozen = true
}

// ReturnError freezes the action with a UPnPError. If description is "",
// the default message for code is used.
func (a *ActiveAction) ReturnError(code int, description string) {
	if a.frozen {
		return
	}
	a.frozen = true
	a.errCode = code
	if description == "" {
		description = defaultErrorMessages[code]
	}
	a.errDesc = description
}

// failed reports whether ReturnError was called on this action.
func (a *ActiveAction) failed() bool { return a.errCode != 0 }
