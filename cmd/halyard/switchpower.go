package main

import (
	"github.com/coissac-labs/halyard/description"
	"github.com/coissac-labs/halyard/runtime"
	"github.com/coissac-labs/halyard/upnptype"
)

// switchPowerSCPD is a minimal urn:schemas-upnp-org:service:SwitchPower:1
// SCPD: one evented boolean state variable and the three standard actions.
const switchPowerSCPD = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <actionList>
    <action>
      <name>SetTarget</name>
      <argumentList>
        <argument><name>newTargetValue</name><direction>in</direction><relatedStateVariable>Target</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action>
      <name>GetTarget</name>
      <argumentList>
        <argument><name>RetTargetValue</name><direction>out</direction><relatedStateVariable>Target</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action>
      <name>GetStatus</name>
      <argumentList>
        <argument><name>ResultStatus</name><direction>out</direction><relatedStateVariable>Status</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="no"><name>Target</name><dataType>boolean</dataType><defaultValue>0</defaultValue></stateVariable>
    <stateVariable sendEvents="yes"><name>Status</name><dataType>boolean</dataType><defaultValue>0</defaultValue></stateVariable>
  </serviceStateTable>
</scpd>`

// newSwitchPowerService builds a toy SwitchPower service: the simplest
// evented UPnP service, used here to exercise the runtime end to end
// (control dispatch, state change, GENA notification) without pulling in
// a real-world domain model.
func newSwitchPowerService(appName, appVersion string) *runtime.Service {
	desc := &description.Service{
		ServiceType: "urn:schemas-upnp-org:service:SwitchPower:1",
		ServiceID:   "urn:upnp-org:serviceId:SwitchPower1",
		ControlURL:  "/upnp/control/switchpower",
		EventURL:    "/upnp/event/switchpower",
		SCPDURL:     "/upnp/scpd/switchpower.xml",
		Actions: map[string]*description.Action{
			"SetTarget": {
				Name: "SetTarget",
				Arguments: []description.Argument{
					{Name: "newTargetValue", Direction: description.In, RelatedStateVariable: "Target"},
				},
			},
			"GetTarget": {
				Name: "GetTarget",
				Arguments: []description.Argument{
					{Name: "RetTargetValue", Direction: description.Out, RelatedStateVariable: "Target"},
				},
			},
			"GetStatus": {
				Name: "GetStatus",
				Arguments: []description.Argument{
					{Name: "ResultStatus", Direction: description.Out, RelatedStateVariable: "Status"},
				},
			},
		},
		StateVariables: map[string]*description.StateVariable{
			"Target": {Name: "Target", DataType: upnptype.Boolean, DefaultValue: upnptype.NewBool(false)},
			"Status": {Name: "Status", DataType: upnptype.Boolean, SendEvents: true, DefaultValue: upnptype.NewBool(false)},
		},
	}

	svc := runtime.NewService(desc, []byte(switchPowerSCPD), appName, appVersion)

	svc.Handle("SetTarget", func(a *runtime.ActiveAction) {
		target, err := a.Get("newTargetValue", upnptype.Boolean)
		if err != nil {
			a.ReturnError(402, "")
			return
		}
		svc.Set("Target", target)
		svc.Set("Status", target)
		a.ReturnSuccess()
	})

	svc.Handle("GetTarget", func(a *runtime.ActiveAction) {
		v, _ := svc.Get("Target")
		a.Set("RetTargetValue", v)
		a.ReturnSuccess()
	})

	svc.Handle("GetStatus", func(a *runtime.ActiveAction) {
		v, _ := svc.Get("Status")
		a.Set("ResultStatus", v)
		a.ReturnSuccess()
	})

	return svc
}
