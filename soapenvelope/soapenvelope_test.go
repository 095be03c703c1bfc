package soapenvelope

import "testing"

func TestBuildAndParseActionRequestRoundTrip(t *testing.T) {
	raw, err := BuildRequest("urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", []Arg{
		{Name: "ObjectID", Value: "0"},
		{Name: "BrowseFlag", Value: "BrowseDirectChildren"},
		{Name: "Filter", Value: "*"},
		{Name: "StartingIndex", Value: "0"},
		{Name: "RequestedCount", Value: "0"},
		{Name: "SortCriteria", Value: ""},
	})
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	req, err := ParseAction(env)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if req.Action != "Browse" {
		t.Errorf("Action = %q, want Browse", req.Action)
	}
	if req.URN != "urn:schemas-upnp-org:service:ContentDirectory:1" {
		t.Errorf("URN = %q, want the ContentDirectory urn", req.URN)
	}
	wantOrder := []string{"ObjectID", "BrowseFlag", "Filter", "StartingIndex", "RequestedCount", "SortCriteria"}
	if len(req.Args) != len(wantOrder) {
		t.Fatalf("got %d args, want %d", len(req.Args), len(wantOrder))
	}
	for i, name := range wantOrder {
		if req.Args[i].Name != name {
			t.Errorf("arg %d = %q, want %q (argument order must be preserved)", i, req.Args[i].Name, name)
		}
	}
}

func TestBuildAndParseActionResponseRoundTrip(t *testing.T) {
	raw, err := BuildResponse("urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", []Arg{
		{Name: "Result", Value: "Hello world"},
		{Name: "NumberReturned", Value: "0"},
		{Name: "TotalMatches", Value: "0"},
	})
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	resp, fault, err := ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if fault != nil {
		t.Fatalf("unexpected fault: %+v", fault)
	}
	if resp.Action != "BrowseResponse" {
		t.Errorf("Action = %q, want BrowseResponse", resp.Action)
	}
	got := map[string]string{}
	for _, a := range resp.Args {
		got[a.Name] = a.Value
	}
	if got["Result"] != "Hello world" || got["NumberReturned"] != "0" || got["TotalMatches"] != "0" {
		t.Errorf("args = %+v", got)
	}
}

func TestBuildAndParseFaultRoundTrip(t *testing.T) {
	raw, err := BuildFault(401, "Invalid Action")
	if err != nil {
		t.Fatalf("BuildFault: %v", err)
	}
	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	resp, fault, err := ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected no response, got %+v", resp)
	}
	if fault == nil {
		t.Fatal("expected a fault")
	}
	if fault.ErrorCode != 401 || fault.Description != "Invalid Action" {
		t.Errorf("fault = %+v", fault)
	}
}
