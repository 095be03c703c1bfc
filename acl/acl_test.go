package acl

import (
	"context"
	"testing"
)

func TestAllowAll(t *testing.T) {
	var c Checker = AllowAll{}
	if !c.CanSync() {
		t.Error("AllowAll.CanSync() should be true")
	}
	if !c.IsAllowed(Request{Path: "/upnp/control/X"}) {
		t.Error("AllowAll.IsAllowed should always be true")
	}
	if !c.IsAllowedAsync(context.Background(), Request{}) {
		t.Error("AllowAll.IsAllowedAsync should always be true")
	}
}

type denyAll struct{}

func (denyAll) CanSync() bool                               { return true }
func (denyAll) IsAllowed(Request) bool                       { return false }
func (denyAll) IsAllowedAsync(context.Context, Request) bool { return false }

func TestCheckerInterfaceCustomImplementation(t *testing.T) {
	var c Checker = denyAll{}
	if c.IsAllowed(Request{Path: "/x"}) {
		t.Error("denyAll should deny everything")
	}
}
