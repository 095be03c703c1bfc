// Command halyard runs a standalone UPnP device exposing one example
// service (SwitchPower), wiring together the ambient config, the service
// runtime, its HTTP host and an SSDP announcer so the device is actually
// discoverable on the network.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/coissac-labs/halyard/internal/hconfig"
	"github.com/coissac-labs/halyard/netutils"
	"github.com/coissac-labs/halyard/runtime"
	"github.com/coissac-labs/halyard/ssdp"
)

const rootDeviceType = "urn:schemas-upnp-org:device:HalyardDemo:1"

const (
	appName    = "halyard"
	appVersion = "0.1.0"
)

func main() {
	cfg := hconfig.Load("")
	if level, err := log.ParseLevel(cfg.GetLogLevel()); err == nil {
		log.SetLevel(level)
	}

	if ips := netutils.ListAllIPs(); len(ips) > 0 {
		log.Infof("halyard: local addresses: %v", ips)
	}

	udn := cfg.GetDeviceUDN("switchpower", "default")
	port := cfg.GetHTTPPort()

	host := runtime.NewHost(appName, port, cfg.GetBaseURL())
	host.BindIP = cfg.GetBindIP()

	svc := newSwitchPowerService(appName, appVersion)
	host.Attach(svc)

	if err := host.Start(); err != nil {
		log.Fatalf("halyard: failed to start: %v", err)
	}
	log.Infof("halyard: device %s running at %s", udn, host.BaseURL())

	// runtime.Host serves service endpoints only, not a root device
	// description document, so the announced LOCATION points at the one
	// service's SCPD instead of a <root>/description.xml this demo
	// doesn't have.
	announcer := ssdp.NewAnnouncer(udn, rootDeviceType, []string{svc.Desc.ServiceType},
		host.BaseURL()+svc.Desc.SCPDURL, "halyard/"+appVersion+" UPnP/1.1")
	ssdpCtx, stopSSDP := context.WithCancel(context.Background())
	defer stopSSDP()
	if err := announcer.Start(ssdpCtx); err != nil {
		log.Warnf("halyard: SSDP announce disabled: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("halyard: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := host.Stop(ctx); err != nil {
		log.Warnf("halyard: error during shutdown: %v", err)
	}
}
