package main

import (
	"flag"
	"fmt"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// avrisptest talks to an avrispd target directly over raw USB bulk
// endpoints, bypassing the host's CDC-ACM tty layer entirely. It exists
// for diagnosing a bridge that isn't enumerating as a serial port
// correctly, the same role the teacher's usbtest tool plays for an
// ST-Link that isn't enumerating as a debug probe.
func main() {
	flagVID := flag.Uint("vid", 0x2E8A, "USB vendor id; prefix with 0x for hex, otherwise read as decimal")
	flagPID := flag.Uint("pid", 0x000A, "USB product id")
	flagIface := flag.Int("iface", 1, "USB interface number carrying the CDC data endpoints")
	flagSend := flag.String("send", "30 20", "space-separated hex bytes to write, e.g. the GET_SYNC frame \"30 20\"")
	flag.Parse()

	frame, err := parseHexBytes(*flagSend)
	if err != nil {
		log.Fatalf("parsing --send: %v", err)
	}

	ctx := gousb.NewContext()
	defer ctx.Close()
	ctx.Debug(1)

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(*flagVID), gousb.ID(*flagPID))
	if err != nil {
		log.Fatalf("opening device %04x:%04x: %v", *flagVID, *flagPID, err)
	}
	if dev == nil {
		log.Fatalf("no device matching %04x:%04x found", *flagVID, *flagPID)
	}
	defer dev.Close()

	if err := dev.SetAutoDetach(true); err != nil {
		log.Warnf("SetAutoDetach failed (continuing): %v", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		log.Fatalf("claiming config 1: %v", err)
	}
	defer cfg.Close()

	intf, err := cfg.Interface(*flagIface, 0)
	if err != nil {
		log.Fatalf("claiming interface %d: %v", *flagIface, err)
	}
	defer intf.Close()

	outEp, err := intf.OutEndpoint(1)
	if err != nil {
		log.Fatalf("opening bulk OUT endpoint: %v", err)
	}
	inEp, err := intf.InEndpoint(2)
	if err != nil {
		log.Fatalf("opening bulk IN endpoint: %v", err)
	}

	n, err := outEp.Write(frame)
	if err != nil {
		log.Fatalf("writing frame: %v", err)
	}
	log.Infof("wrote %d bytes: % X", n, frame)

	buf := make([]byte, 64)
	stream, err := inEp.NewStream(64, 1)
	if err != nil {
		log.Fatalf("opening read stream: %v", err)
	}
	defer stream.Close()

	n, err = stream.Read(buf)
	if err != nil {
		log.Fatalf("reading reply: %v", err)
	}
	fmt.Printf("reply (%d bytes): % X\n", n, buf[:n])
}


func parseHexBytes(s string) ([]byte, error) {
	var out []byte
	var cur string
	flush := func() error {
		if cur == "" {
			return nil
		}
		var b int
		if _, err := fmt.Sscanf(cur, "%x", &b); err != nil {
			return fmt.Errorf("invalid hex byte %q: %w", cur, err)
		}
		out = append(out, byte(b))
		cur = ""
		return nil
	}
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		cur += string(r)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bytes parsed from %q", s)
	}
	return out, nil
}
