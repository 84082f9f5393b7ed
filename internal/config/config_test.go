package config

import (
	"testing"
	"time"
)

const sample = `
[Net]
DropTimeout = 3000
MaxOutlistSize = 200
MaxRetries = 15

[Listen]
Port = 5000
AllowCont = true

[Listen1]
Port = 5001
AllowVIE = false
ConnectAs = "alt"

[Chat]
MessageReliable = true
FloodLimit = 10
`

func TestAccessorsApplyConfiguredValues(t *testing.T) {
	c, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := c.GetDuration("Net", "DropTimeout", time.Second); got != 3*time.Second {
		t.Fatalf("DropTimeout = %v, want 3s", got)
	}
	if got := c.GetInt("Net", "MaxOutlistSize", -1); got != 200 {
		t.Fatalf("MaxOutlistSize = %d, want 200", got)
	}
	if got := c.GetBool("Chat", "MessageReliable", false); !got {
		t.Fatalf("MessageReliable = false, want true")
	}
}

func TestAccessorsFallBackToDefaults(t *testing.T) {
	c, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := c.GetInt("Net", "PerPacketOverhead", 28); got != 28 {
		t.Fatalf("PerPacketOverhead = %d, want default 28", got)
	}
	if got := c.GetString("Missing", "Key", "fallback"); got != "fallback" {
		t.Fatalf("GetString = %q, want fallback", got)
	}
}

func TestListenersDiscoversBlocksByRegex(t *testing.T) {
	c, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	listeners := c.Listeners()
	if len(listeners) != 2 {
		t.Fatalf("got %d listeners, want 2", len(listeners))
	}
	byPort := map[int]ListenerSpec{}
	for _, l := range listeners {
		byPort[l.Port] = l
	}
	if l, ok := byPort[5000]; !ok || !l.AllowCont || l.BindAddress != "0.0.0.0" {
		t.Fatalf("Listen block = %+v", l)
	}
	if l, ok := byPort[5001]; !ok || l.AllowVIE || l.ConnectAs != "alt" {
		t.Fatalf("Listen1 block = %+v", l)
	}
}

func TestListenersSkipsBlockWithoutPort(t *testing.T) {
	c, err := Parse("[Listen2]\nBindAddress = \"127.0.0.1\"\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Listeners()) != 0 {
		t.Fatalf("expected portless listener block to be skipped")
	}
}
