package util

import "testing"

func TestCheckValidCidr(t *testing.T) {
	valid := []string{"10.0.0.1/24", "192.168.1.1/32", "172.16.0.0/12"}
	for _, s := range valid {
		if !CheckValidCidr(s) {
			t.Errorf("CheckValidCidr(%q) = false, want true", s)
		}
	}
	invalid := []string{"", "10.0.0.1", "10.0.0/24", "10.0.0.256/24", "10.0.0.1/33", "fe80::1/64", "10.0.0.1/24 "}
	for _, s := range invalid {
		if CheckValidCidr(s) {
			t.Errorf("CheckValidCidr(%q) = true, want false", s)
		}
	}
}

func TestGatewayAddr(t *testing.T) {
	got, err := GatewayAddr("10.10.0.0/24")
	if err != nil {
		t.Fatalf("GatewayAddr: %v", err)
	}
	if got != "10.10.0.1/24" {
		t.Fatalf("gateway=%s", got)
	}

	if _, err := GatewayAddr("not-a-subnet"); err == nil {
		t.Fatal("want error for bad subnet")
	}
}

func TestHostAddr(t *testing.T) {
	got, err := HostAddr("10.10.0.0/24", 5)
	if err != nil {
		t.Fatalf("HostAddr: %v", err)
	}
	if got != "10.10.0.5/24" {
		t.Fatalf("addr=%s", got)
	}

	for _, last := range []int{0, 255, -1} {
		if _, err := HostAddr("10.10.0.0/24", last); err == nil {
			t.Errorf("HostAddr(last=%d): want error", last)
		}
	}
}

func TestGatewayIP(t *testing.T) {
	gw, err := GatewayIP("10.10.0.0/24")
	if err != nil {
		t.Fatalf("GatewayIP: %v", err)
	}
	if gw.String() != "10.10.0.1" {
		t.Fatalf("gw=%s", gw)
	}
}
