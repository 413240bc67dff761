package conf

import (
	"net"
	"testing"
	"time"
)

func TestParseRetentionPeriod(t *testing.T) {
	tests := []struct {
		name      string
		retention string
		wantHours int
		wantErr   bool
	}{
		{"hours", "24h", 24, false},
		{"days", "7d", 168, false},
		{"weeks", "1w", 168, false},
		{"months", "3m", 2160, false},
		{"years", "1y", 8760, false},
		{"plain integer is hours", "48", 48, false},
		{"thirty days", "30d", 720, false},
		{"empty", "", 0, true},
		{"bad suffix", "7x", 0, true},
		{"no number", "d", 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetentionPeriod(tt.retention)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRetentionPeriod(%q) error = %v, wantErr %v", tt.retention, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.wantHours {
				t.Errorf("ParseRetentionPeriod(%q) = %d, want %d", tt.retention, got, tt.wantHours)
			}
		})
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		day     string
		want    time.Weekday
		wantErr bool
	}{
		{"sunday", time.Sunday, false},
		{"Monday", time.Monday, false},
		{"FRIDAY", time.Friday, false},
		{"saturday", time.Saturday, false},
		{"someday", time.Sunday, true},
		{"", time.Sunday, true},
	}

	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			got, err := ParseWeekday(tt.day)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWeekday(%q) error = %v, wantErr %v", tt.day, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseWeekday(%q) = %v, want %v", tt.day, got, tt.want)
			}
		})
	}
}

func TestGetIPv4Subnet(t *testing.T) {
	tests := []struct {
		name string
		ip   net.IP
		bits int
		want string
	}{
		{"slash 24", net.ParseIP("192.168.1.42"), 24, "192.168.1.0"},
		{"slash 16", net.ParseIP("10.20.30.40"), 16, "10.20.0.0"},
		{"slash 8", net.ParseIP("10.20.30.40"), 8, "10.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := getIPv4Subnet(tt.ip, tt.bits)
			if got.String() != tt.want {
				t.Errorf("getIPv4Subnet(%v, %d) = %v, want %s", tt.ip, tt.bits, got, tt.want)
			}
		})
	}

	if getIPv4Subnet(nil, 24) != nil {
		t.Error("getIPv4Subnet(nil) should return nil")
	}
	if getIPv4Subnet(net.ParseIP("::1"), 24) != nil {
		t.Error("getIPv4Subnet(IPv6) should return nil")
	}
}

func TestParseGatewayHex(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want string
	}{
		// /proc/net/route stores the gateway little-endian
		{"default gateway", "0101A8C0", "192.168.1.1"},
		{"ten net gateway", "0100000A", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseGatewayHex(tt.hex)
			if got == nil || got.String() != tt.want {
				t.Errorf("parseGatewayHex(%q) = %v, want %s", tt.hex, got, tt.want)
			}
		})
	}

	if parseGatewayHex("123") != nil {
		t.Error("short hex should return nil")
	}
	if parseGatewayHex("ZZZZZZZZ") != nil {
		t.Error("invalid hex should return nil")
	}
}

func TestGetBoardModelMissingFile(t *testing.T) {
	// On hosts without a device tree this must return an empty string, not fail
	model := GetBoardModel()
	_ = model
}
