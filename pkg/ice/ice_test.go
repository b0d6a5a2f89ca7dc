package ice_test

import (
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/ice"
	"github.com/arzzra/webphone/pkg/settings"
)

func TestIsLocalHost(t *testing.T) {
	local := []string{
		"10.0.0.1", "10.255.255.255", "192.168.0.1", "192.168.100.7",
		"127.0.0.1", "127.1.2.3", "localhost", "LocalHost", "printer.local", "PBX.LOCAL",
	}
	for second := 16; second <= 31; second++ {
		local = append(local, fmt.Sprintf("172.%d.0.1", second))
	}
	for _, host := range local {
		assert.True(t, ice.IsLocalHost(host), host)
	}

	remote := []string{
		"8.8.8.8", "172.15.0.1", "172.32.0.1", "192.169.1.1", "11.0.0.1",
		"pbx.example.com", "local.example.com", "localhost.example.com", "", "1002",
	}
	for _, host := range remote {
		assert.False(t, ice.IsLocalHost(host), host)
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		in   string
		host string
		ok   bool
	}{
		{"1002@10.0.0.5", "10.0.0.5", true},
		{"sip:1002@10.0.0.5:5060", "10.0.0.5", true},
		{"sip:bob@pbx.local;transport=ws", "pbx.local", true},
		{"<sip:bob@example.com>", "example.com", true},
		{"192.168.1.20", "192.168.1.20", true},
		{"sip:192.168.1.20:5060", "192.168.1.20", true},
		{"localhost", "localhost", true},
		{"1002", "", false},
		{"sip:1002", "", false},
		{"bob@", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, ok := ice.ExtractHost(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.host, host)
		})
	}
}

func configured() settings.ConnectionSettings {
	return settings.ConnectionSettings{
		STUNServer:   "stun:stun.example.com:3478",
		TURNServer:   "turn:turn.example.com:3478",
		TURNUsername: "user",
		TURNPassword: "pass",
	}
}

// TestServersConfigLocalDestinations для локальных адресатов список всегда пуст
func TestServersConfigLocalDestinations(t *testing.T) {
	for _, dest := range []string{
		"1002@10.1.2.3", "1002@192.168.0.10", "1002@172.20.1.1", "1002@pbx.local",
		"1002@127.0.0.1", "sip:1002@localhost:5060", "192.168.1.1",
	} {
		servers := ice.ServersConfig(configured(), dest)
		require.NotNil(t, servers, dest)
		assert.Empty(t, servers, dest)
	}
}

// TestServersConfigRemoteDestinations по одной записи на каждый заданный сервер, STUN первым
func TestServersConfigRemoteDestinations(t *testing.T) {
	tests := []struct {
		name string
		s    settings.ConnectionSettings
		want []webrtc.ICEServer
	}{
		{
			name: "stun and turn",
			s:    configured(),
			want: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.example.com:3478"}},
				{URLs: []string{"turn:turn.example.com:3478"}, Username: "user", Credential: "pass"},
			},
		},
		{
			name: "stun only",
			s:    settings.ConnectionSettings{STUNServer: " stun:stun.example.com "},
			want: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com"}}},
		},
		{
			name: "turn only",
			s:    settings.ConnectionSettings{TURNServer: "turn:t.example.com", TURNUsername: "u", TURNPassword: "p"},
			want: []webrtc.ICEServer{{URLs: []string{"turn:t.example.com"}, Username: "u", Credential: "p"}},
		},
		{
			name: "nothing configured",
			s:    settings.ConnectionSettings{},
			want: []webrtc.ICEServer{},
		},
	}

	for _, tt := range tests {
		for _, dest := range []string{"1002@pbx.example.com", "1002", "", "8.8.8.8"} {
			t.Run(tt.name+"/"+dest, func(t *testing.T) {
				assert.Equal(t, tt.want, ice.ServersConfig(tt.s, dest))
			})
		}
	}
}
