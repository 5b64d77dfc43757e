package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/scanning"
)

func TestBuildBatch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		protocol string
		ports    string
		want     []string
	}{
		{
			name:     "schemes override protocol",
			args:     []string{"tcp://192.0.2.1:22", "udp://192.0.2.1:53", "icmp6://2001:db8::1"},
			protocol: "tcp",
			want:     []string{"tcp://192.0.2.1:22", "udp://192.0.2.1:53", "icmp6://2001:db8::1"},
		},
		{
			name:     "bare targets use protocol",
			args:     []string{"192.0.2.1:161", "[2001:db8::1]:123"},
			protocol: "udp",
			want:     []string{"udp://192.0.2.1:161", "udp://[2001:db8::1]:123"},
		},
		{
			name:     "empty protocol means tcp",
			args:     []string{"example.com:443"},
			protocol: "",
			want:     []string{"tcp://example.com:443"},
		},
		{
			name:     "ports expand hosts in order",
			args:     []string{"192.0.2.1", "[2001:db8::1]", "udp://192.0.2.9"},
			protocol: "tcp",
			ports:    "22,80-81",
			want: []string{
				"tcp://192.0.2.1:22", "tcp://192.0.2.1:80", "tcp://192.0.2.1:81",
				"tcp://[2001:db8::1]:22", "tcp://[2001:db8::1]:80", "tcp://[2001:db8::1]:81",
				"udp://192.0.2.9:22", "udp://192.0.2.9:80", "udp://192.0.2.9:81",
			},
		},
		{
			name:     "icmp ignores ports",
			args:     []string{"icmp4://192.0.2.1", "2001:db8::2"},
			protocol: "icmp6",
			ports:    "22,80",
			want:     []string{"icmp4://192.0.2.1", "icmp6://2001:db8::2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := buildBatch(tt.args, tt.protocol, tt.ports)
			require.NoError(t, err)

			var got []string
			for _, tg := range batch {
				got = append(got, tg.String())
				assert.Equal(t, scanning.ReasonUnknown, tg.Reason)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildBatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		protocol string
		ports    string
		code     errors.ErrorCode
	}{
		{"no targets", nil, "tcp", "", errors.CodeConfiguration},
		{"unknown protocol flag", []string{"192.0.2.1:1"}, "sctp", "", errors.CodeConfiguration},
		{"unknown scheme", []string{"gopher://192.0.2.1:70"}, "tcp", "", errors.CodeConfiguration},
		{"missing port", []string{"192.0.2.1"}, "tcp", "", errors.CodeTargetInvalid},
		{"port out of range", []string{"192.0.2.1:70000"}, "tcp", "", errors.CodeTargetInvalid},
		{"host already has port", []string{"192.0.2.1:22"}, "tcp", "80", errors.CodeTargetInvalid},
		{"reversed range", []string{"192.0.2.1"}, "tcp", "90-80", errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildBatch(tt.args, tt.protocol, tt.ports)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err), err.Error())
		})
	}
}
