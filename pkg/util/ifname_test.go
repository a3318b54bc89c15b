package util

import (
	"Netlab/api"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIfName(t *testing.T) {
	require.Equal(t, "h1-eth0", IfName("h1", 0))
	require.Equal(t, "h1-eth7", IfName("h1", 7))
	require.Equal(t, "h1-eth0-br", BridgeSideName(IfName("h1", 0)))
}

func TestValidateIfName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr error
	}{
		{"h1-eth0", nil},
		{"br-nat", nil},
		{"a_b.c-d", nil},
		{"verylongname-eth10", api.ErrNameTooLong},
		{"", api.ErrInvalidChars},
		{"h1 eth0", api.ErrInvalidChars},
		{"h1/eth0", api.ErrInvalidChars},
		{"h1:eth0", api.ErrInvalidChars},
	}
	for _, tt := range tests {
		err := ValidateIfName(tt.name)
		if tt.wantErr == nil {
			require.NoError(t, err, tt.name)
		} else {
			require.ErrorIs(t, err, tt.wantErr, tt.name)
		}
	}
}

func TestValidateIfNameBoundary(t *testing.T) {
	require.NoError(t, ValidateIfName("abcdefghij12345")) // 15 chars
	require.ErrorIs(t, ValidateIfName("abcdefghij123456"), api.ErrNameTooLong)
}
