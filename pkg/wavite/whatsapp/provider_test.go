package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvite(t *testing.T) {
	assert.Equal(t, Invite{Code: "AbC123", Link: "https://chat.whatsapp.com/AbC123"}, NewInvite("AbC123"))
	assert.Equal(t, Invite{Code: "AbC123", Link: "https://chat.whatsapp.com/AbC123"}, NewInvite("https://chat.whatsapp.com/AbC123"))
}

func TestNormalizeParticipant(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999990000", "5511999990000@s.whatsapp.net", false},
		{"+55 (11) 99999-0000", "5511999990000@s.whatsapp.net", false},
		{"5511999990000@s.whatsapp.net", "5511999990000@s.whatsapp.net", false},
		{"", "", true},
		{"call me", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeParticipant(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
