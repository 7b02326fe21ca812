package mailaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantName string
		wantErr  bool
	}{
		{name: "bare", raw: "Alice@Co.com", wantAddr: "alice@co.com"},
		{name: "display name", raw: "Bob Smith <BOB@co.com>", wantAddr: "bob@co.com", wantName: "Bob Smith"},
		{name: "quoted name", raw: `"Carol, Recruiter" <carol@co.com>`, wantAddr: "carol@co.com", wantName: "Carol, Recruiter"},
		{name: "padded", raw: "  dave@co.com  ", wantAddr: "dave@co.com"},
		{name: "empty", raw: "", wantErr: true},
		{name: "garbage", raw: "not an address", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, name, err := Parse(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "co.com", Domain("Alice@CO.com"))
	assert.Equal(t, "", Domain("nobody"))
	assert.Equal(t, "", Domain("trailing@"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("ME@example.com ", "me@example.com"))
	assert.False(t, Equal("me@example.com", "you@example.com"))
}
