package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/darkhound-project/darkhound/pkg/models"
)

func TestSudoPolicy_WrapCommand(t *testing.T) {
	tests := []struct {
		name         string
		method       models.SudoMethod
		command      string
		requiresSudo bool
		want         string
	}{
		{"no sudo required", models.SudoSSHPassword, "ss -tunap", false, "ss -tunap"},
		{"method none", models.SudoNone, "ss -tunap", true, "ss -tunap"},
		{"method unset", "", "ss -tunap", true, "ss -tunap"},
		{"nopasswd", models.SudoNoPasswd, "ss -tunap", true, "sudo -n ss -tunap"},
		{"ssh password", models.SudoSSHPassword, "ss -tunap", true, "sudo -S ss -tunap"},
		{"custom password", models.SudoCustomPassword, "cat /etc/shadow", true, "sudo -S cat /etc/shadow"},
		{"already wrapped", models.SudoSSHPassword, "sudo ss -tunap", true, "sudo ss -tunap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SudoPolicy{Method: tt.method}
			assert.Equal(t, tt.want, p.WrapCommand(tt.command, tt.requiresSudo))
		})
	}
}

func TestSudoPolicy_NeedsPassword(t *testing.T) {
	assert.True(t, SudoPolicy{Method: models.SudoSSHPassword}.NeedsPassword(true))
	assert.True(t, SudoPolicy{Method: models.SudoCustomPassword}.NeedsPassword(true))
	assert.False(t, SudoPolicy{Method: models.SudoNoPasswd}.NeedsPassword(true))
	assert.False(t, SudoPolicy{Method: models.SudoSSHPassword}.NeedsPassword(false))
	assert.False(t, SudoPolicy{Method: ""}.NeedsPassword(true))
}
