package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"memory", ":memory:", ":memory:", false},
		{"absolute", "/var/lib/feedsync/feeds.db", "/var/lib/feedsync/feeds.db", false},
		{"cleaned", "/var/lib/../lib/feedsync//feeds.db", "/var/lib/feedsync/feeds.db", false},
		{"home", "~/feeds.db", filepath.Join(home, "feeds.db"), false},
		{"relative", "data/feeds.db", filepath.Join(cwd, "data", "feeds.db"), false},
		{"other user home", "~bob/feeds.db", "", true},
		{"null byte", "/tmp/feeds\x00.db", "", true},
		{"newline", "/tmp/feeds\n.db", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
