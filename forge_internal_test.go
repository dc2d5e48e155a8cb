package forge

import (
	"errors"
	"testing"

	"github.com/aretw0/forge/internal/config"
	memadapter "github.com/aretw0/forge/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapStores_ClosesDriverOnError(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{"bad redact pattern", config.StoreConfig{RedactKeys: []string{"("}}, "redact pattern"},
		{"bad encryption key", config.StoreConfig{EncryptionKey: "c2hvcnQ="}, "32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed := 0
			st := stores{
				workflow: memadapter.NewStore(),
				close:    func() error { closed++; return errors.New("already gone") },
			}
			_, err := wrapStores(st, tt.cfg)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
			assert.ErrorContains(t, err, "already gone")
			assert.Equal(t, 1, closed)
		})
	}

	wrapped, err := wrapStores(stores{workflow: memadapter.NewStore()}, config.StoreConfig{RedactKeys: []string{"email"}})
	require.NoError(t, err)
	assert.NotNil(t, wrapped.workflow)
}
