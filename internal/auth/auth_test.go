package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/autoclient/internal/config"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "bearer", header: "Bearer test-key", want: "test-key"},
		{name: "padded", header: "Bearer   test-key ", want: "test-key"},
		{name: "missing", wantErr: ErrMissingToken},
		{name: "basic", header: "Basic abc", wantErr: ErrMalformed},
		{name: "no token", header: "Bearer", wantErr: ErrMalformed},
		{name: "blank token", header: "Bearer   ", wantErr: ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := BearerToken(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyringLegacyKeyIsAdmin(t *testing.T) {
	k := NewKeyring("admin-key", nil)

	p, ok := k.Authenticate("admin-key")
	require.True(t, ok)
	assert.True(t, p.Allows(ScopeCommandRW))
	assert.True(t, p.Allows(ScopeEventRW))

	_, ok = k.Authenticate("")
	assert.False(t, ok)
	_, ok = NewKeyring("", nil).Authenticate("")
	assert.False(t, ok, "an unset api key must not match an empty token")
}

func TestKeyringScopedTokens(t *testing.T) {
	k := NewKeyring("admin-key", []config.Token{
		{Token: "cmd", Scopes: []string{" command:rw "}},
		{Token: "watch", Scopes: []string{"events:ro", ""}},
		{Token: "", Scopes: []string{"*"}},
	})

	p, ok := k.Authenticate("cmd")
	require.True(t, ok)
	assert.Equal(t, []string{ScopeCommandRW, ScopeEventsRO, ScopeInvocationsRO}, p.Scopes)
	assert.True(t, p.Allows(ScopeEventRW, ScopeCommandRW))
	assert.False(t, p.Allows(ScopeEventRW))

	p, ok = k.Authenticate("watch")
	require.True(t, ok)
	assert.Equal(t, []string{ScopeEventsRO}, p.Scopes)
	assert.False(t, p.Allows(ScopeInvocationsRO))

	_, ok = k.Authenticate("nope")
	assert.False(t, ok)
}

func TestAllowsEmptyRequirement(t *testing.T) {
	assert.True(t, Principal{}.Allows())
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Scopes: []string{ScopeAdmin}})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.True(t, p.Allows(ScopeEventRW))
}
