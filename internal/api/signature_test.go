package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"extensions":{"operationName":"OnPush"}}`)
	good := Sign(body, "s3cret")

	tests := []struct {
		name      string
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "prefixed", signature: good, secret: "s3cret"},
		{name: "plain hex", signature: strings.TrimPrefix(good, "sha256="), secret: "s3cret"},
		{name: "wrong secret", signature: good, secret: "other", wantErr: true},
		{name: "missing signature", secret: "s3cret", wantErr: true},
		{name: "missing secret", signature: good, wantErr: true},
		{name: "not hex", signature: "sha256=zz", secret: "s3cret", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(body, tt.signature, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, errSignature)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSignedEventEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.EventSecret = "s3cret"
	p := &recordingPipeline{}
	h := New(cfg, p, Options{}, testLogger()).Handler()

	body := `{"data":{"Push":[]},"extensions":{"operationName":"OnPush"}}`
	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hooks/event", strings.NewReader(body))
		if signature != "" {
			req.Header.Set(SignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("").Code)
	assert.Equal(t, http.StatusUnauthorized, post(Sign([]byte(body), "wrong")).Code)
	assert.Empty(t, p.events)

	rec := post(Sign([]byte(body), "s3cret"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, p.events, 1)
	assert.Equal(t, "OnPush", p.events[0].Extensions.OperationName)
}

func TestSignedEventEndpointDisabled(t *testing.T) {
	h := New(testConfig(), &recordingPipeline{}, Options{}, testLogger()).Handler()
	body := `{"extensions":{"operationName":"OnPush"}}`
	req := httptest.NewRequest(http.MethodPost, "/hooks/event", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte(body), ""))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
