package netinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublicIPUsesFirstWorkingEndpoint(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("2001:db8::1\n"))
	}))
	defer primary.Close()

	r := NewResolver(zap.NewNop(), primary.URL)
	assert.Equal(t, "2001:db8::1", r.PublicIP(context.Background()))
}

func TestPublicIPFallsBackToSecondEndpoint(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.7"))
	}))
	defer fallback.Close()

	r := NewResolver(zap.NewNop(), broken.URL, fallback.URL)
	assert.Equal(t, "203.0.113.7", r.PublicIP(context.Background()))
}

func TestPublicIPFallsBackToLoopbackWhenAllFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	broken.Close() // refuse connections entirely

	r := NewResolver(zap.NewNop(), broken.URL)
	assert.Equal(t, FallbackIP, r.PublicIP(context.Background()))
}

func TestInviteLinkBracketsIPv6(t *testing.T) {
	assert.Equal(t, "http://[2001:db8::1]:8000/", InviteLink("2001:db8::1", "8000"))
	assert.Equal(t, "http://203.0.113.7:8000/", InviteLink("203.0.113.7", "8000"))
}
