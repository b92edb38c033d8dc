package routeerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOfMapsEveryKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{NoCapacity, http.StatusServiceUnavailable},
		{Upstream, http.StatusBadGateway},
		{Transient, http.StatusGatewayTimeout},
		{Fatal, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
		{MethodNotAllowed, http.StatusUnsupportedMediaType},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		assert.Equal(t, c.want, StatusOf(err))
	}
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("unclassified")))
}

func TestWrapReturnsNilForNilCause(t *testing.T) {
	assert.NoError(t, Wrap(Upstream, nil, "context"))
}

func TestWrapPreservesKindAndMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Upstream, cause, "relaying to storage node")

	assert.Equal(t, Upstream, KindOf(err))
	assert.Contains(t, err.Error(), "relaying to storage node")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "BadRequest", BadRequest.String())
	assert.Equal(t, "Internal", Internal.String())
}
