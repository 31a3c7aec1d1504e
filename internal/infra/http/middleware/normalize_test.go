package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/search", want: "/api/v1/search"},
		{path: "/api/v1/bookings/12345", want: "/api/v1/bookings/{id}"},
		{path: "/api/v1/bookings/550e8400-e29b-41d4-a716-446655440000", want: "/api/v1/bookings/{id}"},
		{path: "/api/v1/hotels/987/rooms/42", want: "/api/v1/hotels/{id}/rooms/{id}"},
		{path: "/api/v1/sessions", want: "/api/v1/sessions"},
		{path: "/", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestIsID(t *testing.T) {
	assert.True(t, isID("12345"))
	assert.True(t, isID("550e8400-e29b-41d4-a716-446655440000"))
	assert.False(t, isID("search"))
	assert.False(t, isID(""))
	assert.False(t, isID("v1"))
	// Too long to be a plausible numeric ID.
	assert.False(t, isID("123456789012345678901"))
}
