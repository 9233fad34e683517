package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", base, KindInternal},
		{"validation", Validation("bad %s", "input"), KindValidation},
		{"wrapped not found", fmt.Errorf("load order: %w", NotFound("order not found")), KindNotFound},
		{"gateway", Gateway(base, "payment gateway error"), KindGateway},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	base := errors.New("timeout")
	err := Gateway(base, "payment gateway error")

	assert.Equal(t, "payment gateway error: timeout", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "cart is empty", Conflict("cart is empty").Error())
}

func TestIs(t *testing.T) {
	assert.True(t, Is(Forbidden("staff only"), KindForbidden))
	assert.False(t, Is(Forbidden("staff only"), KindUnauthorized))
	assert.False(t, Is(nil, KindInternal))
}
