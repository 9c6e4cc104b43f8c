package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refreshPayload struct {
	Articles []int64 `json:"articles" validate:"omitempty,dive,gt=0"`
}

type switchPayload struct {
	Name string `json:"name" validate:"required"`
}

func TestDecodeAndValidate_AcceptsValidPayload(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"articles":[1,2,3]}`))

	var payload refreshPayload
	require.NoError(t, DecodeAndValidate(req, &payload))
	assert.Equal(t, []int64{1, 2, 3}, payload.Articles)
}

func TestDecodeAndValidate_RejectsNonPositiveArticles(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"articles":[1,0]}`))

	var payload refreshPayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)

	formatted := FormatValidationErrors(err)
	require.NotEmpty(t, formatted)
}

func TestDecodeAndValidate_RejectsMissingRequiredField(t *testing.T) {
	req := httptest.NewRequest("PUT", "/", strings.NewReader(`{}`))

	var payload switchPayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)

	formatted := FormatValidationErrors(err)
	require.Len(t, formatted, 1)
	assert.Equal(t, "Name", formatted[0].Field)
	assert.Equal(t, "This field is required", formatted[0].Message)
}

func TestDecodeAndValidate_RejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"articles":`))

	var payload refreshPayload
	err := DecodeAndValidate(req, &payload)
	require.Error(t, err)
	assert.Empty(t, FormatValidationErrors(err))
}
