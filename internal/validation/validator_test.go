package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/stacksapp/stacks-server/internal/errors"
)

type submitItem struct {
	Title  string `json:"title" validate:"required,max=512"`
	Author string `json:"author" validate:"max=512"`
	ISBN   string `json:"isbn,omitempty" validate:"omitempty,min=10,max=13"`
}

type submitRequest struct {
	Items    []submitItem `json:"items" validate:"required,min=1,max=500,dive"`
	Priority string       `json:"priority" validate:"omitempty,oneof=normal high"`
}

func TestValidator_Valid(t *testing.T) {
	v := New()

	req := submitRequest{
		Items: []submitItem{
			{Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin"},
		},
		Priority: "high",
	}

	assert.NoError(t, v.Validate(req))
}

func TestValidator_EmptyBatch(t *testing.T) {
	v := New()

	err := v.Validate(submitRequest{Items: []submitItem{}})
	require.Error(t, err)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestValidator_FieldDetails(t *testing.T) {
	v := New()

	req := submitRequest{
		Items:    []submitItem{{Title: "", ISBN: "123"}},
		Priority: "urgent",
	}

	err := v.Validate(req)
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.True(t, domainerrors.As(err, &domainErr))
	require.NotNil(t, domainErr.Details)

	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)

	// JSON tag names, not Go field names
	assert.Contains(t, details, "title")
	assert.Contains(t, details, "priority")
	assert.Equal(t, "is required", details["title"])
	assert.Equal(t, "must be one of: normal high", details["priority"])
}

func TestValidator_NonStructPassthrough(t *testing.T) {
	v := New()

	err := v.Validate("not a struct")
	assert.Error(t, err)
	assert.False(t, domainerrors.Is(err, domainerrors.ErrValidation))
}
