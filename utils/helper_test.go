package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhoneNumber(t *testing.T) {
	assert.NoError(t, ValidatePhoneNumber("06 12 34 56 78", "FR"))
	assert.NoError(t, ValidatePhoneNumber("+33 1 42 68 53 00", "FR"))
	assert.Error(t, ValidatePhoneNumber("12", "FR"))
	assert.Error(t, ValidatePhoneNumber("not a phone", "FR"))

	e164, err := FormatPhoneNumber("06 12 34 56 78", "FR")
	require.NoError(t, err)
	assert.Equal(t, "+33612345678", e164)
}

func TestPhoneRegion(t *testing.T) {
	t.Setenv("PHONE_REGION", "")
	assert.Equal(t, "FR", PhoneRegion())
	t.Setenv("PHONE_REGION", " be ")
	assert.Equal(t, "BE", PhoneRegion())
}

func TestExecTemplate(t *testing.T) {
	out, err := ExecTemplate("Hello {{.Name}}{{range .Items}} [{{.}}]{{end}}", map[string]interface{}{
		"Name":  "Camille",
		"Items": []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Camille [a] [b]", out)

	_, err = ExecTemplate("{{.Name", nil)
	assert.Error(t, err)
}

func TestClampAndDays(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-3, 0, 1))
	assert.Equal(t, 1.0, Clamp(3, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 9, DaysBetween(start, start.Add(9*24*time.Hour+23*time.Hour)))
	assert.Equal(t, -2, DaysBetween(start, start.AddDate(0, 0, -2)))
}

func TestGenericHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, UniqueSlice([]string{"a", "b", "a"}))
	assert.Nil(t, NilIfEmpty(""))
	assert.Equal(t, "x", *NilIfEmpty("x"))
	assert.Equal(t, 7, DereferencePtr[int](nil, 7))
	v := 3
	assert.Equal(t, 3, DereferencePtr(&v))
}

func TestValidateStruct(t *testing.T) {
	type item struct {
		Name string `validate:"required"`
	}
	type input struct {
		Email string `validate:"required,email"`
		Items []item `validate:"min=1,dive"`
	}
	fields, err := ValidateStruct(input{Email: "nope", Items: []item{{Name: ""}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Email": "email", "Items[0].Name": "required"}, fields)

	fields, err = ValidateStruct(input{Email: "a@b.fr", Items: []item{{Name: "x"}}})
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "System", ActorFromContext(ctx))

	ctx = SetUserIdInContext(ctx, "u-1")
	ctx = SetUserNameInContext(ctx, "Jean")
	ctx = SetCorrelationIdInContext(ctx, "corr-1")
	id, ok := GetCorrelationIdFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "corr-1", id)
	assert.Equal(t, "Jean", ActorFromContext(ctx))
}
