package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentSpec() *Spec {
	return &Spec{
		Name:        "charge_card",
		Description: "Charge the caller's card",
		InputSchema: &Schema{
			Type:     "object",
			Required: []string{"amount", "currency"},
			Properties: map[string]*Schema{
				"amount":   {Type: "number"},
				"currency": {Type: "string", Enum: []string{"USD", "EUR"}},
				"memo":     {Type: "string"},
			},
		},
		Handler: func(context.Context, map[string]any) (any, error) { return nil, nil },
	}
}

func TestValidateArgsAccepts(t *testing.T) {
	spec := paymentSpec()
	assert.Nil(t, spec.ValidateArgs(map[string]any{
		"amount":   12.50,
		"currency": "USD",
	}))
	assert.Nil(t, spec.ValidateArgs(map[string]any{
		"amount":   1,
		"currency": "EUR",
		"memo":     "invoice 7",
	}))
}

func TestValidateArgsRefusesMissingRequired(t *testing.T) {
	refusal := paymentSpec().ValidateArgs(map[string]any{"amount": 5})
	require.NotNil(t, refusal)
	assert.True(t, refusal.Refused)
	assert.False(t, refusal.Success)
	assert.NotEmpty(t, refusal.Reasons)
}

func TestValidateArgsRefusesWrongType(t *testing.T) {
	refusal := paymentSpec().ValidateArgs(map[string]any{
		"amount":   "twelve",
		"currency": "USD",
	})
	require.NotNil(t, refusal)
	assert.True(t, refusal.Refused)
}

func TestValidateArgsRefusesEnumViolation(t *testing.T) {
	refusal := paymentSpec().ValidateArgs(map[string]any{
		"amount":   5,
		"currency": "GBP",
	})
	require.NotNil(t, refusal)
	assert.True(t, refusal.Refused)
}

func TestValidateArgsNoSchemaAcceptsAnything(t *testing.T) {
	spec := &Spec{
		Name:    "freeform",
		Handler: func(context.Context, map[string]any) (any, error) { return nil, nil },
	}
	assert.Nil(t, spec.ValidateArgs(map[string]any{"anything": "goes"}))
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(paymentSpec()))

	assert.NotNil(t, r.Get("charge_card"))
	assert.Nil(t, r.Get("missing"))

	err := r.Register(paymentSpec())
	require.Error(t, err, "duplicate names are rejected")

	decls := r.Declarations([]string{"charge_card", "missing"})
	require.Len(t, decls, 1, "unknown names are skipped")
	assert.Equal(t, "charge_card", decls[0].Name)
}

func TestRegistryRejectsIncompleteSpecs(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Spec{Name: ""}))
	assert.Error(t, r.Register(&Spec{Name: "no-handler"}))
}

func TestDecodeArgs(t *testing.T) {
	args, err := DecodeArgs([]byte(`{"a":1,"b":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), args["a"])
	assert.Equal(t, "x", args["b"])

	args, err = DecodeArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = DecodeArgs([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = DecodeArgs([]byte("{broken"))
	assert.Error(t, err)
}
