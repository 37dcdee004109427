package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/facemydealer/dealerbrain/internal/conversation"
)

func priceContext(price, offered float64) *conversation.Context {
	return &conversation.Context{
		Customer: &conversation.Customer{OfferedPrice: offered},
		Vehicle:  &conversation.Vehicle{Make: "Toyota", Model: "Camry", Year: 2019, Price: price},
		Dealer:   &conversation.Dealer{Name: "Sunrise Motors", Hours: "9am-7pm"},
	}
}

func TestCalculatedFormulas(t *testing.T) {
	r := calculatedResolver{}
	ctx := priceContext(20000, 17000)

	tests := []struct {
		name string
		want string
	}{
		{"marketRange", "$19000 - $23000"},
		{"cashPrice", "$19400"},
		{"counterOffer", "$19400"}, // 17000 + 0.8*(20000-17000)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.name, ctx)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatedFormulasMissingInputs(t *testing.T) {
	r := calculatedResolver{}

	_, ok := r.Resolve("marketRange", nil)
	assert.False(t, ok)

	_, ok = r.Resolve("marketRange", &conversation.Context{Vehicle: &conversation.Vehicle{}})
	assert.False(t, ok)

	// counterOffer additionally needs an offered price.
	_, ok = r.Resolve("counterOffer", priceContext(20000, 0))
	assert.False(t, ok)

	_, ok = r.Resolve("unknownFormula", priceContext(20000, 17000))
	assert.False(t, ok)
}

func TestSourceResolvers(t *testing.T) {
	ctx := priceContext(20000, 17000)

	got, ok := inventoryResolver{}.Resolve("model", ctx)
	assert.True(t, ok)
	assert.Equal(t, "Camry", got)

	got, ok = dealerResolver{}.Resolve("hours", ctx)
	assert.True(t, ok)
	assert.Equal(t, "9am-7pm", got)

	got, ok = customerResolver{}.Resolve("offeredPrice", ctx)
	assert.True(t, ok)
	assert.Equal(t, "$17000", got)

	_, ok = conversationResolver{}.Resolve("topic", ctx)
	assert.False(t, ok)
}

func TestApplyTemplate(t *testing.T) {
	vars := []Variable{
		{Name: "model", Source: SourceInventory},
		{Name: "hours", Source: SourceDealer, Fallback: "every day"},
		{Name: "missing", Source: SourceCustomer},
		{Name: "absent", Source: SourceCustomer, Fallback: "a friend"},
	}

	got := applyTemplate("The {model} is here {hours}, ask {missing} or {absent}.", vars, priceContext(20000, 0))

	// Unresolved variables without a fallback stay visible on purpose.
	assert.Equal(t, "The Camry is here 9am-7pm, ask {missing} or a friend.", got)
}

func TestApplyTemplateNilContext(t *testing.T) {
	vars := []Variable{{Name: "vehicle", Source: SourceInventory, Fallback: "vehicle"}}

	got := applyTemplate("The {vehicle} is available.", vars, nil)
	assert.Equal(t, "The vehicle is available.", got)
}

func TestBuiltinPatternsAreValid(t *testing.T) {
	patterns := builtinPatterns()
	assert.GreaterOrEqual(t, len(patterns), 9)

	for _, p := range patterns {
		assert.True(t, p.Builtin)
		assert.True(t, p.Active)
		assert.NotZero(t, p.Metrics.TotalUses)
		assert.InDelta(t, float64(p.Metrics.SuccessfulUses)/float64(p.Metrics.TotalUses), p.Metrics.SuccessRate, 1e-9)
	}
}
