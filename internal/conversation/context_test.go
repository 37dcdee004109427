package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomerField(t *testing.T) {
	c := &Customer{
		Name:         "Alex",
		OfferedPrice: 17500,
		Extra:        map[string]string{"tradeIn": "2015 Civic"},
	}

	got, ok := c.Field("name")
	assert.True(t, ok)
	assert.Equal(t, "Alex", got)

	got, ok = c.Field("offeredPrice")
	assert.True(t, ok)
	assert.Equal(t, "$17500", got)

	got, ok = c.Field("tradeIn")
	assert.True(t, ok)
	assert.Equal(t, "2015 Civic", got)

	_, ok = c.Field("email")
	assert.False(t, ok, "unset field must not resolve")

	_, ok = c.Field("nonexistent")
	assert.False(t, ok)
}

func TestVehicleField(t *testing.T) {
	v := &Vehicle{Make: "Toyota", Model: "Camry", Year: 2019, Price: 20000, Mileage: 45000}

	tests := []struct {
		name string
		want string
	}{
		{"make", "Toyota"},
		{"model", "Camry"},
		{"year", "2019"},
		{"price", "$20000"},
		{"mileage", "45000"},
	}
	for _, tt := range tests {
		got, ok := v.Field(tt.name)
		assert.True(t, ok, tt.name)
		assert.Equal(t, tt.want, got)
	}

	_, ok := v.Field("vin")
	assert.False(t, ok)
}

func TestNilReceiversResolveNothing(t *testing.T) {
	var c *Customer
	var v *Vehicle
	var d *Dealer
	var th *Thread

	_, ok := c.Field("name")
	assert.False(t, ok)
	_, ok = v.Field("make")
	assert.False(t, ok)
	_, ok = d.Field("name")
	assert.False(t, ok)
	_, ok = th.Field("topic")
	assert.False(t, ok)
}

func TestHasKey(t *testing.T) {
	ctx := &Context{
		Vehicle:      &Vehicle{Make: "Ford"},
		Conversation: &Thread{Channel: "marketplace"},
	}

	assert.True(t, ctx.HasKey("make"))
	assert.True(t, ctx.HasKey("channel"))
	assert.False(t, ctx.HasKey("price"))
	assert.False(t, ctx.HasKey("hours"), "nil sub-objects contribute no keys")

	var nilCtx *Context
	assert.False(t, nilCtx.HasKey("make"))
}

func TestFormatMoneyRounds(t *testing.T) {
	assert.Equal(t, "$19400", formatMoney(19400))
	assert.Equal(t, "$19400", formatMoney(19400.4))
	assert.Equal(t, "$23000", formatMoney(22999.5))
}
