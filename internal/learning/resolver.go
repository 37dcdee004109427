package learning

import (
	"fmt"
	"math"
	"strings"

	"github.com/facemydealer/dealerbrain/internal/conversation"
)

// Resolver resolves one variable source against the conversation context.
type Resolver interface {
	Resolve(name string, c *conversation.Context) (string, bool)
}

// resolvers maps each variable source to its implementation.
var resolvers = map[Source]Resolver{
	SourceInventory:    inventoryResolver{},
	SourceCustomer:     customerResolver{},
	SourceConversation: conversationResolver{},
	SourceDealer:       dealerResolver{},
	SourceCalculated:   calculatedResolver{},
}

type inventoryResolver struct{}

func (inventoryResolver) Resolve(name string, c *conversation.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.Vehicle.Field(name)
}

type customerResolver struct{}

func (customerResolver) Resolve(name string, c *conversation.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.Customer.Field(name)
}

type conversationResolver struct{}

func (conversationResolver) Resolve(name string, c *conversation.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.Conversation.Field(name)
}

type dealerResolver struct{}

func (dealerResolver) Resolve(name string, c *conversation.Context) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.Dealer.Field(name)
}

// calculatedResolver evaluates the fixed set of named pricing formulas.
type calculatedResolver struct{}

func (calculatedResolver) Resolve(name string, c *conversation.Context) (string, bool) {
	if c == nil || c.Vehicle == nil || c.Vehicle.Price <= 0 {
		return "", false
	}
	price := c.Vehicle.Price

	switch name {
	case "marketRange":
		low := math.Round(price * 0.95)
		high := math.Round(price * 1.15)
		return fmt.Sprintf("$%.0f - $%.0f", low, high), true

	case "cashPrice":
		return fmt.Sprintf("$%.0f", math.Round(price*0.97)), true

	case "counterOffer":
		if c.Customer == nil || c.Customer.OfferedPrice <= 0 {
			return "", false
		}
		offered := c.Customer.OfferedPrice
		counter := offered + 0.8*(price-offered)
		return fmt.Sprintf("$%.0f", math.Round(counter)), true
	}
	return "", false
}

// applyTemplate substitutes every {name} occurrence for each declared
// variable: resolved value, then fallback, then the placeholder stays visible
// as a deliberate signal of missing data.
func applyTemplate(template string, variables []Variable, c *conversation.Context) string {
	out := template
	for _, v := range variables {
		value, ok := "", false
		if r := resolvers[v.Source]; r != nil {
			value, ok = r.Resolve(v.Name, c)
		}
		if !ok {
			if v.Fallback == "" {
				continue
			}
			value = v.Fallback
		}
		out = strings.ReplaceAll(out, "{"+v.Name+"}", value)
	}
	return out
}
