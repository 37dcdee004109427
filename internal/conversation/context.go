// Package conversation defines the context object the controller layer
// passes to the pattern engines for each conversation turn.
package conversation

import "strconv"

// Customer holds what is known about the message sender.
type Customer struct {
	Name         string  `json:"name,omitempty"`
	Phone        string  `json:"phone,omitempty"`
	Email        string  `json:"email,omitempty"`
	OfferedPrice float64 `json:"offered_price,omitempty"`

	// Extra holds dealer-specific customer fields with no fixed schema.
	Extra map[string]string `json:"extra,omitempty"`
}

// Field returns the named customer field and whether it is set.
func (c *Customer) Field(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	switch name {
	case "name":
		return nonEmpty(c.Name)
	case "phone":
		return nonEmpty(c.Phone)
	case "email":
		return nonEmpty(c.Email)
	case "offeredPrice":
		if c.OfferedPrice > 0 {
			return formatMoney(c.OfferedPrice), true
		}
		return "", false
	}
	v, ok := c.Extra[name]
	return v, ok && v != ""
}

// Vehicle holds facts about the listed vehicle under discussion.
type Vehicle struct {
	Make    string  `json:"make,omitempty"`
	Model   string  `json:"model,omitempty"`
	Year    int     `json:"year,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Mileage int     `json:"mileage,omitempty"`
	VIN     string  `json:"vin,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Field returns the named vehicle field and whether it is set.
func (v *Vehicle) Field(name string) (string, bool) {
	if v == nil {
		return "", false
	}
	switch name {
	case "make":
		return nonEmpty(v.Make)
	case "model":
		return nonEmpty(v.Model)
	case "year":
		if v.Year > 0 {
			return strconv.Itoa(v.Year), true
		}
		return "", false
	case "price":
		if v.Price > 0 {
			return formatMoney(v.Price), true
		}
		return "", false
	case "mileage":
		if v.Mileage > 0 {
			return strconv.Itoa(v.Mileage), true
		}
		return "", false
	case "vin":
		return nonEmpty(v.VIN)
	}
	val, ok := v.Extra[name]
	return val, ok && val != ""
}

// Dealer holds the selling dealership's profile fields.
type Dealer struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Hours   string `json:"hours,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Field returns the named dealer field and whether it is set.
func (d *Dealer) Field(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	switch name {
	case "name":
		return nonEmpty(d.Name)
	case "phone":
		return nonEmpty(d.Phone)
	case "address":
		return nonEmpty(d.Address)
	case "hours":
		return nonEmpty(d.Hours)
	}
	v, ok := d.Extra[name]
	return v, ok && v != ""
}

// Thread holds per-conversation fields (topic, channel, free-form metadata).
type Thread struct {
	Topic   string `json:"topic,omitempty"`
	Channel string `json:"channel,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Field returns the named conversation field and whether it is set.
func (t *Thread) Field(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	switch name {
	case "topic":
		return nonEmpty(t.Topic)
	case "channel":
		return nonEmpty(t.Channel)
	}
	v, ok := t.Extra[name]
	return v, ok && v != ""
}

// Context is the per-turn conversation state supplied by the controller layer.
//
// Intent and sentiment arrive pre-computed; this core performs no language
// classification of its own. History contains prior messages oldest-first and
// excludes the current message.
type Context struct {
	Intent    string   `json:"intent,omitempty"`
	Sentiment string   `json:"sentiment,omitempty"`
	History   []string `json:"history,omitempty"`

	Customer     *Customer `json:"customer,omitempty"`
	Vehicle      *Vehicle  `json:"vehicle,omitempty"`
	Dealer       *Dealer   `json:"dealer,omitempty"`
	Conversation *Thread   `json:"conversation,omitempty"`
}

// HasKey reports whether the named key resolves to a value in any context
// sub-object. Used by "context"-type trigger conditions.
func (c *Context) HasKey(name string) bool {
	if c == nil {
		return false
	}
	if _, ok := c.Customer.Field(name); ok {
		return true
	}
	if _, ok := c.Vehicle.Field(name); ok {
		return true
	}
	if _, ok := c.Dealer.Field(name); ok {
		return true
	}
	if _, ok := c.Conversation.Field(name); ok {
		return true
	}
	return false
}

func nonEmpty(s string) (string, bool) {
	return s, s != ""
}

func formatMoney(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 0, 64)
}
