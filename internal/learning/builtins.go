package learning

// builtinPatterns are the response rules shipped with the engine, with
// metrics seeded from aggregate field performance. They are immutable at
// runtime; tenants extend them with custom patterns.
func builtinPatterns() []*Pattern {
	patterns := []*Pattern{
		{
			ID:   "builtin-availability",
			Name: "Availability Confirmation",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `is (this|it) still available`},
			},
			Template: "Yes, the {vehicle} is still available! Would you like to come take a look?",
			Variables: []Variable{
				{Name: "vehicle", Source: SourceInventory, Fallback: "vehicle"},
			},
			Metrics: SuccessMetrics{TotalUses: 412, SuccessfulUses: 339},
		},
		{
			ID:   "builtin-price-inquiry",
			Name: "Price Inquiry",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `how much|price|cost|asking`},
			},
			Template: "The {year} {make} {model} is listed at {price}, which sits well within the market range of {marketRange}.",
			Variables: []Variable{
				{Name: "year", Source: SourceInventory},
				{Name: "make", Source: SourceInventory},
				{Name: "model", Source: SourceInventory, Fallback: "vehicle"},
				{Name: "price", Source: SourceInventory, Fallback: "our listed price"},
				{Name: "marketRange", Source: SourceCalculated, Fallback: "the current market"},
			},
			Metrics: SuccessMetrics{TotalUses: 287, SuccessfulUses: 184},
		},
		{
			ID:   "builtin-test-drive",
			Name: "Test Drive Request",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `test.?drive|drive it|behind the wheel`},
			},
			Template: "We'd love to get you behind the wheel! We're open {hours}. What day works best for you?",
			Variables: []Variable{
				{Name: "hours", Source: SourceDealer, Fallback: "seven days a week"},
			},
			Metrics: SuccessMetrics{TotalUses: 198, SuccessfulUses: 162},
		},
		{
			ID:   "builtin-financing",
			Name: "Financing Inquiry",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `financ|loan|monthly payment|credit`},
			},
			Template: "We work with a wide network of lenders and can usually find terms that fit. Bring your info by {name} and we'll run the numbers together.",
			Variables: []Variable{
				{Name: "name", Source: SourceDealer, Fallback: "the dealership"},
			},
			Metrics: SuccessMetrics{TotalUses: 156, SuccessfulUses: 97},
		},
		{
			ID:   "builtin-trade-in",
			Name: "Trade-In Inquiry",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `trade.?in|trade my|my current car`},
			},
			Template: "Absolutely, we take trade-ins. Bring your vehicle by and we'll give you a written appraisal on the spot.",
			Metrics:  SuccessMetrics{TotalUses: 124, SuccessfulUses: 81},
		},
		{
			ID:   "builtin-lowball-counter",
			Name: "Lowball Offer Counter",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `(offer|give you|take|do) \$?\d`},
				{Type: ConditionIntent, Value: "negotiation"},
			},
			Template: "Thanks for the offer! We have a little room: we could do {counterOffer} on the {make} {model}. Want to come see it first?",
			Variables: []Variable{
				{Name: "counterOffer", Source: SourceCalculated, Fallback: "a fair middle ground"},
				{Name: "make", Source: SourceInventory},
				{Name: "model", Source: SourceInventory, Fallback: "vehicle"},
			},
			Metrics: SuccessMetrics{TotalUses: 143, SuccessfulUses: 67},
		},
		{
			ID:   "builtin-cash-discount",
			Name: "Cash Discount",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `cash (price|offer|deal)|paying cash|pay cash`},
			},
			Template: "Paying cash keeps it simple. We could do {cashPrice} out the door.",
			Variables: []Variable{
				{Name: "cashPrice", Source: SourceCalculated, Fallback: "a cash price"},
			},
			Metrics: SuccessMetrics{TotalUses: 89, SuccessfulUses: 52},
		},
		{
			ID:   "builtin-first-contact",
			Name: "First Contact Greeting",
			Conditions: []TriggerCondition{
				{Type: ConditionSequence, Value: SequenceFirstMessage},
			},
			Template: "Hi! Thanks for reaching out about the {vehicle}. Happy to answer any questions — what would you like to know?",
			Variables: []Variable{
				{Name: "vehicle", Source: SourceInventory, Fallback: "vehicle"},
			},
			Metrics: SuccessMetrics{TotalUses: 534, SuccessfulUses: 405},
		},
		{
			ID:   "builtin-condition-inquiry",
			Name: "Vehicle Condition Inquiry",
			Conditions: []TriggerCondition{
				{Type: ConditionKeyword, Operator: OpRegex, Value: `condition|accidents?|clean title|carfax|any (issues|problems)`},
			},
			Template: "It's in great shape with {mileage} miles, and we're happy to walk you through the full history report in person.",
			Variables: []Variable{
				{Name: "mileage", Source: SourceInventory, Fallback: "well-documented"},
			},
			Metrics: SuccessMetrics{TotalUses: 167, SuccessfulUses: 112},
		},
	}

	for _, p := range patterns {
		p.Active = true
		p.Builtin = true
		if p.Metrics.TotalUses > 0 {
			p.Metrics.SuccessRate = float64(p.Metrics.SuccessfulUses) / float64(p.Metrics.TotalUses)
		}
		if err := p.Validate(); err != nil {
			// Built-ins are fixed at compile time; a bad one is a
			// programming error.
			panic("invalid builtin learning pattern " + p.Name + ": " + err.Error())
		}
	}
	return patterns
}
