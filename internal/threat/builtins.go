package threat

// builtinPatterns are the detection rules shipped with the engine. They are
// immutable at runtime; tenants extend them with custom patterns learned via
// LearnFromThreat.
func builtinPatterns() []*Pattern {
	patterns := []*Pattern{
		{
			ID:         "builtin-overpayment-scam",
			Name:       "Overpayment Scam",
			Type:       PatternRegex,
			Regex:      `(send|write|mail).{0,40}(check|cheque|money order).{0,80}(more than|over|extra|difference|refund)|check.{0,40}(more than|over).{0,40}(price|asking).{0,80}(difference|refund|send)`,
			ThreatType: ThreatOverpaymentScam,
			Severity:   SeverityCritical,
		},
		{
			ID:         "builtin-verification-code",
			Name:       "Verification Code Scam",
			Type:       PatternRegex,
			Regex:      `(google voice|verification|security) code|code.{0,20}(sent|texted).{0,20}(you|your phone)`,
			ThreatType: ThreatInfoHarvesting,
			Severity:   SeverityCritical,
		},
		{
			ID:         "builtin-gift-card",
			Name:       "Gift Card Payment",
			Type:       PatternKeyword,
			Keywords:   []string{"gift card", "gift cards", "ebay card", "itunes card", "steam card", "prepaid card"},
			ThreatType: ThreatPaymentScam,
			Severity:   SeverityHigh,
		},
		{
			ID:         "builtin-phishing-link",
			Name:       "Phishing Link",
			Type:       PatternRegex,
			Regex:      `(click|visit|open).{0,30}(link|url)|bit\.ly|tinyurl|verify your (account|identity)`,
			ThreatType: ThreatPhishing,
			Severity:   SeverityHigh,
		},
		{
			ID:         "builtin-shipping-advance",
			Name:       "Shipping Advance Scam",
			Type:       PatternRegex,
			Regex:      `(ship|shipping|courier|freight).{0,60}(agent|company|fee|upfront|advance)|my (shipper|agent) will (pick|collect)`,
			ThreatType: ThreatPaymentScam,
			Severity:   SeverityHigh,
		},
		{
			ID:         "builtin-payment-reversal",
			Name:       "Payment App Reversal",
			Type:       PatternKeyword,
			Keywords:   []string{"zelle refund", "cashapp refund", "venmo refund", "accidentally sent", "send it back", "payment pending until"},
			ThreatType: ThreatPaymentScam,
			Severity:   SeverityHigh,
		},
		{
			ID:         "builtin-info-harvesting",
			Name:       "Financial Info Harvesting",
			Type:       PatternRegex,
			Regex:      `(bank account|routing number|social security|ssn|card number|account number).{0,40}(send|give|tell|share|need)|(send|give|tell|share|need).{0,40}(bank account|routing number|social security|ssn|card number)`,
			ThreatType: ThreatInfoHarvesting,
			Severity:   SeverityHigh,
		},
		{
			ID:         "builtin-harassment",
			Name:       "Harassment or Abuse",
			Type:       PatternKeyword,
			Keywords:   []string{"scammer", "you people are", "piece of junk dealer", "i will report you", "sue you", "lawyer"},
			ThreatType: ThreatHarassment,
			Severity:   SeverityMedium,
		},
		{
			ID:         "builtin-off-platform",
			Name:       "Off-Platform Pressure",
			Type:       PatternContextual,
			Keywords:   []string{"text me", "whatsapp", "telegram", "email me directly", "off this app", "personal number"},
			ThreatType: ThreatOffPlatform,
			Severity:   SeverityMedium,
		},
	}

	for _, p := range patterns {
		p.Active = true
		p.Builtin = true
		if err := p.Validate(); err != nil {
			// Built-ins are fixed at compile time; a bad one is a
			// programming error.
			panic("invalid builtin threat pattern " + p.Name + ": " + err.Error())
		}
	}
	return patterns
}
