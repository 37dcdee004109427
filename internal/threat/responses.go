package threat

import "math/rand"

// cannedResponses are de-escalating reply templates keyed by threat type.
// They never accuse the sender and always redirect to an in-person or
// official channel.
var cannedResponses = map[ThreatType][]string{
	ThreatOverpaymentScam: {
		"We only accept payment in person at the dealership at the time of sale. Feel free to stop by and we can finalize everything there.",
		"For everyone's protection we handle all payments in person at the dealership. We'd be happy to schedule a visit.",
	},
	ThreatPaymentScam: {
		"All payments go through our dealership's office in person. Come by anytime during business hours and we'll take care of you.",
		"We handle payment at the dealership only, so everything stays simple and documented. When would you like to come in?",
	},
	ThreatPhishing: {
		"We keep all communication here or in person at the dealership. If you have questions about the vehicle, I'm happy to answer them right here.",
		"I can help with anything about the vehicle in this chat, or you're welcome to visit the dealership directly.",
	},
	ThreatManipulation: {
		"No rush at all on our end. The best next step is to visit the dealership and see the vehicle in person.",
		"Happy to help whenever you're ready. The vehicle is available to see at the dealership during business hours.",
	},
	ThreatHarassment: {
		"I understand your concern. The best way to resolve this is to speak with our team directly at the dealership.",
		"Our management team at the dealership would be glad to discuss this with you in person.",
	},
	ThreatInfoHarvesting: {
		"We never exchange account or personal financial details over chat. All paperwork is handled securely at the dealership.",
		"For your security, financial details are only handled in person at our office. We'd be glad to set up a time.",
	},
	ThreatOffPlatform: {
		"Let's keep everything in this chat for now. You're also always welcome to call the dealership's main line or stop by.",
		"I can answer everything right here, or you can reach the dealership through its official phone number.",
	},
}

var fallbackResponses = []string{
	"Thanks for reaching out. The best next step is to visit the dealership so we can help you in person.",
	"We'd be glad to help with this at the dealership directly. When works for you to come by?",
}

// suggestedResponse picks one canned template for the threat type.
func suggestedResponse(t ThreatType) string {
	responses, ok := cannedResponses[t]
	if !ok || len(responses) == 0 {
		responses = fallbackResponses
	}
	return responses[rand.Intn(len(responses))]
}
