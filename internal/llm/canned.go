package llm

import (
	"github.com/capitalize-ai/lifeline/internal/model"
)

// DemoDisclaimer is appended to every canned reply.
const DemoDisclaimer = "\n\n*Note: This is a demo response. Please configure your OpenAI API key for full functionality.*"

// defaultCannedAgent supplies replies for agents without their own list.
const defaultCannedAgent = model.AgentMaya

var cannedResponses = map[model.AgentID][]string{
	model.AgentMaya: {
		"I understand you're looking to improve your wellness. Let's start with small, sustainable changes that can make a big impact on your daily life.",
		"That's a great question! Wellness is a journey, not a destination. What specific area would you like to focus on first?",
		"I love your enthusiasm for better health! Here's what I'd recommend based on what you've shared...",
	},
	model.AgentAlex: {
		"Excellent question! Productivity is about working smarter, not harder. Let me share a strategic approach that could help you.",
		"I can see you're motivated to optimize your workflow. Here's a systematic approach we can try together.",
		"Great focus on productivity! Let's break this down into actionable steps you can implement right away.",
	},
	model.AgentZoe: {
		"Thank you for sharing this with me. Relationships require patience and understanding. Let's explore this together.",
		"I appreciate your openness about this situation. Here's how we might approach improving this relationship dynamic.",
		"That sounds challenging, and it's normal to feel this way. Let me offer some perspective and practical advice.",
	},
	model.AgentSam: {
		"Smart thinking about your finances! Let's create a practical plan that fits your current situation and goals.",
		"I'm glad you're taking charge of your financial future. Here's what I'd recommend as a starting point.",
		"Excellent question about money management! Let me break this down into clear, actionable steps.",
	},
}

// CannedResponses returns the reply templates used for an agent in demo mode.
func CannedResponses(id model.AgentID) []string {
	if list, ok := cannedResponses[id]; ok {
		return list
	}
	return cannedResponses[defaultCannedAgent]
}
