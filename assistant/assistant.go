// Package assistant answers chat messages from a fixed table of topics.
//
// Replies are canned: the first topic whose keyword appears in the
// lower-cased message wins, otherwise the default reply is returned.
// There is no model behind this and no per-user data.
package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/wastewise/pickup"
)

// Response is a single assistant reply.
type Response struct {
	Topic     string    `json:"topic"`
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
}

type topic struct {
	name     string
	keywords []string
	reply    string
}

// Order matters: earlier topics win when several keywords match.
var topics = []topic{
	{
		name:     "food_waste",
		keywords: []string{"food waste", "reduce waste"},
		reply: "Three habits cut food waste the most:\n\n" +
			"1. Plan meals for the week and shop from a list\n" +
			"2. Store leftovers in airtight containers and check dates\n" +
			"3. Compost the scraps you cannot avoid",
	},
	{
		name:     "carbon",
		keywords: []string{"carbon", "footprint"},
		reply: "Household waste is a large part of your carbon footprint. " +
			"Composting organics, choosing products with less packaging and " +
			"grouping drop-offs into fewer trips all bring it down.",
	},
	{
		name:     "analytics",
		keywords: []string{"analytics", "data"},
		reply: "Your dashboard shows your balance, points earned from pickups and " +
			"your latest ledger activity. Each completed pickup records its " +
			"weight and waste type.",
	},
	{
		name:     "recycling",
		keywords: []string{"recycling", "tips"},
		reply: "Rinse containers before recycling and remove labels where you can. " +
			"Paper, cardboard, glass and metal are widely accepted; plastic bags " +
			"and styrofoam usually are not. Electronics need a dedicated pickup.",
	},
	{
		name:     "points",
		keywords: []string{"points", "reward", "redeem"},
		reply:    pointsReply(),
	},
	{
		name:     "pickup",
		keywords: []string{"pickup", "schedule", "collect"},
		reply: "Schedule a pickup with the waste type, date and address. A driver " +
			"weighs the waste on collection and the points land in your balance " +
			"as soon as the pickup is completed.",
	},
}

const defaultReply = "I can help with waste tracking, recycling guidance, " +
	"sustainability tips, pickups and your reward points. " +
	"Could you tell me a bit more about what you need?"

// Reply answers message.
func Reply(message string, now time.Time) Response {
	input := strings.ToLower(strings.TrimSpace(message))
	for _, t := range topics {
		for _, kw := range t.keywords {
			if strings.Contains(input, kw) {
				return Response{Topic: t.name, Reply: t.reply, Timestamp: now}
			}
		}
	}
	return Response{Topic: "default", Reply: defaultReply, Timestamp: now}
}

func pointsReply() string {
	var b strings.Builder
	b.WriteString("You earn points for every kilogram collected:\n\n")
	for _, info := range pickup.WasteTypes {
		fmt.Fprintf(&b, "%s %s: %s pts/kg\n", info.Icon, info.Label, info.Rate.String())
	}
	b.WriteString("\nSpend them on rewards or in the eco-store.")
	return b.String()
}
