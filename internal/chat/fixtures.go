package chat

import (
	"time"

	"github.com/example/drivuber/internal/models"
)

var replies = map[Category][]string{
	CategoryDriver: {
		"Thanks for the message! I'll see you at the pickup location.",
		"Got it! I'll be there on time.",
		"Perfect! Looking forward to the ride.",
		"Noted! I'll make sure to have a comfortable ride for you.",
		"Great! I'll keep you updated on any changes.",
		"Understood! I'll be driving safely.",
		"Thanks! I'll confirm the details before departure.",
		"Got it! I'll make sure everything is ready.",
		"Perfect! I'll be there a few minutes early.",
		"Thanks for letting me know! I'll accommodate your request.",
	},
	CategoryGeneral: {
		"Thanks for reaching out! I'm here to help.",
		"Got it! Let me assist you with that.",
		"Perfect! I understand your request.",
		"Noted! I'll help you resolve this.",
		"Great! I'll get back to you shortly.",
		"Understood! I'm working on your request.",
		"Thanks! I'll look into this for you.",
		"Got it! I'll make sure to address your concern.",
		"Perfect! I'll help you find a solution.",
		"Thanks for contacting us! I'll assist you right away.",
	},
}

// Replies returns the canned pool for a category.
func Replies(c Category) []string {
	return append([]string(nil), replies[c]...)
}

func greeting(counterpart string, c Category) string {
	if c == CategoryGeneral {
		return "Hi! I'm " + counterpart + ". How can I assist you today?"
	}
	return "Hi! I'm " + counterpart + ". How can I help you with your ride?"
}

type seed struct {
	id, driver  string
	question    string
	answer      string
	greetingAgo time.Duration
	questionAgo time.Duration
	answerAgo   time.Duration
}

var seeds = []seed{
	{"1", "John Smith", "What time will you arrive?", "I'll be there in 5 minutes", 10 * time.Minute, 400 * time.Second, 5 * time.Minute},
	{"2", "Sarah Johnson", "Can you pick me up at the mall?", "Perfect! See you soon", 2 * time.Hour, time.Hour, time.Hour},
	{"3", "Mike Wilson", "Please be on time for my appointment", "Got it! I'll be there on time", 25 * time.Hour, 24 * time.Hour, 24 * time.Hour},
}

func seedThreads(now time.Time) []models.ChatThread {
	out := make([]models.ChatThread, 0, len(seeds))
	for _, sd := range seeds {
		msgs := []models.ChatMessage{
			{ID: "1", Text: greeting(sd.driver, CategoryDriver), Sender: models.SenderDriver, Timestamp: now.Add(-sd.greetingAgo)},
			{ID: "2", Text: sd.question, Sender: models.SenderUser, Timestamp: now.Add(-sd.questionAgo)},
			{ID: "3", Text: sd.answer, Sender: models.SenderDriver, Timestamp: now.Add(-sd.answerAgo)},
		}
		out = append(out, models.ChatThread{
			ID:          sd.id,
			DriverName:  sd.driver,
			LastMessage: sd.answer,
			Timestamp:   now.Add(-sd.answerAgo),
			Messages:    msgs,
		})
	}
	return out
}
