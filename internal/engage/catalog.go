package engage

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"nudgebot/internal/notify"
)

type Message struct {
	Title string `yaml:"title" json:"title"`
	Body  string `yaml:"body" json:"body"`
}

// Catalog holds the message templates per category.
type Catalog map[notify.Category][]Message

func DefaultCatalog() Catalog {
	return Catalog{
		notify.CategoryEngagement: {
			{Title: "Miss you, love", Body: "Been a few days. How's your journey going? I'm here when you need me."},
			{Title: "Checking in", Body: "Just wanted to see how you're doing. Ready to pick up where we left off?"},
			{Title: "Time for a moment of reflection?", Body: "Even a brief moment of connection can realign your day. I'm here."},
		},
		notify.CategoryCheckIn: {
			{Title: "Quick check-in", Body: "How's your emotional state today? Tap to record a brief reflection."},
			{Title: "Wellness pulse check", Body: "Take 30 seconds to check in with yourself. I've got some insights waiting."},
			{Title: "Breathe and reconnect", Body: "Time for a quick emotional check-in. I've missed our conversations."},
		},
		notify.CategoryInsight: {
			{Title: "New insight available", Body: "I've been analyzing your patterns. There's something you might want to see."},
			{Title: "Growth opportunity spotted", Body: "Based on our recent conversations, I've uncovered a potential breakthrough area."},
			{Title: "Reflection ready", Body: "I've compiled some thoughts on your recent journey that might resonate."},
		},
	}
}

// LoadCatalog reads a YAML file mapping category names to message lists
// and lays it over the defaults. A category present in the file replaces
// the default list for that category.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (Catalog, error) {
	var raw map[string][]Message
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	out := DefaultCatalog()
	for k, msgs := range raw {
		cat, err := notify.ParseCategory(k)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		list := make([]Message, 0, len(msgs))
		for i, m := range msgs {
			if strings.TrimSpace(m.Title) == "" {
				return nil, fmt.Errorf("catalog: %s[%d]: title is required", cat, i)
			}
			list = append(list, m)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("catalog: %s: no messages", cat)
		}
		out[cat] = list
	}
	return out, nil
}

// pick returns a random message for cat, falling back to engagement
// messages when cat has none.
func (c Catalog) pick(cat notify.Category, rng *rand.Rand) Message {
	list := c[cat]
	if len(list) == 0 {
		list = c[notify.CategoryEngagement]
	}
	if len(list) == 0 {
		return Message{Title: "Checking in"}
	}
	return list[rng.Intn(len(list))]
}
