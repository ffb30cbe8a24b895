package match

import (
	"slices"

	"github.com/garnizeh/expertfeed/pkg/models"
)

const (
	CategoryPrefix = "category:"
	TagPrefix      = "tag:"
)

func CategoryTopic(name string) string { return CategoryPrefix + Normalize(name) }

func TagTopic(value string) string { return TagPrefix + Normalize(value) }

// Topics returns the broadcast rooms a provider listens on: one per category
// and one per skill or interest. Skills and interests share the tag namespace.
func Topics(p models.ProviderProfile) []string {
	out := map[string]struct{}{}
	for _, c := range p.Categories {
		if Normalize(c.Name) != "" {
			out[CategoryTopic(c.Name)] = struct{}{}
		}
	}
	for _, v := range slices.Concat(p.Skills, p.Interests) {
		if Normalize(v) != "" {
			out[TagTopic(v)] = struct{}{}
		}
	}
	return sortedKeys(out)
}

// QuestionTopics returns the rooms a question is published on.
func QuestionTopics(q models.Question) []string {
	out := map[string]struct{}{}
	if Normalize(q.Category) != "" {
		out[CategoryTopic(q.Category)] = struct{}{}
	}
	for _, t := range q.Tags {
		if Normalize(t) != "" {
			out[TagTopic(t)] = struct{}{}
		}
	}
	return sortedKeys(out)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
