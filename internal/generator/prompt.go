package generator

import "fmt"

const (
	bestPracticesPrompt = "What are the best practices for creating Manim animations to explain %s?"

	codePrompt = "Generate Manim code to visualize the following math concept: %s\n\n" +
		"Incorporate these best practices:\n%s\n\nManim code:"
)

// BuildBestPracticesPrompt returns the first-stage prompt for topic.
func BuildBestPracticesPrompt(topic string) string {
	return fmt.Sprintf(bestPracticesPrompt, topic)
}

// BuildCodePrompt returns the second-stage prompt. The best practices are
// embedded verbatim.
func BuildCodePrompt(topic, bestPractices string) string {
	return fmt.Sprintf(codePrompt, topic, bestPractices)
}
