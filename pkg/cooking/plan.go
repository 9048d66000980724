package cooking

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/korjavin/familyorganizer/pkg/models"
)

// DefaultStepSeconds is used for a recipe line that mentions no duration
const DefaultStepSeconds = 300

var minutePattern = regexp.MustCompile(`(?i)(\d+)\s*(dakika|dk|minute|min)`)

// Plan is an ordered list of timed steps
type Plan []models.Step

// FallbackPlan is used when no recipe text is supplied
func FallbackPlan() Plan {
	return Plan{
		{Title: "Prepare the ingredients", DurationSeconds: 5 * 60},
		{Title: "Start cooking", DurationSeconds: 15 * 60},
		{Title: "Simmer", DurationSeconds: 10 * 60},
		{Title: "Rest and serve", DurationSeconds: 2 * 60},
	}
}

// ParseSteps turns free recipe text into a plan: one step per non-empty
// line, timed by the first "<N> dakika|dk|minute|min" mention on the line.
func ParseSteps(text string) Plan {
	if strings.TrimSpace(text) == "" {
		return FallbackPlan()
	}

	var plan Plan
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		plan = append(plan, models.Step{
			Title:           line,
			DurationSeconds: lineSeconds(line),
		})
	}
	return plan
}

func lineSeconds(line string) int {
	m := minutePattern.FindStringSubmatch(line)
	if m == nil {
		return DefaultStepSeconds
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil || minutes <= 0 {
		return DefaultStepSeconds
	}
	return minutes * 60
}

// TotalSeconds is the sum of all step durations
func (p Plan) TotalSeconds() int {
	total := 0
	for _, step := range p {
		total += step.DurationSeconds
	}
	return total
}

// Boundaries returns the cumulative end, in seconds, of each step
func (p Plan) Boundaries() []int {
	ends := make([]int, len(p))
	sum := 0
	for i, step := range p {
		sum += step.DurationSeconds
		ends[i] = sum
	}
	return ends
}

// StepIndexAt returns the index of the step running at elapsed seconds.
// Past the end it stays on the last step.
func (p Plan) StepIndexAt(elapsed int) int {
	if len(p) == 0 {
		return 0
	}
	for i, end := range p.Boundaries() {
		if end > elapsed {
			return i
		}
	}
	return len(p) - 1
}

// StepRemainingAt returns the seconds left in the step running at elapsed,
// or 0 once the plan is over.
func (p Plan) StepRemainingAt(elapsed int) int {
	if len(p) == 0 || elapsed >= p.TotalSeconds() {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return p.Boundaries()[p.StepIndexAt(elapsed)] - elapsed
}
