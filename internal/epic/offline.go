package epic

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/ada/internal/provider"
	"github.com/lucasnoah/ada/internal/task"
)

// OfflinePlan is the scripted planner reply used without a provider: the
// story becomes a single task carrying its criteria.
func OfflinePlan(story task.Task) (provider.Response, error) {
	t := task.Task{
		ID:                 story.ID + "-T1",
		Kind:               task.KindTask,
		Title:              story.Title,
		Description:        story.Description,
		AcceptanceCriteria: story.AcceptanceCriteria,
		Dependencies:       []string{},
	}
	data, err := json.MarshalIndent([]task.Task{t}, "", "  ")
	if err != nil {
		return provider.Response{}, err
	}
	return provider.Response{
		Content:      fmt.Sprintf("Plan for %s:\n```json\n%s\n```\nfinish", story.ID, data),
		FinishReason: "stop",
	}, nil
}
