package tools

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// fakeCronManager implements agent.CronManager for tool testing.
type fakeCronManager struct {
	jobs   map[string]agent.Job
	nextID int
}

func newFakeCronManager() *fakeCronManager {
	return &fakeCronManager{jobs: make(map[string]agent.Job)}
}

func (m *fakeCronManager) AddJob(job agent.Job) (agent.Job, error) {
	m.nextID++
	job.ID = fmt.Sprintf("job-%d", m.nextID)
	next := time.Now().Add(time.Hour)
	job.NextRun = &next
	m.jobs[job.ID] = job
	return job, nil
}

func (m *fakeCronManager) RemoveJob(id string) error {
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *fakeCronManager) ListJobs() []agent.Job {
	jobs := make([]agent.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

func (m *fakeCronManager) GetJob(id string) (agent.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return agent.Job{}, fmt.Errorf("job not found: %s", id)
	}
	return job, nil
}

func (m *fakeCronManager) SetEnabled(id string, enabled bool) (agent.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return agent.Job{}, fmt.Errorf("job not found: %s", id)
	}
	job.Enabled = enabled
	m.jobs[id] = job
	return job, nil
}

func (m *fakeCronManager) RunJobNow(id string) error {
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

func TestCronTool_AddAndList(t *testing.T) {
	manager := newFakeCronManager()
	tool := NewCronTool(manager, logger.NewNop())

	result, err := tool.Execute(`{"action":"add","name":"morning","schedule":"0 9 * * *","message":"good morning"}`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "Created job 'morning'") {
		t.Errorf("Unexpected add result: %s", result)
	}

	result, err = tool.Execute(`{"action":"list"}`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "morning") || !strings.Contains(result, "0 9 * * *") {
		t.Errorf("Expected job in list output, got: %s", result)
	}
}

func TestCronTool_AddMissingFields(t *testing.T) {
	tool := NewCronTool(newFakeCronManager(), logger.NewNop())

	result, err := tool.Execute(`{"action":"add","name":"incomplete"}`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "required") {
		t.Errorf("Expected validation message, got: %s", result)
	}
}

func TestCronTool_DeliverToChannel(t *testing.T) {
	manager := newFakeCronManager()
	tool := NewCronTool(manager, logger.NewNop())
	tool.SetContext("telegram", "12345")

	_, err := tool.Execute(`{"action":"add","name":"ping","schedule":"*/5 * * * *","message":"ping","deliver_to_channel":true}`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	jobs := manager.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Channel != "telegram" || jobs[0].ChatID != "12345" {
		t.Errorf("Expected delivery target telegram:12345, got %s:%s", jobs[0].Channel, jobs[0].ChatID)
	}
}

func TestCronTool_RemoveEnableDisable(t *testing.T) {
	manager := newFakeCronManager()
	tool := NewCronTool(manager, logger.NewNop())

	created, err := manager.AddJob(agent.Job{Name: "toggle-me", Schedule: "0 * * * *", Message: "m", Enabled: true})
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	result, err := tool.Execute(fmt.Sprintf(`{"action":"disable","job_id":"%s"}`, created.ID))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "disabled") {
		t.Errorf("Expected disabled confirmation, got: %s", result)
	}
	job, _ := manager.GetJob(created.ID)
	if job.Enabled {
		t.Error("Expected job to be disabled")
	}

	result, err = tool.Execute(fmt.Sprintf(`{"action":"enable","job_id":"%s"}`, created.ID))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "enabled") {
		t.Errorf("Expected enabled confirmation, got: %s", result)
	}

	result, err = tool.Execute(fmt.Sprintf(`{"action":"remove","job_id":"%s"}`, created.ID))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "Removed") {
		t.Errorf("Expected removal confirmation, got: %s", result)
	}
	if len(manager.ListJobs()) != 0 {
		t.Error("Expected no jobs after removal")
	}
}

func TestCronTool_UnknownAction(t *testing.T) {
	tool := NewCronTool(newFakeCronManager(), logger.NewNop())

	result, err := tool.Execute(`{"action":"explode"}`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(result, "Unknown action") {
		t.Errorf("Expected unknown action message, got: %s", result)
	}
}
