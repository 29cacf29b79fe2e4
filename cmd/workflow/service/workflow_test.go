package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/petriflow/workflow/cmd/workflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLinksNested(t *testing.T) {
	def := &models.WorkflowDefinition{
		Tasks: map[string]*models.TaskDefinition{
			"outer": {
				Methods: []*models.MethodDefinition{
					{
						Name:    "inner",
						Service: "workflow",
						Parameters: &models.MethodParameters{
							Tasks: map[string]*models.TaskDefinition{
								"child": {
									Methods: []*models.MethodDefinition{
										{
											Name:       "execute",
											Service:    "shell-command",
											Parameters: &models.MethodParameters{CommandLine: []string{"true"}},
										},
									},
								},
							},
							Links: []*models.LinkDefinition{
								{
									Source:      "child",
									Destination: models.OutputConnectorName,
									DataFlow:    map[string]models.Targets{"a": {"k"}},
								},
								{
									Source:      models.InputConnectorName,
									Destination: models.OutputConnectorName,
									DataFlow:    map[string]models.Targets{"b": {"k"}},
								},
							},
						},
					},
				},
			},
		},
	}

	err := validateLinks(def)
	require.Error(t, err)

	var invalid *models.InvalidLinksError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "k", invalid.Property)
}

func TestExecutionReportsFormat(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 123456000, time.UTC)
	parentColor := 0

	executions := []*models.Execution{
		{
			ID:          uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
			NodeID:      6,
			MethodID:    8,
			Color:       3,
			ParentColor: &parentColor,
			Status:      models.ExecutionSucceeded,
			Data:        map[string]interface{}{"job_id": "j-1"},
			History: []models.StatusEntry{
				{Status: models.ExecutionNew, Timestamp: ts},
				{Status: models.ExecutionSucceeded, Timestamp: ts.Add(time.Second)},
			},
		},
	}

	reports := executionReports(executions)
	require.Len(t, reports, 1)

	report := reports[0]
	assert.Equal(t, 3, report["color"])
	assert.Equal(t, 0, report["parent_color"])
	assert.Equal(t, models.ExecutionSucceeded, report["status"])

	history, ok := report["status_history"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-05-01 12:30:45.123456", history[0]["timestamp"])
}

func TestTimestampLayoutRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 123456000, time.UTC)

	formatted := ts.Format(TimestampLayout)
	assert.Equal(t, "2024-05-01 12:30:45.123456", formatted)

	parsed, err := time.Parse(TimestampLayout, formatted)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}
