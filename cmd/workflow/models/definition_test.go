package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetsUnmarshalSingle(t *testing.T) {
	var targets Targets
	require.NoError(t, json.Unmarshal([]byte(`"param"`), &targets))
	assert.Equal(t, Targets{"param"}, targets)
}

func TestTargetsUnmarshalList(t *testing.T) {
	var targets Targets
	require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &targets))
	assert.Equal(t, Targets{"a", "b"}, targets)
}

func TestTargetsUnmarshalRejectsObject(t *testing.T) {
	var targets Targets
	assert.Error(t, json.Unmarshal([]byte(`{"a": 1}`), &targets))
}

func TestTargetsMarshalRoundTrip(t *testing.T) {
	data, err := json.Marshal(Targets{"only"})
	require.NoError(t, err)
	assert.Equal(t, `"only"`, string(data))

	data, err = json.Marshal(Targets{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, string(data))
}

func definitionFixture() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name: "x",
		Tasks: map[string]*TaskDefinition{
			"A": {
				Methods: []*MethodDefinition{
					{
						Name:    "execute",
						Service: "shell-command",
						Parameters: &MethodParameters{
							CommandLine: []string{"true"},
						},
					},
				},
			},
		},
		Links: []*LinkDefinition{
			{
				Source:      InputConnectorName,
				Destination: "A",
				DataFlow:    map[string]Targets{"in_a": {"param"}},
			},
			{
				Source:      "A",
				Destination: OutputConnectorName,
				DataFlow:    map[string]Targets{"result": {"out_a"}},
			},
		},
		Inputs: map[string]json.RawMessage{
			"in_a": json.RawMessage(`"kittens"`),
		},
	}
}

func TestRequiredInputs(t *testing.T) {
	def := definitionFixture()
	assert.Equal(t, []string{"in_a"}, def.RequiredInputs())
}

func TestValidateInputsOK(t *testing.T) {
	assert.NoError(t, definitionFixture().ValidateInputs())
}

func TestValidateInputsMissing(t *testing.T) {
	def := definitionFixture()
	def.Inputs = map[string]json.RawMessage{}

	err := def.ValidateInputs()
	require.Error(t, err)

	var missing *MissingInputsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"in_a"}, missing.Missing)
}

func TestValidateUniqueLinksOK(t *testing.T) {
	assert.NoError(t, ValidateUniqueLinks(definitionFixture().Links))
}

func TestValidateUniqueLinksDuplicateDestination(t *testing.T) {
	links := []*LinkDefinition{
		{
			Source:      "A",
			Destination: "C",
			DataFlow:    map[string]Targets{"x": {"k"}},
		},
		{
			Source:      "B",
			Destination: "C",
			DataFlow:    map[string]Targets{"y": {"k"}},
		},
	}

	err := ValidateUniqueLinks(links)
	require.Error(t, err)

	var invalid *InvalidLinksError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "C", invalid.Destination)
	assert.Equal(t, "k", invalid.Property)
}

func TestValidateUniqueLinksFanOutAllowed(t *testing.T) {
	// The same source property may feed many destinations; only the
	// destination side must be unique.
	links := []*LinkDefinition{
		{
			Source:      "A",
			Destination: "B",
			DataFlow:    map[string]Targets{"x": {"p", "q"}},
		},
		{
			Source:      "A",
			Destination: "C",
			DataFlow:    map[string]Targets{"x": {"p"}},
		},
	}

	assert.NoError(t, ValidateUniqueLinks(links))
}
