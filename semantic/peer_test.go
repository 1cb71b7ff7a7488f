package semantic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiote-h2020/Registry-sub000/message"
)

func TestSubjectSelection(t *testing.T) {
	tests := []struct {
		op      message.OperationType
		dt      message.DescriptionType
		subject string
	}{
		{message.OpCreation, message.DescriptionBasic, SubjectCreationBasic},
		{message.OpCreation, message.DescriptionRDF, SubjectCreationRDF},
		{message.OpModification, message.DescriptionBasic, SubjectModificationBasic},
		{message.OpModification, message.DescriptionRDF, SubjectModificationRDF},
	}
	for _, tt := range tests {
		subject, err := Subject(tt.op, tt.dt)
		require.NoError(t, err)
		assert.Equal(t, tt.subject, subject)
	}
}

func TestSubjectRemovalHasNoPeer(t *testing.T) {
	_, err := Subject(message.OpRemoval, message.DescriptionBasic)
	assert.Error(t, err)
}

func TestParseResultSuccess(t *testing.T) {
	payload := []byte(`{
		"success": true,
		"objectDescription": {
			"a": {"name": "Temp Sensor", "interworkingServiceURL": "https://p1.example.org/iws/"}
		}
	}`)

	result, err := ParseResult(payload)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Contains(t, result.ObjectDescription, "a")

	batch, err := result.Batch(message.KindResource)
	require.NoError(t, err)
	require.Contains(t, batch, "a")
	res, ok := batch["a"].(*message.Resource)
	require.True(t, ok)
	assert.Equal(t, "Temp Sensor", res.Name)
}

func TestParseResultGarbage(t *testing.T) {
	_, err := ParseResult([]byte("not json"))
	assert.Error(t, err)
}

func TestBatchUnknownKind(t *testing.T) {
	result := &ValidationResult{Success: true}
	_, err := result.Batch(message.EntityKind("unknown"))
	assert.Error(t, err)
}

func TestSuccessResultRoundTrip(t *testing.T) {
	batch := message.KeyedBatch{
		"k1": &message.InformationModel{Name: "BIM", Owner: "p-1"},
	}
	result, err := SuccessResult(batch)
	require.NoError(t, err)
	assert.True(t, result.Success)

	decoded, err := result.Batch(message.KindInformationModel)
	require.NoError(t, err)
	model, ok := decoded["k1"].(*message.InformationModel)
	require.True(t, ok)
	assert.Equal(t, "BIM", model.Name)
}

func TestEchoVerdict(t *testing.T) {
	result := EchoVerdict(SubjectCreationBasic, []byte(`{"a": {"name": "R1"}}`))
	require.True(t, result.Success)
	assert.Contains(t, result.ObjectDescription, "a")

	result = EchoVerdict(SubjectCreationBasic, []byte("garbage"))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
}

func TestFailureResult(t *testing.T) {
	result := FailureResult("vocabulary mismatch")
	assert.False(t, result.Success)
	assert.Equal(t, "vocabulary mismatch", result.Message)

	payload, err := json.Marshal(result)
	require.NoError(t, err)
	parsed, err := ParseResult(payload)
	require.NoError(t, err)
	assert.False(t, parsed.Success)
}
