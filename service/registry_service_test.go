package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiote-h2020/Registry-sub000/message"
)

func TestInboundSubjectsCoverAllKindsAndOperations(t *testing.T) {
	subjects := InboundSubjects()

	// 4 kinds x 3 operations + clear data
	assert.Len(t, subjects, 13)
	assert.Contains(t, subjects, "registry.resource.creationRequested")
	assert.Contains(t, subjects, "registry.informationModel.modificationRequested")
	assert.Contains(t, subjects, "registry.sspResource.removalRequested")
	assert.Contains(t, subjects, "registry.federation.creationRequested")
	assert.Contains(t, subjects, SubjectClearData)
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject string
		kind    message.EntityKind
		op      message.OperationType
	}{
		{"registry.resource.creationRequested", message.KindResource, message.OpCreation},
		{"registry.informationModel.modificationRequested", message.KindInformationModel, message.OpModification},
		{"registry.federation.removalRequested", message.KindFederation, message.OpRemoval},
		{"registry.sspResource.creationRequested", message.KindSspResource, message.OpCreation},
	}
	for _, tt := range tests {
		kind, op, ok := parseSubject(tt.subject)
		require.True(t, ok, tt.subject)
		assert.Equal(t, tt.kind, kind)
		assert.Equal(t, tt.op, op)
	}
}

func TestParseSubjectRejectsUnroutable(t *testing.T) {
	for _, subject := range []string{
		"registry.resource",
		"registry.resource.creationRequested.extra",
		"registry.dragon.creationRequested",
		"registry.resource.somethingRequested",
		"other.resource.creationRequested",
		"",
	} {
		_, _, ok := parseSubject(subject)
		assert.False(t, ok, subject)
	}
}
