package ticketing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyClassifiesCallerText(t *testing.T) {
	classifier, err := NewClassifier(context.Background(), DefaultPolicy)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		text     string
		expected Classification
	}{
		{name: "forgotten password", text: "I forgot my password", expected: Classification{Priority: "low", Type: "problem"}},
		{name: "integration help", text: "custom API integration help", expected: Classification{Priority: "low", Type: "technical"}},
		{name: "outage", text: "Our production system is down and this is urgent", expected: Classification{Priority: "urgent", Type: "incident"}},
		{name: "blocking error", text: "We are stuck, the export keeps failing with an error and it is blocking our team", expected: Classification{Priority: "high", Type: "problem"}},
		{name: "long text without priority words", text: strings.Repeat("the invoice layout looks odd to me ", 8), expected: Classification{Priority: "high", Type: "question"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			classification, err := classifier.Classify(context.Background(), testCase.text)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, classification)
		})
	}
}

func TestClassifierFallsBackWhenPolicyHasNoDecision(t *testing.T) {
	classifier, err := NewClassifier(context.Background(), `
package ticket_classification

import rego.v1

decision := {"priority": "urgent"} if input.text == "fire"
`)
	require.NoError(t, err)

	classification, err := classifier.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, defaultClassification, classification)

	classification, err = classifier.Classify(context.Background(), "fire")
	require.NoError(t, err)
	assert.Equal(t, Classification{Priority: "urgent", Type: "question"}, classification)
}

func TestNewClassifierRejectsInvalidPolicy(t *testing.T) {
	_, err := NewClassifier(context.Background(), "package broken\n decision := {")
	assert.Error(t, err)
}
