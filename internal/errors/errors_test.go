package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *PipelineError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &PipelineError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "Error: something broke",
		},
		{
			name:     "what and why",
			err:      &PipelineError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input",
		},
		{
			name: "full error",
			err: &PipelineError{
				What: "something broke",
				Why:  "bad input",
				Fix:  "try again",
			},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input\n\nFix: try again",
		},
		{
			name: "with cause",
			err: &PipelineError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr:  "something broke: underlying error",
			wantUser: "Error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.err.Error())
			assert.Equal(t, tt.wantUser, tt.err.UserMessage())
		})
	}
}

func TestPipelineErrorIs(t *testing.T) {
	a := &PipelineError{Code: CodeGateFailure, What: "a"}
	b := &PipelineError{Code: CodeGateFailure, What: "b"}
	c := &PipelineError{Code: CodeBudgetExceeded, What: "c"}

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestCategoryExitCode(t *testing.T) {
	assert.Equal(t, 2, CategoryBadRequest.ExitCode())
	assert.Equal(t, 3, CategoryConflict.ExitCode())
	assert.Equal(t, 1, CategoryInternal.ExitCode())
}

func TestValidationErrorsAggregation(t *testing.T) {
	var ve ValidationErrors
	assert.False(t, ve.HasErrors())

	ve.Add("tasks[0].id", "missing required field")
	ve.Add("tasks[1].deps", "must be an array")

	assert.True(t, ve.HasErrors())
	assert.Contains(t, ve.Error(), "tasks[0].id")
	assert.Contains(t, ve.Error(), "tasks[1].deps")
}

func TestBudgetExceededMessage(t *testing.T) {
	err := &BudgetExceeded{Current: 150000, Budget: 100000}
	assert.Contains(t, err.Error(), "150000")
	assert.Contains(t, err.Error(), "100000")
}

func TestDependencyConflictMessage(t *testing.T) {
	err := &DependencyConflict{DepIssue: 7, ConflictedFiles: []string{"a.go", "b.go"}}
	assert.Contains(t, err.Error(), "issue 7")
	assert.Contains(t, err.Error(), "2 files")
}

func TestWithCausePreservesOriginal(t *testing.T) {
	original := ErrConfigMissing("profile")
	cause := errors.New("file not found")
	wrapped := original.WithCause(cause)

	assert.Equal(t, cause, wrapped.Cause)
	assert.Nil(t, original.Cause)
	assert.Equal(t, original.Code, wrapped.Code)
}
