package change_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/gitgovern/pkg/change"
)

func TestValidateFields(t *testing.T) {
	ct := &change.ChangeType{
		Name: "grant",
		Fields: []change.ChangeField{
			{Key: "username", Type: change.FieldTextBox, MaxLength: 12, Pattern: `^[a-z.]+$`},
			{Key: "reason", Type: change.FieldTextBox, AllowNone: true},
			{Key: "role", Type: change.FieldChoice, Options: []change.FieldOption{
				{Label: "Engineer", Values: []string{"engineer"}},
				{Label: "Analyst", Values: []string{"analyst"}},
			}},
		},
	}

	tests := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{
			name:   "valid",
			values: map[string]any{"username": "jane.doe", "role": "engineer"},
		},
		{
			name:   "optional field omitted",
			values: map[string]any{"username": "jane.doe", "role": "analyst"},
		},
		{
			name:    "missing required field",
			values:  map[string]any{"role": "engineer"},
			wantErr: "required",
		},
		{
			name:    "too long",
			values:  map[string]any{"username": "averyverylongname", "role": "engineer"},
			wantErr: "exceeds",
		},
		{
			name:    "pattern mismatch",
			values:  map[string]any{"username": "Jane Doe", "role": "engineer"},
			wantErr: "format",
		},
		{
			name:    "option outside the closed set",
			values:  map[string]any{"username": "jane.doe", "role": "admin"},
			wantErr: "allowed option",
		},
		{
			name:    "unknown field",
			values:  map[string]any{"username": "jane.doe", "role": "engineer", "shell": "/bin/bash"},
			wantErr: "not defined",
		},
		{
			name:    "multiple values on a single-valued field",
			values:  map[string]any{"username": []string{"jane.doe", "john.doe"}, "role": "engineer"},
			wantErr: "single value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := change.ValidateFields(ct, tt.values)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCardinality(t *testing.T) {
	one := uuid.New()
	two := uuid.New()

	tests := []struct {
		name    string
		policy  change.CardinalityPolicy
		ids     []uuid.UUID
		wantErr bool
	}{
		{name: "allow one ok", policy: change.AllowOne, ids: []uuid.UUID{one}},
		{name: "allow one too many", policy: change.AllowOne, ids: []uuid.UUID{one, two}, wantErr: true},
		{name: "allow one empty", policy: change.AllowOne, ids: nil, wantErr: true},
		{name: "allow multiple ok", policy: change.AllowMultiple, ids: []uuid.UUID{one, two}},
		{name: "allow multiple empty", policy: change.AllowMultiple, ids: nil, wantErr: true},
		{name: "allow none ok", policy: change.AllowNone, ids: nil},
		{name: "allow none with target", policy: change.AllowNone, ids: []uuid.UUID{one}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := &change.ChangeType{Name: "x", DefinitionPolicy: tt.policy}
			err := change.ValidateCardinality(ct, tt.ids)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFingerprintIgnoresListOrder(t *testing.T) {
	a, err := change.Fingerprint(map[string]any{"Action": []any{"s3:GetObject", "s3:PutObject"}})
	require.NoError(t, err)
	b, err := change.Fingerprint(map[string]any{"Action": []any{"s3:PutObject", "s3:GetObject"}})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := change.Fingerprint(map[string]any{"Action": []any{"s3:PutObject"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
