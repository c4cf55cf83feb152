package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"documerge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFields holds its first call open until the caller's context ends
// when started is set.
type fakeFields struct {
	fields  []models.ExternalField
	err     error
	started chan struct{}
	calls   atomic.Int32
}

func (f *fakeFields) ListFields(ctx context.Context, _ *models.AirtableConfig) ([]models.ExternalField, error) {
	if f.started != nil && f.calls.Add(1) == 1 {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.fields, f.err
}

type fakePlaceholders struct {
	placeholders []string
	err          error
}

func (f *fakePlaceholders) GetPlaceholders(context.Context, string) ([]string, error) {
	return f.placeholders, f.err
}

func proposeRequest() ProposeRequest {
	return ProposeRequest{
		AirtableConfig: testAirtableConfig(),
		GoogleDocURL:   testDocURL,
	}
}

func TestMappingService_Propose(t *testing.T) {
	fields := &fakeFields{fields: []models.ExternalField{
		{Name: "Customer Name", Type: models.FieldTypeText},
		{Name: "Email", Type: models.FieldTypeEmail},
	}}
	docs := &fakePlaceholders{placeholders: []string{"{{email}}", "{{name}}", "{{unknown}}"}}
	svc := NewMappingService(fields, docs, nil, false, zap.NewNop())

	req := proposeRequest()
	req.Existing = []models.FieldMapping{{DocPlaceholder: "{{unknown}}", TargetField: "Email", FieldType: models.FieldTypeEmail}}

	p, err := svc.Propose(context.Background(), "s1", req)
	require.NoError(t, err)
	assert.Equal(t, docs.placeholders, p.Placeholders)
	assert.Len(t, p.Fields, 2)

	require.Len(t, p.Mappings, 3)
	assert.Equal(t, "Email", p.Mappings[0].TargetField)
	assert.Equal(t, models.FieldTypeEmail, p.Mappings[0].FieldType)
	assert.Equal(t, "Customer Name", p.Mappings[1].TargetField)
	assert.Equal(t, "Email", p.Mappings[2].TargetField)
}

func TestMappingService_Propose_NoPlaceholders(t *testing.T) {
	svc := NewMappingService(&fakeFields{}, &fakePlaceholders{}, nil, false, zap.NewNop())

	p, err := svc.Propose(context.Background(), "", proposeRequest())
	require.NoError(t, err)
	assert.NotNil(t, p.Placeholders)
	assert.Empty(t, p.Placeholders)
	assert.Empty(t, p.Mappings)
}

func TestMappingService_Propose_Validation(t *testing.T) {
	svc := NewMappingService(&fakeFields{}, &fakePlaceholders{}, nil, false, zap.NewNop())

	req := proposeRequest()
	req.AirtableConfig = &models.AirtableConfig{BaseID: "app"}
	_, err := svc.Propose(context.Background(), "", req)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	req = proposeRequest()
	req.GoogleDocURL = "https://example.com/doc"
	_, err = svc.Propose(context.Background(), "", req)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMappingService_Propose_FetchError(t *testing.T) {
	upstream := &models.ExternalServiceError{Service: "airtable", StatusCode: 500, Message: "down"}
	svc := NewMappingService(&fakeFields{err: upstream}, &fakePlaceholders{placeholders: []string{"{{a}}"}}, nil, false, zap.NewNop())

	_, err := svc.Propose(context.Background(), "s1", proposeRequest())
	assert.ErrorIs(t, err, models.ErrExternalService)
}

func TestMappingService_Propose_StaleRequestDropped(t *testing.T) {
	fields := &fakeFields{
		fields:  []models.ExternalField{{Name: "Name"}},
		started: make(chan struct{}),
	}
	svc := NewMappingService(fields, &fakePlaceholders{placeholders: []string{"{{name}}"}}, nil, false, zap.NewNop())

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Propose(context.Background(), "s1", proposeRequest())
		errc <- err
	}()

	select {
	case <-fields.started:
	case <-time.After(time.Second):
		t.Fatal("first proposal never reached the data source")
	}

	p, err := svc.Propose(context.Background(), "s1", proposeRequest())
	require.NoError(t, err)
	assert.Equal(t, "Name", p.Mappings[0].TargetField)

	staleErr := <-errc
	assert.True(t, errors.Is(staleErr, models.ErrStaleRequest), "got %v", staleErr)
	assert.Equal(t, 0, svc.guard.Active())
}

func TestMappingService_Propose_DoesNotAliasExisting(t *testing.T) {
	svc := NewMappingService(&fakeFields{}, &fakePlaceholders{placeholders: []string{"{{a}}"}}, nil, false, zap.NewNop())

	req := proposeRequest()
	req.Existing = []models.FieldMapping{{DocPlaceholder: "{{a}}", TargetField: "A"}}
	p, err := svc.Propose(context.Background(), "", req)
	require.NoError(t, err)

	p.Mappings[0].TargetField = "changed"
	assert.Equal(t, "A", req.Existing[0].TargetField)
}

func TestMappingService_NormalizedNames(t *testing.T) {
	fields := []models.ExternalField{{Name: "Customer Name"}}

	plain := NewMappingService(nil, nil, nil, false, zap.NewNop())
	assert.Empty(t, plain.AutoMap([]string{"{{customer_name}}"}, fields, nil)[0].TargetField)

	normalized := NewMappingService(nil, nil, nil, true, zap.NewNop())
	assert.Equal(t, "Customer Name", normalized.AutoMap([]string{"{{customer_name}}"}, fields, nil)[0].TargetField)
}
