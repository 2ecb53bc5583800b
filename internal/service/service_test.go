package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstepanko/classreg/internal/engine"
	"github.com/mstepanko/classreg/internal/model"
	"github.com/mstepanko/classreg/internal/store"
)

func newTestService(t *testing.T) *RegistrationService {
	t.Helper()
	eng := engine.New(store.NewMemory(), engine.NewCheckinCodec([]byte("test-secret")))
	return NewRegistrationService(eng)
}

func validSessionRequest() model.CreateSessionRequest {
	return model.CreateSessionRequest{
		StartsAt:        time.Now().Add(24 * time.Hour),
		DurationMinutes: 60,
		Slots:           []model.SlotRequest{{TrainerID: "anna", Capacity: 2}},
	}
}

func TestCreateSession_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.CreateSessionRequest)
	}{
		{"missing start", func(r *model.CreateSessionRequest) { r.StartsAt = time.Time{} }},
		{"zero duration", func(r *model.CreateSessionRequest) { r.DurationMinutes = 0 }},
		{"no slots", func(r *model.CreateSessionRequest) { r.Slots = nil }},
		{"blank trainer", func(r *model.CreateSessionRequest) { r.Slots[0].TrainerID = "  " }},
		{"negative capacity", func(r *model.CreateSessionRequest) { r.Slots[0].Capacity = -2 }},
		{"duplicate trainer", func(r *model.CreateSessionRequest) {
			r.Slots = append(r.Slots, model.SlotRequest{TrainerID: "anna", Capacity: 1})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSessionRequest()
			tt.mutate(&req)
			_, err := svc.CreateSession(ctx, req)
			assert.Error(t, err)
		})
	}
}

func TestCreateSession_AcceptsUnlimited(t *testing.T) {
	svc := newTestService(t)
	req := validSessionRequest()
	req.Slots[0].Capacity = model.CapacityUnlimited

	s, err := svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, s.Slots["anna"].Unlimited())
}

func TestRegister_ContactValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, validSessionRequest())
	require.NoError(t, err)

	valid := model.Contact{Name: "Pat", Email: "pat@example.com", Phone: "+1 555 0100"}

	tests := []struct {
		name   string
		mutate func(*model.Contact)
	}{
		{"blank name", func(c *model.Contact) { c.Name = "   " }},
		{"blank email", func(c *model.Contact) { c.Email = "" }},
		{"email without domain", func(c *model.Contact) { c.Email = "pat@" }},
		{"email without at", func(c *model.Contact) { c.Email = "pat.example.com" }},
		{"blank phone", func(c *model.Contact) { c.Phone = "" }},
		{"phone with letters", func(c *model.Contact) { c.Phone = "call me" }},
		{"phone too short", func(c *model.Contact) { c.Phone = "123" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contact := valid
			tt.mutate(&contact)
			_, err := svc.Register(ctx, s.ID, "anna", contact)
			assert.Error(t, err)
		})
	}

	mixed := valid
	mixed.Email = "Pat@Example.com"
	reg, err := svc.Register(ctx, s.ID, "anna", mixed)
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", reg.Email, "email normalized to lower case")
}

func TestRemove_RequiresActor(t *testing.T) {
	svc := newTestService(t)
	err := svc.Remove(context.Background(), "some-id", "  ")
	assert.Error(t, err)
}

func TestGetSession_AuditDoesNotBlockRead(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	s, err := svc.CreateSession(ctx, validSessionRequest())
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}
