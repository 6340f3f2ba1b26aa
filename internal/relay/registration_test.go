package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationNewUserEndToEnd(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)
	ctx := context.Background()

	d := r.Route(ctx, inbound("111", "0912121212"))
	assert.Equal(t, OutcomeRegistration, d.Outcome)
	assert.Equal(t, []string{msgAskGender}, d.Texts())
	reg, ok := st.registration("111")
	require.True(t, ok)
	assert.Equal(t, StepAwaitingGender, reg.Step)
	assert.Equal(t, "0912121212", reg.Phone)

	d = r.Route(ctx, inbound("111", "Male"))
	assert.Equal(t, OutcomeRegistration, d.Outcome)
	assert.Equal(t, []string{msgAskName}, d.Texts())
	reg, _ = st.registration("111")
	assert.Equal(t, StepAwaitingName, reg.Step)
	assert.Equal(t, "male", reg.Gender)

	d = r.Route(ctx, inbound("111", "Abebe Kebede"))
	assert.Equal(t, OutcomeCreated, d.Outcome)
	require.Len(t, crm.created, 1)
	assert.Equal(t, RecordFields{
		FirstName:  "Abebe",
		LastName:   "Kebede",
		Salutation: "Mr.",
		Phone:      "0912121212",
		ChatID:     "111",
		Username:   "abebe_k",
	}, crm.created[0])
	_, ok = st.registration("111")
	assert.False(t, ok, "registration state should be cleared")
	texts := d.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, mainMenu("Mr. Abebe", false), texts[1])
}

func TestRegistrationNormalizesPrefixedPhone(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)

	r.Route(context.Background(), inbound("111", "+251 912 121 212"))

	reg, ok := st.registration("111")
	require.True(t, ok)
	assert.Equal(t, "0912121212", reg.Phone)
}

func TestRegistrationLinksExistingRecordByPhone(t *testing.T) {
	crm := newFakeCRM()
	rec := crm.addRecord(Record{Name: "Sara Tesfaye", FirstName: "Sara", Salutation: "Ms.", Phone: "0912121212"})
	st := newMapStore()
	r := newTestRouter(crm, st)

	d := r.Route(context.Background(), inbound("111", "+251912121212"))

	assert.Equal(t, OutcomeLinked, d.Outcome)
	assert.Equal(t, "111", crm.updated[rec.ID].ChatID)
	assert.Equal(t, "abebe_k", crm.updated[rec.ID].Username)
	_, ok := st.registration("111")
	assert.False(t, ok)
	assert.Equal(t, []string{msgLinked("Ms. Sara"), mainMenu("Ms. Sara", false)}, d.Texts())
	assert.Equal(t, ActionTyping, d.Actions[0].Kind)
}

func TestRegistrationLinkEscapesRecordName(t *testing.T) {
	crm := newFakeCRM()
	crm.addRecord(Record{Name: "Sara <Tesfaye>", FirstName: "<i>Sara</i>", Phone: "0912121212"})
	r := newTestRouter(crm, newMapStore())

	d := r.Route(context.Background(), inbound("111", "0912121212"))

	require.Equal(t, OutcomeLinked, d.Outcome)
	for _, text := range d.Texts() {
		assert.NotContains(t, text, "<i>")
	}
	assert.Contains(t, d.Texts()[0], "&lt;i&gt;Sara&lt;/i&gt;")
}

func TestRegistrationLinksExistingRecordByEmail(t *testing.T) {
	crm := newFakeCRM()
	rec := crm.addRecord(Record{Name: "Sara Tesfaye", Email: "sara@example.com"})
	r := newTestRouter(crm, newMapStore())

	d := r.Route(context.Background(), inbound("111", "Sara@Example.com"))

	assert.Equal(t, OutcomeLinked, d.Outcome)
	assert.Equal(t, "111", crm.updated[rec.ID].ChatID)
}

func TestRegistrationUnknownEmail(t *testing.T) {
	r := newTestRouter(newFakeCRM(), newMapStore())

	d := r.Route(context.Background(), inbound("111", "nobody@example.com"))

	assert.Equal(t, OutcomePrompt, d.Outcome)
	assert.Equal(t, []string{msgEmailNotFound}, d.Texts())
}

func TestRegistrationPromptsForIdentifier(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)
	ctx := context.Background()

	d := r.Route(ctx, inbound("111", "/start"))
	assert.Equal(t, []string{msgWelcome}, d.Texts())

	d = r.Route(ctx, inbound("111", "hello there"))
	assert.Equal(t, []string{msgIdentifierPrompt}, d.Texts())

	_, ok := st.registration("111")
	assert.False(t, ok)
	assert.Zero(t, crm.count("find_record_by_phone"))
}

func TestRegistrationRejectsMalformedPhone(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)

	d := r.Route(context.Background(), inbound("111", "0812 121 212"))

	assert.Equal(t, OutcomeInvalidInput, d.Outcome)
	assert.Equal(t, []string{msgInvalidPhone}, d.Texts())
	assert.Zero(t, crm.count("find_record_by_phone"))
}

func TestRegistrationLenientPhone(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)
	r.reg.strictPhone = false

	d := r.Route(context.Background(), inbound("111", "0812 121 212"))

	assert.Equal(t, OutcomeRegistration, d.Outcome)
	reg, _ := st.registration("111")
	assert.Equal(t, "0812121212", reg.Phone)
}

func TestRegistrationStepNeverAdvancesOnInvalidInput(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)
	ctx := context.Background()

	require.NoError(t, st.PutRegistration(ctx, "111", RegistrationState{Step: StepAwaitingGender, Phone: "0912121212"}))
	for _, in := range []string{"x", "m", "maleish", "", "1"} {
		d := r.Route(ctx, inbound("111", in))
		assert.Equal(t, OutcomeInvalidInput, d.Outcome, in)
		assert.Equal(t, []string{msgRepeatGender}, d.Texts(), in)
		reg, _ := st.registration("111")
		assert.Equal(t, StepAwaitingGender, reg.Step, in)
	}

	require.NoError(t, st.PutRegistration(ctx, "111", RegistrationState{Step: StepAwaitingName, Phone: "0912121212", Gender: "female"}))
	for _, in := range []string{"Abebe", "   ", "Abebe   "} {
		d := r.Route(ctx, inbound("111", in))
		assert.Equal(t, OutcomeInvalidInput, d.Outcome, in)
		reg, _ := st.registration("111")
		assert.Equal(t, StepAwaitingName, reg.Step, in)
	}
	assert.Empty(t, crm.created)
}

func TestRegistrationGenderIsCaseInsensitive(t *testing.T) {
	st := newMapStore()
	r := newTestRouter(newFakeCRM(), st)
	ctx := context.Background()
	require.NoError(t, st.PutRegistration(ctx, "111", RegistrationState{Step: StepAwaitingGender, Phone: "0912121212"}))

	r.Route(ctx, inbound("111", "  FEMALE "))

	reg, _ := st.registration("111")
	assert.Equal(t, StepAwaitingName, reg.Step)
	assert.Equal(t, "female", reg.Gender)
}

func TestRegistrationMultiWordLastName(t *testing.T) {
	crm := newFakeCRM()
	st := newMapStore()
	r := newTestRouter(crm, st)
	ctx := context.Background()
	require.NoError(t, st.PutRegistration(ctx, "111", RegistrationState{Step: StepAwaitingName, Phone: "0912121212", Gender: "female"}))

	r.Route(ctx, inbound("111", "  Meron   Haile  Selassie "))

	require.Len(t, crm.created, 1)
	assert.Equal(t, "Meron", crm.created[0].FirstName)
	assert.Equal(t, "Haile Selassie", crm.created[0].LastName)
	assert.Equal(t, "Ms.", crm.created[0].Salutation)
}

func TestRegistrationCreateFailureRetainsState(t *testing.T) {
	crm := newFakeCRM()
	crm.fail["create_record"] = true
	st := newMapStore()
	r := newTestRouter(crm, st)
	ctx := context.Background()
	require.NoError(t, st.PutRegistration(ctx, "111", RegistrationState{Step: StepAwaitingName, Phone: "0912121212", Gender: "male"}))

	d := r.Route(ctx, inbound("111", "Abebe Kebede"))
	assert.Equal(t, OutcomeCreateFailed, d.Outcome)
	assert.Equal(t, []string{msgCreateFailed}, d.Texts())
	reg, ok := st.registration("111")
	require.True(t, ok)
	assert.Equal(t, StepAwaitingName, reg.Step)

	crm.fail["create_record"] = false
	d = r.Route(ctx, inbound("111", "Abebe Kebede"))
	assert.Equal(t, OutcomeCreated, d.Outcome)
}

func TestRegistrationPhoneLookupFailureCreatesNoState(t *testing.T) {
	crm := newFakeCRM()
	crm.fail["find_record_by_phone"] = true
	st := newMapStore()
	r := newTestRouter(crm, st)

	d := r.Route(context.Background(), inbound("111", "0912121212"))

	assert.Equal(t, OutcomeUnavailable, d.Outcome)
	_, ok := st.registration("111")
	assert.False(t, ok)
}

func TestRegistrationLinkFailure(t *testing.T) {
	crm := newFakeCRM()
	crm.addRecord(Record{Name: "Sara", Phone: "0912121212"})
	crm.fail["update_record"] = true
	r := newTestRouter(crm, newMapStore())

	d := r.Route(context.Background(), inbound("111", "0912121212"))

	assert.Equal(t, OutcomeCreateFailed, d.Outcome)
	assert.Equal(t, []string{msgLinkFailed}, d.Texts())
}

func TestParseName(t *testing.T) {
	first, last, err := parseName("Abebe Kebede")
	require.NoError(t, err)
	assert.Equal(t, "Abebe", first)
	assert.Equal(t, "Kebede", last)

	_, _, err = parseName("Abebe")
	assert.ErrorIs(t, err, ErrValidation)
}
