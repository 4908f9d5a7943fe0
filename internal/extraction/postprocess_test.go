package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBlanks(t *testing.T) {
	rec := Record{Provenance: map[string]Provenance{}}
	require.NoError(t, rec.Set(FieldContactPhone, "N/A"))
	require.NoError(t, rec.Set(FieldContactCompany, " - "))
	require.NoError(t, rec.Set(FieldVehicleFuel, "Unknown"))
	require.NoError(t, rec.Set(FieldVehicleBrand, "Audi"))
	require.NoError(t, rec.Set(FieldDestOptions, []string{"Lagos", "n/a"}))
	rec.Provenance[FieldContactPhone] = Provenance{Strategy: "ai"}

	NormalizeBlanks(&rec)

	assert.Empty(t, rec.Contact.Phone)
	assert.Empty(t, rec.Contact.Company)
	assert.Empty(t, rec.Vehicle.FuelType)
	assert.Equal(t, "Audi", rec.Vehicle.Brand)
	assert.Nil(t, rec.Shipment.DestinationOptions)
	assert.NotContains(t, rec.Provenance, FieldContactPhone)
}

func TestBackfillRoute(t *testing.T) {
	cat := testCatalog(t)

	t.Run("fills missing side only", func(t *testing.T) {
		rec := Record{Shipment: Shipment{Destination: "Jeddah"}}
		n := BackfillRoute(&rec, cat, "car from Antwerp to Dammam")

		assert.Equal(t, 1, n)
		assert.Equal(t, "Antwerp", rec.Shipment.Origin)
		assert.Equal(t, "Jeddah", rec.Shipment.Destination)
		assert.Equal(t, BackfillStrategy, rec.Provenance[FieldOrigin].Strategy)
	})

	t.Run("complete route untouched", func(t *testing.T) {
		rec := Record{Shipment: Shipment{Origin: "Hamburg", Destination: "Mombasa"}}
		assert.Zero(t, BackfillRoute(&rec, cat, "from Antwerp to Lagos"))
		assert.Equal(t, "Hamburg", rec.Shipment.Origin)
	})

	t.Run("guarded against contact name", func(t *testing.T) {
		rec := Record{Contact: Contact{Name: "Adrien Paris"}}
		BackfillRoute(&rec, cat, "from Paris to Lagos")
		assert.Empty(t, rec.Shipment.Origin)
		assert.Equal(t, "Lagos", rec.Shipment.Destination)
	})
}

func TestStripArtifacts(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"personal effects ()", "personal effects"},
		{"spare tyres ( ) ,", "spare tyres"},
		{"household  goods []", "household goods"},
		{"tools (boxed)", "tools (boxed)"},
		{"()", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			rec := Record{}
			require.NoError(t, rec.Set(FieldCargo, tt.in))
			StripArtifacts(&rec)
			assert.Equal(t, tt.want, rec.Shipment.Cargo)
		})
	}
}

func TestAssess(t *testing.T) {
	expected := []string{FieldContactEmail, FieldVehicleBrand, FieldOrigin, FieldDestination}

	rec := Record{Provenance: map[string]Provenance{
		FieldVehicleBrand: {Strategy: "pattern"},
		FieldContactEmail: {Strategy: "ai"},
	}}
	rec.Vehicle.Brand = "BMW"
	rec.Contact.Email = "a@b.be"
	results := []Result{
		result("pattern", 0.5, Fields{FieldVehicleBrand: "BMW"}, nil),
		result("ai", 0.7, Fields{FieldContactEmail: "a@b.be"}, nil),
		result("unused", 0.1, Fields{}, nil),
	}

	q := Assess(&rec, results, expected)

	assert.InDelta(t, 0.6, q.QualityScore, 1e-9)
	assert.InDelta(t, 0.5, q.CompletenessScore, 1e-9)
	assert.Equal(t, []string{
		"missing expected field: " + FieldOrigin,
		"missing expected field: " + FieldDestination,
	}, q.Warnings)
}

func TestAssess_NothingContributed(t *testing.T) {
	rec := Record{}
	q := Assess(&rec, []Result{failed("ai", ErrUnusableOutput)}, []string{FieldContactName})
	assert.Zero(t, q.QualityScore)
	assert.Zero(t, q.CompletenessScore)
	assert.Len(t, q.Warnings, 1)
}
