package extraction

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/quoted/internal/config"
)

func newTestPipeline(t *testing.T, a Analyzer) *Pipeline {
	t.Helper()
	p, err := NewPipeline(config.Default().Extraction, testCatalog(t), a, 0, nil)
	require.NoError(t, err)
	return p
}

func TestPipeline_TextRequest(t *testing.T) {
	p := newTestPipeline(t, nil)

	rec := p.Run(context.Background(), Document{
		Channel: ChannelText,
		Text:    "Vehicle: BMW Série 7, from Bruxelles to Djeddah, contact Badr Algothami <badr@example.com>",
	})

	assert.Equal(t, "BMW", rec.Vehicle.Brand)
	assert.Equal(t, "Série 7", rec.Vehicle.Model)
	assert.Equal(t, "Bruxelles", rec.Shipment.Origin)
	assert.Equal(t, "Djeddah", rec.Shipment.Destination)
	assert.Equal(t, "badr@example.com", rec.Contact.Email)
	assert.Greater(t, rec.Quality.QualityScore, 0.0)
	assert.Equal(t, 1.0, rec.Quality.CompletenessScore)
	assert.Equal(t, PatternStrategyName, rec.Provenance[FieldVehicleBrand].Strategy)

	raw, err := rec.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "quality")
}

func TestPipeline_Enrichment(t *testing.T) {
	ai := Analysis{
		Fields:     map[string]any{"shipment": map[string]any{"destination": "Lagos"}},
		Confidence: 0.7,
	}

	t.Run("weak pattern result is enriched", func(t *testing.T) {
		fa := &fakeAnalyzer{analysis: ai}
		p := newTestPipeline(t, fa)

		rec := p.Run(context.Background(), Document{Channel: ChannelText, Text: "Please quote a BMW"})

		assert.Equal(t, int32(1), fa.calls.Load())
		assert.Equal(t, "BMW", rec.Vehicle.Brand)
		assert.Equal(t, "Lagos", rec.Shipment.Destination)
		assert.Equal(t, AIStrategyName, rec.Provenance[FieldDestination].Strategy)
	})

	t.Run("strong pattern result skips ai", func(t *testing.T) {
		fa := &fakeAnalyzer{analysis: ai}
		p := newTestPipeline(t, fa)

		rec := p.Run(context.Background(), Document{
			Channel: ChannelText,
			Text:    "Vehicle: BMW Série 7, from Bruxelles to Djeddah, contact Badr Algothami <badr@example.com>",
		})

		assert.Zero(t, fa.calls.Load())
		assert.Equal(t, "Djeddah", rec.Shipment.Destination)
	})

	t.Run("pattern failure is enriched", func(t *testing.T) {
		fa := &fakeAnalyzer{analysis: ai}
		p := newTestPipeline(t, fa)

		rec := p.Run(context.Background(), Document{Channel: ChannelText, Text: "hello there"})

		assert.Equal(t, int32(1), fa.calls.Load())
		assert.Equal(t, "Lagos", rec.Shipment.Destination)
		assert.Greater(t, rec.Quality.QualityScore, 0.0)
	})
}

func TestPipeline_BlankLikeRouteStaysEmpty(t *testing.T) {
	tests := []struct {
		name            string
		text            string
		wantOrigin      string
		wantDestination string
	}{
		{"tbd destination", "Toyota Hilux\nOrigin: Antwerp\nDestination: TBD", "Antwerp", ""},
		{"unknown destination", "Toyota Hilux\nOrigin: Antwerp\nDestination: Unknown", "Antwerp", ""},
		{"n/a origin", "Toyota Hilux\nOrigin: N/A\nDestination: Lagos", "", "Lagos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, nil)

			rec := p.Run(context.Background(), Document{Channel: ChannelText, Text: tt.text})

			assert.Equal(t, tt.wantOrigin, rec.Shipment.Origin)
			assert.Equal(t, tt.wantDestination, rec.Shipment.Destination)
			if tt.wantDestination == "" {
				assert.NotContains(t, rec.Provenance, FieldDestination)
			}
			if tt.wantOrigin == "" {
				assert.NotContains(t, rec.Provenance, FieldOrigin)
			}
		})
	}
}

func TestPipeline_BlankLikePatternValueIsEnriched(t *testing.T) {
	fa := &fakeAnalyzer{analysis: Analysis{
		Fields:     map[string]any{"shipment": map[string]any{"cargo": "Toyota Hilux pickup"}},
		Confidence: 0.2,
	}}
	p := newTestPipeline(t, fa)

	rec := p.Run(context.Background(), Document{Channel: ChannelText, Text: "Cargo: N/A"})

	assert.Equal(t, int32(1), fa.calls.Load())
	assert.Equal(t, "Toyota Hilux pickup", rec.Shipment.Cargo)
	assert.Equal(t, AIStrategyName, rec.Provenance[FieldCargo].Strategy)
}

func TestPipeline_ImageWithOCRPass(t *testing.T) {
	fa := &fakeAnalyzer{analysis: Analysis{
		Fields:     map[string]any{"vehicle": map[string]any{"brand": "Toyota", "model": "Hilux"}},
		Confidence: 0.8,
		RawText:    "TOYOTA HILUX 2018\nFrom Hamburg to Mombasa",
	}}
	p := newTestPipeline(t, fa)

	rec := p.Run(context.Background(), Document{Channel: ChannelImage, MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}})

	assert.Equal(t, int32(1), fa.calls.Load())
	assert.Equal(t, "Toyota", rec.Vehicle.Brand)
	assert.Equal(t, "Hilux", rec.Vehicle.Model)
	assert.Equal(t, "Hamburg", rec.Shipment.Origin)
	assert.Equal(t, "Mombasa", rec.Shipment.Destination)
	assert.Equal(t, OriginOCR, rec.Provenance[FieldOrigin].Origin)
	require.NotNil(t, rec.Vehicle.Year)
	assert.Equal(t, 2018, *rec.Vehicle.Year)
}

func TestPipeline_AllStrategiesFail(t *testing.T) {
	tests := []struct {
		name string
		a    Analyzer
		doc  Document
	}{
		{
			name: "image without analyzer",
			doc:  Document{Channel: ChannelImage, Data: []byte{1, 2, 3}},
		},
		{
			name: "text without fields",
			doc:  Document{Channel: ChannelText, Text: "hello there"},
		},
		{
			name: "analyzer error",
			a:    &fakeAnalyzer{err: assert.AnError},
			doc:  Document{Channel: ChannelPDF, Data: []byte("%PDF")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.a)

			rec := p.Run(context.Background(), tt.doc)

			assert.Zero(t, rec.Quality.QualityScore)
			assert.Zero(t, rec.FieldCount())
			assert.Contains(t, rec.Quality.Warnings, "all extraction strategies failed")
		})
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	cfg := config.Default().Extraction
	cfg.EnrichmentThreshold = 1.5
	_, err := NewPipeline(cfg, nil, nil, 0, nil)
	assert.Error(t, err)

	cfg = config.Default().Extraction
	cfg.ExpectedFields = []string{"vehicle.colour"}
	_, err = NewPipeline(cfg, nil, nil, 0, nil)
	assert.Error(t, err)
}
