package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field paths of the merged record.
const (
	FieldContactName    = "contact.name"
	FieldContactEmail   = "contact.email"
	FieldContactPhone   = "contact.phone"
	FieldContactCompany = "contact.company"

	FieldVehicleBrand    = "vehicle.brand"
	FieldVehicleModel    = "vehicle.model"
	FieldVehicleYear     = "vehicle.year"
	FieldVehicleLength   = "vehicle.dimensions.length_m"
	FieldVehicleWidth    = "vehicle.dimensions.width_m"
	FieldVehicleHeight   = "vehicle.dimensions.height_m"
	FieldVehicleWeight   = "vehicle.weight_kg"
	FieldVehicleEngine   = "vehicle.engine_cc"
	FieldVehicleFuel     = "vehicle.fuel_type"
	FieldVehicleCategory = "vehicle.type"

	FieldOrigin       = "shipment.origin"
	FieldDestination  = "shipment.destination"
	FieldDestOptions  = "shipment.destination_options"
	FieldShippingType = "shipment.shipping_type"
	FieldCargo        = "shipment.cargo"
)

type leafKind int

const (
	kindString leafKind = iota
	kindFloat
	kindInt
	kindList
)

// Leaves lists every leaf of the record in output order.
var Leaves = []string{
	FieldContactName, FieldContactEmail, FieldContactPhone, FieldContactCompany,
	FieldVehicleBrand, FieldVehicleModel, FieldVehicleYear,
	FieldVehicleLength, FieldVehicleWidth, FieldVehicleHeight,
	FieldVehicleWeight, FieldVehicleEngine, FieldVehicleFuel, FieldVehicleCategory,
	FieldOrigin, FieldDestination, FieldDestOptions, FieldShippingType, FieldCargo,
}

var leafKinds = map[string]leafKind{
	FieldVehicleYear:   kindInt,
	FieldVehicleEngine: kindInt,
	FieldVehicleLength: kindFloat,
	FieldVehicleWidth:  kindFloat,
	FieldVehicleHeight: kindFloat,
	FieldVehicleWeight: kindFloat,
	FieldDestOptions:   kindList,
}

func kindOf(path string) (leafKind, bool) {
	for _, l := range Leaves {
		if l == path {
			return leafKinds[path], true
		}
	}
	return 0, false
}

// Contact is the requester of a quote.
type Contact struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
}

// Dimensions are in meters.
type Dimensions struct {
	LengthM *float64 `json:"length_m,omitempty"`
	WidthM  *float64 `json:"width_m,omitempty"`
	HeightM *float64 `json:"height_m,omitempty"`
}

// Vehicle is the unit to be shipped.
type Vehicle struct {
	Brand      string     `json:"brand,omitempty"`
	Model      string     `json:"model,omitempty"`
	Year       *int       `json:"year,omitempty"`
	Dimensions Dimensions `json:"dimensions"`
	WeightKg   *float64   `json:"weight_kg,omitempty"`
	EngineCC   *int       `json:"engine_cc,omitempty"`
	FuelType   string     `json:"fuel_type,omitempty"`
	Type       string     `json:"type,omitempty"`
}

// Shipment is the requested route and mode.
type Shipment struct {
	Origin             string   `json:"origin,omitempty"`
	Destination        string   `json:"destination,omitempty"`
	DestinationOptions []string `json:"destination_options,omitempty"`
	ShippingType       string   `json:"shipping_type,omitempty"`
	Cargo              string   `json:"cargo,omitempty"`
}

// Provenance names the producer of one merged leaf.
type Provenance struct {
	Strategy   string  `json:"strategy"`
	Origin     Origin  `json:"origin"`
	Confidence float64 `json:"confidence"`
}

// Quality is attached to every record.
type Quality struct {
	QualityScore      float64  `json:"quality_score"`
	CompletenessScore float64  `json:"completeness_score"`
	Warnings          []string `json:"warnings"`
}

// Record is the merged, validated output of the pipeline.
type Record struct {
	Contact    Contact               `json:"contact"`
	Vehicle    Vehicle               `json:"vehicle"`
	Shipment   Shipment              `json:"shipment"`
	Provenance map[string]Provenance `json:"provenance,omitempty"`
	Quality    Quality               `json:"quality"`
}

// Warn appends a warning to the quality assessment.
func (r *Record) Warn(format string, args ...any) {
	r.Quality.Warnings = append(r.Quality.Warnings, fmt.Sprintf(format, args...))
}

// JSON encodes the record for storage.
func (r Record) JSON() (json.RawMessage, error) {
	return json.Marshal(r)
}

// Value returns the leaf at path, or false when it is unset.
func (r *Record) Value(path string) (any, bool) {
	var v any
	switch path {
	case FieldContactName:
		v = r.Contact.Name
	case FieldContactEmail:
		v = r.Contact.Email
	case FieldContactPhone:
		v = r.Contact.Phone
	case FieldContactCompany:
		v = r.Contact.Company
	case FieldVehicleBrand:
		v = r.Vehicle.Brand
	case FieldVehicleModel:
		v = r.Vehicle.Model
	case FieldVehicleYear:
		v = derefInt(r.Vehicle.Year)
	case FieldVehicleLength:
		v = derefFloat(r.Vehicle.Dimensions.LengthM)
	case FieldVehicleWidth:
		v = derefFloat(r.Vehicle.Dimensions.WidthM)
	case FieldVehicleHeight:
		v = derefFloat(r.Vehicle.Dimensions.HeightM)
	case FieldVehicleWeight:
		v = derefFloat(r.Vehicle.WeightKg)
	case FieldVehicleEngine:
		v = derefInt(r.Vehicle.EngineCC)
	case FieldVehicleFuel:
		v = r.Vehicle.FuelType
	case FieldVehicleCategory:
		v = r.Vehicle.Type
	case FieldOrigin:
		v = r.Shipment.Origin
	case FieldDestination:
		v = r.Shipment.Destination
	case FieldDestOptions:
		v = r.Shipment.DestinationOptions
	case FieldShippingType:
		v = r.Shipment.ShippingType
	case FieldCargo:
		v = r.Shipment.Cargo
	}
	if isEmpty(v) {
		return nil, false
	}
	return v, true
}

// Set stores v at path after coercing it to the leaf's type. A nil or
// empty v clears the leaf.
func (r *Record) Set(path string, v any) error {
	kind, ok := kindOf(path)
	if !ok {
		return fmt.Errorf("unknown field %q", path)
	}
	if isEmpty(v) {
		r.clear(path)
		return nil
	}
	c, ok := coerce(kind, v)
	if !ok {
		return fmt.Errorf("field %s: cannot use %T value", path, v)
	}

	switch path {
	case FieldContactName:
		r.Contact.Name = c.(string)
	case FieldContactEmail:
		r.Contact.Email = c.(string)
	case FieldContactPhone:
		r.Contact.Phone = c.(string)
	case FieldContactCompany:
		r.Contact.Company = c.(string)
	case FieldVehicleBrand:
		r.Vehicle.Brand = c.(string)
	case FieldVehicleModel:
		r.Vehicle.Model = c.(string)
	case FieldVehicleYear:
		r.Vehicle.Year = intPtr(c.(int))
	case FieldVehicleLength:
		r.Vehicle.Dimensions.LengthM = floatPtr(c.(float64))
	case FieldVehicleWidth:
		r.Vehicle.Dimensions.WidthM = floatPtr(c.(float64))
	case FieldVehicleHeight:
		r.Vehicle.Dimensions.HeightM = floatPtr(c.(float64))
	case FieldVehicleWeight:
		r.Vehicle.WeightKg = floatPtr(c.(float64))
	case FieldVehicleEngine:
		r.Vehicle.EngineCC = intPtr(c.(int))
	case FieldVehicleFuel:
		r.Vehicle.FuelType = c.(string)
	case FieldVehicleCategory:
		r.Vehicle.Type = c.(string)
	case FieldOrigin:
		r.Shipment.Origin = c.(string)
	case FieldDestination:
		r.Shipment.Destination = c.(string)
	case FieldDestOptions:
		r.Shipment.DestinationOptions = c.([]string)
	case FieldShippingType:
		r.Shipment.ShippingType = c.(string)
	case FieldCargo:
		r.Shipment.Cargo = c.(string)
	}
	return nil
}

func (r *Record) clear(path string) {
	switch path {
	case FieldContactName:
		r.Contact.Name = ""
	case FieldContactEmail:
		r.Contact.Email = ""
	case FieldContactPhone:
		r.Contact.Phone = ""
	case FieldContactCompany:
		r.Contact.Company = ""
	case FieldVehicleBrand:
		r.Vehicle.Brand = ""
	case FieldVehicleModel:
		r.Vehicle.Model = ""
	case FieldVehicleYear:
		r.Vehicle.Year = nil
	case FieldVehicleLength:
		r.Vehicle.Dimensions.LengthM = nil
	case FieldVehicleWidth:
		r.Vehicle.Dimensions.WidthM = nil
	case FieldVehicleHeight:
		r.Vehicle.Dimensions.HeightM = nil
	case FieldVehicleWeight:
		r.Vehicle.WeightKg = nil
	case FieldVehicleEngine:
		r.Vehicle.EngineCC = nil
	case FieldVehicleFuel:
		r.Vehicle.FuelType = ""
	case FieldVehicleCategory:
		r.Vehicle.Type = ""
	case FieldOrigin:
		r.Shipment.Origin = ""
	case FieldDestination:
		r.Shipment.Destination = ""
	case FieldDestOptions:
		r.Shipment.DestinationOptions = nil
	case FieldShippingType:
		r.Shipment.ShippingType = ""
	case FieldCargo:
		r.Shipment.Cargo = ""
	}
	delete(r.Provenance, path)
}

// FieldCount returns how many leaves carry a value.
func (r *Record) FieldCount() int {
	n := 0
	for _, p := range Leaves {
		if _, ok := r.Value(p); ok {
			n++
		}
	}
	return n
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case float64:
		return math.IsNaN(t) || t == 0
	case int:
		return t == 0
	}
	return false
}

// coerce converts a loosely typed value to the Go type of kind. It accepts
// the shapes JSON decoding and text parsing produce.
func coerce(kind leafKind, v any) (any, bool) {
	switch kind {
	case kindString:
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case int:
			return strconv.Itoa(t), true
		case json.Number:
			return t.String(), true
		}
	case kindFloat:
		switch t := v.(type) {
		case float64:
			return t, true
		case int:
			return float64(t), true
		case json.Number:
			f, err := t.Float64()
			return f, err == nil
		case string:
			return parseNumber(t)
		}
	case kindInt:
		switch t := v.(type) {
		case int:
			return t, true
		case float64:
			return int(math.Round(t)), true
		case json.Number:
			f, err := t.Float64()
			return int(math.Round(f)), err == nil
		case string:
			f, ok := parseNumber(t)
			return int(math.Round(f)), ok
		}
	case kindList:
		switch t := v.(type) {
		case []string:
			return t, true
		case []any:
			out := make([]string, 0, len(t))
			for _, e := range t {
				if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			return out, len(out) > 0
		case string:
			return []string{strings.TrimSpace(t)}, true
		}
	}
	return nil, false
}

// parseNumber reads the leading number of s, accepting a decimal comma.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || s[end] == ',') {
		end++
	}
	if end == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s[:end], ",", "."), 64)
	return f, err == nil
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func derefInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func derefFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
