package replication

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// ErrMalformed reports a replication message that cannot be decoded.
var ErrMalformed = errors.New("malformed replication message")

// BodyResolver turns the body identifiers carried on the wire back into
// celestial bodies.
type BodyResolver interface {
	Body(id string) (model.CelestialBody, error)
}

// DatabaseName labels the two replicated databases in messages and metrics.
const (
	DatabaseOrbits       = "orbits"
	DatabaseTrajectories = "trajectories"
)

func number(v float64) *structpb.Value { return structpb.NewNumberValue(v) }

func str(v string) *structpb.Value { return structpb.NewStringValue(v) }

func object(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func list(values []*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func numbers(in []float64) *structpb.Value {
	out := make([]*structpb.Value, len(in))
	for i, v := range in {
		out[i] = number(v)
	}
	return list(out)
}

func ids(in []uuid.UUID) *structpb.Value {
	out := make([]*structpb.Value, len(in))
	for i, id := range in {
		out[i] = str(id.String())
	}
	return list(out)
}

func encodeOrbit(o core.Orbit) *structpb.Value {
	g := o.Geometry
	return object(map[string]*structpb.Value{
		"body":                 str(g.Body.ID),
		"start_altitude_km":    number(g.StartAltitude),
		"opposite_altitude_km": number(g.OppositeAltitude),
		"start_phase_deg":      number(g.StartPhase),
		"end_phase_deg":        number(g.EndPhase),
		"insertion_min":        number(o.InsertionTime.Minutes()),
	})
}

func encodeTrajectory(t *core.Trajectory) *structpb.Value {
	transfers := make([]*structpb.Value, len(t.Transfers))
	for i, leg := range t.Transfers {
		transfers[i] = encodeOrbit(leg)
	}
	maneuvers := make([]*structpb.Value, len(t.Maneuvers))
	for i, m := range t.Maneuvers {
		maneuvers[i] = object(map[string]*structpb.Value{
			"delta_v":        number(m.DeltaV),
			"phase_deg":      number(m.Phase),
			"time_min":       number(m.Time.Minutes()),
			"duration_min":   number(m.Duration.Minutes()),
			"thrust_factors": numbers(m.ThrustFactors),
			"propellant_t":   numbers(m.PropellantUsed),
		})
	}
	return object(map[string]*structpb.Value{
		"fleet":            ids(t.Spacecraft),
		"initial":          encodeOrbit(t.InitialOrbit),
		"transfers":        list(transfers),
		"maneuvers":        list(maneuvers),
		"total_travel_min": number(t.TotalTravelDuration.Minutes()),
		"total_delta_v":    number(t.TotalDeltaV),
	})
}

func encodeDeltas[T any](deltas []core.Delta[T], value func(T) *structpb.Value) *structpb.Value {
	out := make([]*structpb.Value, len(deltas))
	for i, d := range deltas {
		fields := map[string]*structpb.Value{
			"version":    number(float64(d.Version)),
			"op":         str(d.Op.String()),
			"spacecraft": ids(d.Spacecraft),
		}
		if d.Op == core.DeltaAdd {
			fields["value"] = value(d.Value)
		}
		out[i] = object(fields)
	}
	return list(out)
}

func encodeEntries[T any](entries []*core.Entry[T], value func(T) *structpb.Value) *structpb.Value {
	out := make([]*structpb.Value, len(entries))
	for i, e := range entries {
		out[i] = object(map[string]*structpb.Value{
			"spacecraft": ids(e.Spacecraft),
			"value":      value(e.Value),
		})
	}
	return list(out)
}

// fields wraps a decoded struct with typed, error-reporting accessors.
type fields struct {
	path string
	m    map[string]*structpb.Value
}

func fieldsOf(path string, v *structpb.Value) (fields, error) {
	s := v.GetStructValue()
	if s == nil {
		return fields{}, fmt.Errorf("%w: %s is not an object", ErrMalformed, path)
	}
	return fields{path: path, m: s.GetFields()}, nil
}

func (f fields) number(key string) (float64, error) {
	v, ok := f.m[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is missing", ErrMalformed, f.path, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, fmt.Errorf("%w: %s.%s is not a finite number", ErrMalformed, f.path, key)
	}
	return n.NumberValue, nil
}

func (f fields) version(key string) (uint64, error) {
	n, err := f.number(key)
	if err != nil {
		return 0, err
	}
	if n < 0 || n != math.Trunc(n) || n > 1<<53 {
		return 0, fmt.Errorf("%w: %s.%s = %v is not a version", ErrMalformed, f.path, key, n)
	}
	return uint64(n), nil
}

func (f fields) string(key string) (string, error) {
	v, ok := f.m[key]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s is missing", ErrMalformed, f.path, key)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s is not a string", ErrMalformed, f.path, key)
	}
	return s.StringValue, nil
}

func (f fields) bool(key string) bool {
	return f.m[key].GetBoolValue()
}

func (f fields) list(key string) ([]*structpb.Value, error) {
	v, ok := f.m[key]
	if !ok {
		return nil, nil
	}
	l := v.GetListValue()
	if l == nil {
		return nil, fmt.Errorf("%w: %s.%s is not a list", ErrMalformed, f.path, key)
	}
	return l.GetValues(), nil
}

func (f fields) object(key string) (fields, error) {
	v, ok := f.m[key]
	if !ok {
		return fields{}, fmt.Errorf("%w: %s.%s is missing", ErrMalformed, f.path, key)
	}
	return fieldsOf(f.path+"."+key, v)
}

func (f fields) numbers(key string) ([]float64, error) {
	values, err := f.list(key)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s[%d] is not a number", ErrMalformed, f.path, key, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func (f fields) ids(key string) ([]uuid.UUID, error) {
	values, err := f.list(key)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, len(values))
	for i, v := range values {
		id, err := uuid.Parse(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s[%d]: %v", ErrMalformed, f.path, key, i, err)
		}
		out[i] = id
	}
	return out, nil
}

func decodeOrbit(bodies BodyResolver, f fields) (core.Orbit, error) {
	bodyID, err := f.string("body")
	if err != nil {
		return core.Orbit{}, err
	}
	body, err := bodies.Body(bodyID)
	if err != nil {
		return core.Orbit{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.path, err)
	}
	var values [5]float64
	for i, key := range []string{"start_altitude_km", "opposite_altitude_km", "start_phase_deg", "end_phase_deg", "insertion_min"} {
		if values[i], err = f.number(key); err != nil {
			return core.Orbit{}, err
		}
	}
	orbit := core.NewOrbit(core.OrbitGeometry{
		Body:             body,
		StartAltitude:    values[0],
		OppositeAltitude: values[1],
		StartPhase:       values[2],
		EndPhase:         values[3],
	}, timectrl.Minutes(values[4]))
	if err := orbit.Validate(); err != nil {
		return core.Orbit{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.path, err)
	}
	return orbit, nil
}

func decodeTrajectory(bodies BodyResolver, f fields) (*core.Trajectory, error) {
	fleet, err := f.ids("fleet")
	if err != nil {
		return nil, err
	}
	initialFields, err := f.object("initial")
	if err != nil {
		return nil, err
	}
	initial, err := decodeOrbit(bodies, initialFields)
	if err != nil {
		return nil, err
	}
	travel, err := f.number("total_travel_min")
	if err != nil {
		return nil, err
	}
	deltaV, err := f.number("total_delta_v")
	if err != nil {
		return nil, err
	}
	traj := &core.Trajectory{
		InitialOrbit:        initial,
		Spacecraft:          fleet,
		TotalTravelDuration: timectrl.Minutes(travel),
		TotalDeltaV:         deltaV,
	}

	legs, err := f.list("transfers")
	if err != nil {
		return nil, err
	}
	for i, v := range legs {
		lf, err := fieldsOf(fmt.Sprintf("%s.transfers[%d]", f.path, i), v)
		if err != nil {
			return nil, err
		}
		leg, err := decodeOrbit(bodies, lf)
		if err != nil {
			return nil, err
		}
		traj.Transfers = append(traj.Transfers, leg)
	}

	burns, err := f.list("maneuvers")
	if err != nil {
		return nil, err
	}
	for i, v := range burns {
		mf, err := fieldsOf(fmt.Sprintf("%s.maneuvers[%d]", f.path, i), v)
		if err != nil {
			return nil, err
		}
		m, err := decodeManeuver(mf)
		if err != nil {
			return nil, err
		}
		traj.Maneuvers = append(traj.Maneuvers, m)
	}

	if err := traj.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.path, err)
	}
	return traj, nil
}

func decodeManeuver(f fields) (core.Maneuver, error) {
	var values [4]float64
	var err error
	for i, key := range []string{"delta_v", "phase_deg", "time_min", "duration_min"} {
		if values[i], err = f.number(key); err != nil {
			return core.Maneuver{}, err
		}
	}
	thrust, err := f.numbers("thrust_factors")
	if err != nil {
		return core.Maneuver{}, err
	}
	propellant, err := f.numbers("propellant_t")
	if err != nil {
		return core.Maneuver{}, err
	}
	m, err := core.NewManeuver(values[0], values[1], timectrl.Minutes(values[2]), timectrl.Minutes(values[3]), thrust, propellant)
	if err != nil {
		return core.Maneuver{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.path, err)
	}
	return m, nil
}

func decodeDeltas[T any](path string, values []*structpb.Value, value func(fields) (T, error)) ([]core.Delta[T], error) {
	out := make([]core.Delta[T], 0, len(values))
	for i, v := range values {
		f, err := fieldsOf(fmt.Sprintf("%s[%d]", path, i), v)
		if err != nil {
			return nil, err
		}
		version, err := f.version("version")
		if err != nil {
			return nil, err
		}
		op, err := f.string("op")
		if err != nil {
			return nil, err
		}
		members, err := f.ids("spacecraft")
		if err != nil {
			return nil, err
		}
		d := core.Delta[T]{Version: version, Spacecraft: members}
		switch op {
		case core.DeltaAdd.String():
			d.Op = core.DeltaAdd
			vf, err := f.object("value")
			if err != nil {
				return nil, err
			}
			if d.Value, err = value(vf); err != nil {
				return nil, err
			}
		case core.DeltaRemove.String():
			d.Op = core.DeltaRemove
		default:
			return nil, fmt.Errorf("%w: %s.op %q", ErrMalformed, f.path, op)
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeEntries[T any](path string, values []*structpb.Value, value func(fields) (T, error)) ([]core.Entry[T], error) {
	out := make([]core.Entry[T], 0, len(values))
	for i, v := range values {
		f, err := fieldsOf(fmt.Sprintf("%s[%d]", path, i), v)
		if err != nil {
			return nil, err
		}
		members, err := f.ids("spacecraft")
		if err != nil {
			return nil, err
		}
		vf, err := f.object("value")
		if err != nil {
			return nil, err
		}
		val, err := value(vf)
		if err != nil {
			return nil, err
		}
		out = append(out, core.Entry[T]{Spacecraft: members, Value: val})
	}
	return out, nil
}
