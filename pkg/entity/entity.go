package entity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raterudder/indrav2h/pkg/coordinator"
	"github.com/raterudder/indrav2h/pkg/log"
	"github.com/raterudder/indrav2h/pkg/types"
)

// Units and state classes used by the sensors.
const (
	UnitKilowatt     = "kW"
	UnitKilowattHour = "kWh"

	StateClassMeasurement     = "measurement"
	StateClassTotalIncreasing = "total_increasing"
)

// ChargerDevice describes the physical charger all entities belong to.
type ChargerDevice struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// State is the current value of an entity as shown to users.
type State struct {
	EntityID   string         `json:"entityID"`
	UniqueID   string         `json:"uniqueID"`
	Name       string         `json:"name"`
	State      any            `json:"state"`
	Unit       string         `json:"unit,omitempty"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type base struct {
	coord    *coordinator.Coordinator
	key      string
	uniqueID string
	name     string
	icon     string
}

// Available reports whether the last poll succeeded and there is data.
func (b *base) Available() bool {
	return b.coord.LastUpdateSuccess() && b.coord.Data() != nil
}

// UniqueID returns the stable id of the entity.
func (b *base) UniqueID() string {
	return b.uniqueID
}

// Name returns the display name.
func (b *base) Name() string {
	return b.name
}

// Sensor is a read-only value derived from the latest snapshot.
type Sensor struct {
	base
	unit       string
	stateClass string
	value      func(*types.Snapshot) (any, bool)
}

// Value returns the sensor value, or false when there is no snapshot or the
// value is absent from it.
func (s *Sensor) Value() (any, bool) {
	snap := s.coord.Data()
	if snap == nil {
		return nil, false
	}
	return s.value(snap)
}

// EntityID returns the sensor entity id.
func (s *Sensor) EntityID() string {
	return "sensor." + s.uniqueID
}

// State returns the current sensor state.
func (s *Sensor) State() State {
	st := State{
		EntityID:   s.EntityID(),
		UniqueID:   s.uniqueID,
		Name:       s.name,
		Unit:       s.unit,
		Available:  s.Available(),
		Attributes: map[string]any{"icon": s.icon},
	}
	if s.stateClass != "" {
		st.Attributes["state_class"] = s.stateClass
	}
	if v, ok := s.Value(); ok {
		st.State = v
	}
	return st
}

func newBase(entryID string, coord *coordinator.Coordinator, key, name, icon string) base {
	return base{
		coord:    coord,
		key:      key,
		uniqueID: fmt.Sprintf("indra_v2h_%s_%s", entryID, key),
		name:     name,
		icon:     icon,
	}
}

// Sensors returns the power, energy, status and device info sensors.
func Sensors(entryID string, coord *coordinator.Coordinator) []*Sensor {
	sensors := []*Sensor{
		{
			base:       newBase(entryID, coord, "power", "Indra V2H Power", "mdi:lightning-bolt"),
			unit:       UnitKilowatt,
			stateClass: StateClassMeasurement,
			value: func(snap *types.Snapshot) (any, bool) {
				return Power(snap.Statistics)
			},
		},
		{
			base:       newBase(entryID, coord, "energy", "Indra V2H Energy", "mdi:counter"),
			unit:       UnitKilowattHour,
			stateClass: StateClassTotalIncreasing,
			value: func(snap *types.Snapshot) (any, bool) {
				return Energy(snap.Statistics)
			},
		},
		{
			base: newBase(entryID, coord, "status", "Indra V2H Status", "mdi:information"),
			value: func(snap *types.Snapshot) (any, bool) {
				return Status(snap.Statistics), true
			},
		},
	}
	for _, field := range []string{"model", "serial", "firmware"} {
		sensors = append(sensors, &Sensor{
			base: newBase(entryID, coord, field, "Indra V2H "+strings.ToUpper(field[:1])+field[1:], "mdi:information-outline"),
			value: func(snap *types.Snapshot) (any, bool) {
				return DeviceField(snap.Device, field)
			},
		})
	}
	return sensors
}

// ModeSelect shows and changes the charger mode.
type ModeSelect struct {
	base
}

// NewModeSelect returns the mode select for the entry.
func NewModeSelect(entryID string, coord *coordinator.Coordinator) *ModeSelect {
	return &ModeSelect{base: newBase(entryID, coord, "mode", "Indra V2H Mode", "mdi:power-settings")}
}

// EntityID returns the select entity id.
func (m *ModeSelect) EntityID() string {
	return "select." + m.uniqueID
}

// Options returns the selectable modes.
func (m *ModeSelect) Options() []string {
	return types.ModeOptions()
}

// CurrentOption returns the mode to display, or false without a snapshot.
func (m *ModeSelect) CurrentOption() (string, bool) {
	snap := m.coord.Data()
	if snap == nil {
		return "", false
	}
	return CurrentMode(snap.Statistics).String(), true
}

// SelectOption commands the charger into option and requests a refresh. An
// invalid option is logged and ignored. Remote failures are returned so the
// caller can show them.
func (m *ModeSelect) SelectOption(ctx context.Context, option string) error {
	mode, err := types.ParseMode(option)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid mode", slog.String("mode", option))
		return nil
	}

	if err := m.coord.Client().SetMode(ctx, mode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error setting mode", slog.String("mode", option), slog.Any("error", err))
		return err
	}

	// a failed refresh is recorded on the coordinator and shows as unavailable
	_ = m.coord.RequestRefresh(ctx)
	return nil
}

// State returns the current select state.
func (m *ModeSelect) State() State {
	st := State{
		EntityID:  m.EntityID(),
		UniqueID:  m.uniqueID,
		Name:      m.name,
		Available: m.Available(),
		Attributes: map[string]any{
			"icon":    m.icon,
			"options": m.Options(),
		},
	}
	if opt, ok := m.CurrentOption(); ok {
		st.State = opt
	}
	return st
}

// Entities is every entity of one config entry.
type Entities struct {
	Device  ChargerDevice
	Sensors []*Sensor
	Select  *ModeSelect
}

// New creates the entities of an entry.
func New(entryID string, coord *coordinator.Coordinator) *Entities {
	return &Entities{
		Device: ChargerDevice{
			Identifier:   "indra_v2h_" + entryID,
			Name:         "Indra V2H Charger",
			Manufacturer: "Indra",
			Model:        "V2H Charger",
		},
		Sensors: Sensors(entryID, coord),
		Select:  NewModeSelect(entryID, coord),
	}
}

// States returns the state of every entity, sensors first.
func (e *Entities) States() []State {
	states := make([]State, 0, len(e.Sensors)+1)
	for _, s := range e.Sensors {
		states = append(states, s.State())
	}
	return append(states, e.Select.State())
}
