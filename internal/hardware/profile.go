package hardware

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mykyno/hydroponik/internal/state"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/modbus-profile-v1.json
var profileSchemaJSON string

type RegisterKind string

const (
	RegisterInput   RegisterKind = "input"
	RegisterHolding RegisterKind = "holding"
)

// Register locates one value on the device. The engineering value is
// raw*Scale; Signed interprets the raw word as int16.
type Register struct {
	Address uint16       `yaml:"address"`
	Kind    RegisterKind `yaml:"type"`
	Scale   float32      `yaml:"scale"`
	Signed  bool         `yaml:"signed"`
}

func (r Register) value(raw uint16) float32 {
	scale := r.Scale
	if scale == 0 {
		scale = 1
	}
	if r.Signed {
		return float32(int16(raw)) * scale
	}
	return float32(raw) * scale
}

type Signals struct {
	PH          Register `yaml:"ph"`
	EC          Register `yaml:"ec"`
	Temperature Register `yaml:"temperature"`
	Distance    Register `yaml:"distance"`
}

// Profile maps the controller's capabilities onto Modbus registers.
// Channel duty registers take percent*DutyScale.
type Profile struct {
	ID          string              `yaml:"id"`
	Description string              `yaml:"description"`
	UnitID      uint8               `yaml:"unit_id"`
	Signals     Signals             `yaml:"signals"`
	SensorPower *Register           `yaml:"sensor_power"`
	Channels    map[string]Register `yaml:"channels"`
	DutyScale   float32             `yaml:"duty_scale"`

	channels [state.NumChannels]Register
}

// ChannelRegister returns the duty register of a channel.
func (p *Profile) ChannelRegister(ch state.ChannelID) Register {
	return p.channels[ch]
}

// DefaultProfile is a flat I/O module layout: probe counts and sensor
// values on input registers 0-3, sensor power on holding 10, duties on
// holding 20-23.
func DefaultProfile() *Profile {
	p := &Profile{
		ID:     "default",
		UnitID: 1,
		Signals: Signals{
			PH:          Register{Address: 0, Kind: RegisterInput},
			EC:          Register{Address: 1, Kind: RegisterInput},
			Temperature: Register{Address: 2, Kind: RegisterInput, Scale: 0.1, Signed: true},
			Distance:    Register{Address: 3, Kind: RegisterInput, Scale: 0.1, Signed: true},
		},
		SensorPower: &Register{Address: 10, Kind: RegisterHolding},
		Channels: map[string]Register{
			state.PHUp.String():      {Address: 20, Kind: RegisterHolding},
			state.PHDown.String():    {Address: 21, Kind: RegisterHolding},
			state.NutrientA.String(): {Address: 22, Kind: RegisterHolding},
			state.NutrientB.String(): {Address: 23, Kind: RegisterHolding},
		},
		DutyScale: 10,
	}
	p.resolve()
	return p
}

// ProfileLoader validates register profiles against the embedded schema.
type ProfileLoader struct {
	schema *jsonschema.Schema
}

func NewProfileLoader() (*ProfileLoader, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("modbus-profile-v1.json",
		strings.NewReader(profileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("modbus-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &ProfileLoader{schema: schema}, nil
}

func (l *ProfileLoader) Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	profile, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return profile, nil
}

// Parse decodes and validates a YAML profile.
func (l *ProfileLoader) Parse(data []byte) (*Profile, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	// The schema validator works on JSON-decoded values.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert profile: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return nil, fmt.Errorf("failed to convert profile: %w", err)
	}
	if err := l.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if err := p.resolve(); err != nil {
		return nil, err
	}
	return &p, nil
}

// resolve fills defaults and indexes the channel registers.
func (p *Profile) resolve() error {
	if p.DutyScale == 0 {
		p.DutyScale = 1
	}
	for _, r := range []*Register{&p.Signals.PH, &p.Signals.EC, &p.Signals.Temperature, &p.Signals.Distance} {
		if r.Kind == "" {
			r.Kind = RegisterInput
		}
	}

	var seen [state.NumChannels]bool
	for name, reg := range p.Channels {
		id, err := state.ParseChannel(name)
		if err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("channel %s mapped twice", id)
		}
		if reg.Kind == RegisterInput {
			return fmt.Errorf("channel %s must map to a holding register", id)
		}
		reg.Kind = RegisterHolding
		seen[id] = true
		p.channels[id] = reg
	}
	for _, id := range state.Channels() {
		if !seen[id] {
			return fmt.Errorf("channel %s not mapped", id)
		}
	}
	return nil
}
