package model

// Binding maps a local channel name to the identifier assigned by the remote service.
type Binding struct {
	Name string `json:"name"`
	ID   string `json:"_id"`
}

// RegistrationRecord is the server's answer to a successful registration.
// It is persisted verbatim; only the fields below are interpreted.
type RegistrationRecord struct {
	DeviceID  string    `json:"_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Sensors   []Binding `json:"sensors"`
	Actuators []Binding `json:"actuators"`
}

// SensorID returns the remote id bound to a local sensor name.
func (r RegistrationRecord) SensorID(name string) (string, bool) {
	return lookup(r.Sensors, name)
}

// ActuatorID returns the remote id bound to a local actuator name.
func (r RegistrationRecord) ActuatorID(name string) (string, bool) {
	return lookup(r.Actuators, name)
}

func lookup(bs []Binding, name string) (string, bool) {
	for _, b := range bs {
		if b.Name == name && b.ID != "" {
			return b.ID, true
		}
	}
	return "", false
}
