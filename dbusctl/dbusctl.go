// Package dbusctl exposes manual color controls on the session bus.
//
//	busctl --user set-property io.github.pgaskin.Gammad / io.github.pgaskin.Gammad Temperature q 4000
//	busctl --user call io.github.pgaskin.Gammad / io.github.pgaskin.Gammad UpdateBrightness d -0.1
package dbusctl

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/pgaskin/gammad/colorramp"
	"github.com/pgaskin/gammad/display"
	"github.com/pgaskin/gammad/schedule"
)

const (
	Name      = "io.github.pgaskin.Gammad"
	Interface = "io.github.pgaskin.Gammad"
	Path      = dbus.ObjectPath("/")
)

// ErrNameTaken is returned if another instance owns the bus name.
var ErrNameTaken = errors.New("bus name already taken")

// Engine is the subset of [display.Engine] used by the server.
type Engine interface {
	Color() colorramp.Color
	Outputs() []display.OutputInfo
	SetTemperature(temperature int)
	SetBrightness(brightness float64)
	UpdateTemperature(delta int) bool
	UpdateBrightness(delta float64) bool
}

// Server serves the control interface.
type Server struct {
	conn   *dbus.Conn
	props  *prop.Properties
	ctl    *controller
	logger *slog.Logger
}

// Export claims the bus name on conn and exports the control object. Manual
// changes last until the next scheduled mode switch.
func Export(conn *dbus.Conn, engine Engine, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		conn:   conn,
		ctl:    &controller{engine: engine, logger: logger},
		logger: logger,
	}

	if err := conn.Export(s.ctl, Path, Interface); err != nil {
		return nil, fmt.Errorf("export methods: %w", err)
	}

	c := engine.Color()
	props, err := prop.Export(conn, Path, prop.Map{
		Interface: {
			"Temperature": {
				Value:    uint16(c.Temperature),
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.ctl.setTemperature,
			},
			"Brightness": {
				Value:    c.Brightness,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: s.ctl.setBrightness,
			},
			"Mode": {
				Value:    schedule.Day.String(),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"Outputs": {
				Value:    outputNames(engine.Outputs()),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("export properties: %w", err)
	}
	s.props = props
	s.ctl.refresh = s.Refresh

	node := &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       Interface,
				Methods:    introspect.Methods(s.ctl),
				Properties: props.Introspection(Interface),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("request name %s: %w", Name, ErrNameTaken)
	}
	return s, nil
}

// SetMode updates the Mode property.
func (s *Server) SetMode(mode schedule.Mode) {
	s.props.SetMust(Interface, "Mode", mode.String())
}

// Refresh updates the properties from the engine.
func (s *Server) Refresh() {
	c := s.ctl.engine.Color()
	s.set("Temperature", uint16(c.Temperature))
	s.set("Brightness", c.Brightness)
	s.set("Outputs", outputNames(s.ctl.engine.Outputs()))
}

func (s *Server) set(name string, v any) {
	if cur, err := s.props.Get(Interface, name); err == nil && reflect.DeepEqual(cur.Value(), v) {
		return // don't emit a signal for nothing
	}
	s.props.SetMust(Interface, name, v)
}

// Close releases the bus name.
func (s *Server) Close() error {
	_, err := s.conn.ReleaseName(Name)
	return err
}

func outputNames(outputs []display.OutputInfo) []string {
	names := make([]string, len(outputs))
	for i, o := range outputs {
		if o.Name != "" {
			names[i] = o.Name
		} else {
			names[i] = fmt.Sprintf("wl_output.%d", o.ID)
		}
	}
	return names
}

// controller implements the exported methods. Only exported methods which
// return a *dbus.Error are callable over the bus.
type controller struct {
	mu      sync.Mutex // serializes manual changes
	engine  Engine
	logger  *slog.Logger
	refresh func()
}

// UpdateTemperature adds n kelvin to the temperature of all outputs.
func (c *controller) UpdateTemperature(n int16) *dbus.Error {
	c.mu.Lock()
	changed := c.engine.UpdateTemperature(int(n))
	c.mu.Unlock()

	c.logger.Info("dbus: update temperature", "delta", n, "changed", changed)
	if changed && c.refresh != nil {
		c.refresh()
	}
	return nil
}

// UpdateBrightness adds d to the brightness of all outputs.
func (c *controller) UpdateBrightness(d float64) *dbus.Error {
	c.mu.Lock()
	changed := c.engine.UpdateBrightness(d)
	c.mu.Unlock()

	c.logger.Info("dbus: update brightness", "delta", d, "changed", changed)
	if changed && c.refresh != nil {
		c.refresh()
	}
	return nil
}

func (c *controller) setTemperature(ch *prop.Change) *dbus.Error {
	v, ok := ch.Value.(uint16)
	if !ok || int(v) < colorramp.MinTemperature || int(v) > colorramp.MaxTemperature {
		return prop.ErrInvalidArg
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("dbus: set temperature", "temperature", v)
	c.engine.SetTemperature(int(v))
	return nil
}

func (c *controller) setBrightness(ch *prop.Change) *dbus.Error {
	v, ok := ch.Value.(float64)
	if !ok || !(v >= 0 && v <= 1) {
		return prop.ErrInvalidArg
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("dbus: set brightness", "brightness", v)
	c.engine.SetBrightness(v)
	return nil
}
