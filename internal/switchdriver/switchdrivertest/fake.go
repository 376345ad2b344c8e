// Package switchdrivertest provides a hand-written fake switchdriver.Driver
// for tests, in the teacher's no-mocking-framework idiom.
package switchdrivertest

import (
	"context"
	"sync"

	"github.com/flowdial/dialer/internal/switchdriver"
)

// Driver is an in-memory fake that records every command it receives and
// lets tests inject events as if the switch had emitted them.
type Driver struct {
	mu            sync.Mutex
	events        chan switchdriver.Event
	Originated    []switchdriver.OriginateParams
	Bridged       [][2]string
	HungUp        []string
	FailOriginate bool
	Disconnected  bool
}

// New creates a fake driver with a buffered event channel.
func New() *Driver {
	return &Driver{events: make(chan switchdriver.Event, 256)}
}

func (d *Driver) Connect(ctx context.Context) error { return nil }
func (d *Driver) Close() error                      { close(d.events); return nil }
func (d *Driver) Events() <-chan switchdriver.Event { return d.events }
func (d *Driver) Connected() bool                   { return !d.Disconnected }

// Emit injects an event as if the switch produced it.
func (d *Driver) Emit(evt switchdriver.Event) { d.events <- evt }

func (d *Driver) Originate(ctx context.Context, params switchdriver.OriginateParams) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOriginate {
		return "", errOriginateFailed
	}
	d.Originated = append(d.Originated, params)
	return params.Vars.CallID, nil
}

func (d *Driver) Bridge(ctx context.Context, a, b string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Bridged = append(d.Bridged, [2]string{a, b})
	return nil
}

func (d *Driver) Hangup(ctx context.Context, uuid, cause string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.HungUp = append(d.HungUp, uuid)
	return nil
}

func (d *Driver) Transfer(ctx context.Context, uuid, dest, dialplan, dialplanContext string) error {
	return nil
}
func (d *Driver) Hold(ctx context.Context, uuid string) error                 { return nil }
func (d *Driver) Unhold(ctx context.Context, uuid string) error               { return nil }
func (d *Driver) Playback(ctx context.Context, uuid, uri string) error        { return nil }
func (d *Driver) StartRecording(ctx context.Context, uuid, name string) error { return nil }
func (d *Driver) StopRecording(ctx context.Context, uuid, name string) error  { return nil }
func (d *Driver) SendDTMF(ctx context.Context, uuid, digits string) error     { return nil }
func (d *Driver) Eavesdrop(ctx context.Context, uuid, target string, mode switchdriver.EavesdropMode) error {
	return nil
}
func (d *Driver) SetVariable(ctx context.Context, uuid, key, value string) error { return nil }
func (d *Driver) GetVariable(ctx context.Context, uuid, key string) (string, error) {
	return "", nil
}
func (d *Driver) Park(ctx context.Context, uuid string) error                     { return nil }
func (d *Driver) Answer(ctx context.Context, uuid string) error                   { return nil }
func (d *Driver) PreAnswer(ctx context.Context, uuid string) error                { return nil }
func (d *Driver) Broadcast(ctx context.Context, uuids []string, uri string) error { return nil }
func (d *Driver) Deflect(ctx context.Context, uuid, dest string) error            { return nil }

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errOriginateFailed = fakeErr("fake switch driver: forced originate failure")

var _ switchdriver.Driver = (*Driver)(nil)
