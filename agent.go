package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/config"
	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/nfc/phoneradio"
	"github.com/nedpals/davi-nfc-bridge/server"
)

// Agent wires the configured radio, the session manager and the websocket
// server together.
type Agent struct {
	cfg *config.Config
	log *logrus.Logger

	mu      sync.Mutex
	radio   nfc.Radio
	phones  *phoneradio.Radio
	manager *nfc.Manager
	server  *server.Server
	addr    net.Addr
	cancel  context.CancelFunc
	stopped chan struct{}
	err     error // set before stopped is closed

	onRestored func(nfc.Restoration)
}

var _ nfc.ActivityContinuer = (*Agent)(nil)

func NewAgent(cfg *config.Config, log *logrus.Logger) *Agent {
	return &Agent{cfg: cfg, log: log}
}

// Manager returns the running session manager, or nil.
func (a *Agent) Manager() *nfc.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager
}

// Phones lists the registered phones when the phone radio is in use.
func (a *Agent) Phones() []*phoneradio.Device {
	a.mu.Lock()
	phones := a.phones
	a.mu.Unlock()
	if phones == nil {
		return nil
	}
	return phones.Devices()
}

// OnRestored registers fn to observe continued activities.
func (a *Agent) OnRestored(fn func(nfc.Restoration)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRestored = fn
}

// Running reports whether Start succeeded and Stop was not called since.
func (a *Agent) Running() bool {
	return a.Manager() != nil
}

// Addr is the bound listener address while running, and the configured
// one otherwise.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.addr != nil {
		return a.addr.String()
	}
	return fmt.Sprintf(":%d", a.cfg.Port)
}

func (a *Agent) newRadio() (nfc.Radio, *phoneradio.Radio) {
	switch a.cfg.Radio {
	case nfc.RadioKindPhone:
		phones := phoneradio.New(phoneradio.Options{Logger: a.log})
		return phones, phones
	case nfc.RadioKindNone:
		return nfc.NoRadio{}, nil
	}
	return nfc.NewLibnfcRadio(nfc.LibnfcOptions{Device: a.cfg.Device, Logger: a.log}), nil
}

// Start opens the radio and begins serving. It returns once the listener is
// bound; serving errors are reported by Wait.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manager != nil {
		return errors.New("agent is already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Port, err)
	}

	radio, phones := a.newRadio()
	manager := nfc.NewManager(nfc.Options{
		Radio:          radio,
		Logger:         a.log.WithField("component", "manager"),
		CommandTimeout: a.cfg.CommandTimeout,
		Host:           a,
		OnTransition: func(t nfc.Transition) {
			a.log.WithFields(logrus.Fields{"from": t.From, "to": t.To, "trigger": t.Trigger}).Debug("phase")
		},
	})

	cfg := server.Config{
		Bridge:      manager,
		Port:        a.cfg.Port,
		APISecret:   a.cfg.APISecret,
		MDNS:        a.cfg.MDNS,
		EventPolicy: a.cfg.Policy(),
		Logger:      a.log,
	}
	if phones != nil {
		phones.OnActivity(func(act nfc.Activity) {
			if err := manager.ContinueActivity(context.Background(), act, nil); err != nil {
				a.log.WithError(err).Warn("failed to continue phone activity")
			}
		})
		cfg.Handlers = append(cfg.Handlers, phoneradio.NewHandler(phones, buildinfo.FullVersion()))
	}
	srv := server.New(cfg)

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		err := srv.Serve(ctx, ln)
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(stopped)
	}()

	a.radio, a.phones, a.manager, a.server, a.addr = radio, phones, manager, srv, ln.Addr()
	a.cancel, a.stopped, a.err = cancel, stopped, nil
	a.log.WithFields(logrus.Fields{"radio": a.cfg.Radio, "addr": ln.Addr()}).Info("agent started")
	return nil
}

// Wait blocks until the server of the last Start stops and returns its
// error.
func (a *Agent) Wait() error {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped == nil {
		return nil
	}
	<-stopped
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Stop ends the active session, stops serving and closes the radio.
func (a *Agent) Stop() {
	a.mu.Lock()
	manager, srv, radio, cancel, stopped := a.manager, a.server, a.radio, a.cancel, a.stopped
	a.manager, a.server, a.radio, a.phones, a.cancel, a.addr = nil, nil, nil, nil, nil, nil
	a.mu.Unlock()

	if manager == nil {
		a.log.Debug("agent is not running")
		return
	}
	a.log.Info("stopping agent")

	srv.Stop()
	cancel()
	<-stopped

	if err := manager.Close(); err != nil {
		a.log.WithError(err).Warn("closing manager")
	}
	if c, ok := radio.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.WithError(err).Warn("closing radio")
		}
	}
	a.log.Info("agent stopped")
}

// ContinuationSupported implements nfc.ActivityContinuer. Only phones can
// hand the bridge a tag that launched an app.
func (a *Agent) ContinuationSupported() bool {
	return a.cfg.Radio == nfc.RadioKindPhone
}

// ActivityRestored implements nfc.ActivityContinuer.
func (a *Agent) ActivityRestored(r nfc.Restoration) {
	entry := a.log.WithFields(logrus.Fields{"session": r.Session, "ready": r.Ready, "reason": r.Reason})
	if r.Err != nil {
		entry.WithError(r.Err).Warn("activity restore failed")
	} else {
		entry.Info("activity restored")
	}
	a.mu.Lock()
	fn := a.onRestored
	a.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}
