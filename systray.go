package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"

	"fyne.io/systray"
	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/server"
)

// getLocalIPs returns a list of local IP addresses (excluding loopback)
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// SystrayApp manages the system tray interface for the bridge
type SystrayApp struct {
	agent *Agent
	log   logrus.FieldLogger

	mStatus  *systray.MenuItem
	mRadio   *systray.MenuItem
	mPhase   *systray.MenuItem
	mTagUID  *systray.MenuItem
	mTagType *systray.MenuItem
	mCancel  *systray.MenuItem
	mURL     *systray.MenuItem
	mCopyURL *systray.MenuItem
	mStart   *systray.MenuItem
	mStop    *systray.MenuItem

	mDeviceMenu     *systray.MenuItem
	mRefresh        *systray.MenuItem
	deviceMenuItems map[string]*systray.MenuItem
	deviceClicks    chan string
}

// NewSystrayApp creates a new systray application
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{
		agent:           agent,
		log:             agent.log.WithField("component", "systray"),
		deviceMenuItems: make(map[string]*systray.MenuItem),
		deviceClicks:    make(chan string),
	}
}

// Run starts the systray application. It blocks until Quit.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	s.agent.OnRestored(s.activityRestored)
	go s.handleMenuEvents()
	go s.handleStartAgent()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
}

// setupUI initializes all menu items
func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconIdle)
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem("Starting...", "Bridge status")
	s.mStatus.Disable()
	s.mRadio = systray.AddMenuItem("Radio: "+s.agent.cfg.Radio, "Radio in use")
	s.mRadio.Disable()
	s.mPhase = systray.AddMenuItem("Session: idle", "Session phase")
	s.mPhase.Disable()

	systray.AddSeparator()

	s.mTagUID = systray.AddMenuItem("Tag UID: None", "Connected tag UID")
	s.mTagUID.Disable()
	s.mTagType = systray.AddMenuItem("Tag Type: None", "Connected tag family")
	s.mTagType.Disable()
	s.mCancel = systray.AddMenuItem("Cancel Session", "End the active session")
	s.mCancel.Disable()

	systray.AddSeparator()

	s.mURL = systray.AddMenuItem("URL: Not running", "WebSocket address")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("Copy URL", "Copy the WebSocket address")

	if s.agent.cfg.Radio == nfc.RadioKindLibnfc {
		systray.AddSeparator()
		s.mDeviceMenu = systray.AddMenuItem("Device", "Select NFC reader")
		s.mRefresh = s.mDeviceMenu.AddSubMenuItem("Refresh Devices", "Refresh reader list")
		s.updateDeviceList()
	}

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Bridge", "Start serving")
	s.mStop = systray.AddMenuItem("Stop Bridge", "Stop serving")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")
	go func() {
		<-mQuit.ClickedCh
		systray.Quit()
	}()
}

// handleMenuEvents processes all menu click events
func (s *SystrayApp) handleMenuEvents() {
	var refresh <-chan struct{}
	if s.mRefresh != nil {
		refresh = s.mRefresh.ClickedCh
	}
	for {
		select {
		case <-refresh:
			s.updateDeviceList()
		case <-s.mStart.ClickedCh:
			s.handleStartAgent()
		case <-s.mStop.ClickedCh:
			s.handleStopAgent()
		case <-s.mCancel.ClickedCh:
			s.handleCancelSession()
		case <-s.mCopyURL.ClickedCh:
			url := s.webSocketURL()
			if url == "" {
				continue
			}
			if err := copyToClipboard(url); err != nil {
				s.log.WithError(err).Warn("Failed to copy to clipboard")
			} else {
				s.log.Info("Copied WebSocket URL to clipboard")
			}
		case device := <-s.deviceClicks:
			s.switchDevice(device)
		}
	}
}

func (s *SystrayApp) handleStartAgent() {
	if err := s.agent.Start(context.Background()); err != nil {
		s.log.WithError(err).Error("Failed to start bridge")
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
		s.mStop.Disable()
		return
	}
	s.updateStatus("Running")
	s.updateURL()
	s.mStart.Disable()
	s.mStop.Enable()
	go s.watchEvents(s.agent.Manager())
}

func (s *SystrayApp) handleStopAgent() {
	s.agent.Stop()
	s.updateStatus("Stopped")
	s.updateTag(nil)
	s.mURL.SetTitle("URL: Not running")
	s.mStop.Disable()
	s.mStart.Enable()
}

func (s *SystrayApp) handleCancelSession() {
	m := s.agent.Manager()
	if m == nil {
		return
	}
	if err := m.CancelSession(context.Background()); err != nil {
		s.log.WithError(err).Warn("Failed to cancel session")
	}
}

// watchEvents mirrors the manager's events into the menu until the manager
// closes.
func (s *SystrayApp) watchEvents(m *nfc.Manager) {
	if m == nil {
		return
	}
	sub := m.Subscribe(nfc.DropOldest(16))
	defer sub.Close()

	for ev := range sub.C {
		switch ev.Kind {
		case nfc.EventTagDiscovered:
			s.updateTag(ev.Tag)
		case nfc.EventSessionEnded:
			s.updateTag(nil)
		case nfc.EventError:
			if ev.Err != nil {
				s.mStatus.SetTitle(errorTitle(ev.Err))
			}
		case nfc.EventRadioStateChanged:
			s.mRadio.SetTitle(fmt.Sprintf("Radio: %s (%s)", s.agent.cfg.Radio, ev.RadioState))
		}
		s.updatePhase(m.Phase())
	}
}

// errorTitle is the status line for an Error event.
func errorTitle(err *nfc.NFCError) string {
	return "Error: " + err.Code.String()
}

func (s *SystrayApp) activityRestored(r nfc.Restoration) {
	switch {
	case r.Err != nil:
		s.mStatus.SetTitle("Resume failed: " + r.Err.Error())
	case r.Ready:
		s.mStatus.SetTitle("Resumed session")
	}
}

// switchDevice restarts the bridge on another libnfc reader
func (s *SystrayApp) switchDevice(device string) {
	if s.agent.cfg.Device == device {
		return
	}
	for name, item := range s.deviceMenuItems {
		if name == device {
			item.Check()
		} else {
			item.Uncheck()
		}
	}

	wasRunning := s.agent.Running()
	s.agent.Stop()
	s.agent.cfg.Device = device
	s.log.WithField("device", device).Info("Switched NFC reader")
	if wasRunning {
		s.handleStartAgent()
	}
}

// updateDeviceList refreshes the list of available devices
func (s *SystrayApp) updateDeviceList() {
	for _, item := range s.deviceMenuItems {
		item.Hide()
	}
	s.deviceMenuItems = make(map[string]*systray.MenuItem)

	devices, err := nfc.ListDevices()
	if err != nil {
		s.log.WithError(err).Warn("Error listing devices")
		return
	}
	current := s.agent.cfg.Device
	for i, device := range devices {
		checked := current == device || (current == "" && i == 0)
		item := s.mDeviceMenu.AddSubMenuItemCheckbox(device, "Select this device", checked)
		s.deviceMenuItems[device] = item
		go func(name string) {
			for range item.ClickedCh {
				s.deviceClicks <- name
			}
		}(device)
	}
}

// updateStatus updates the status menu item and icon
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)
	if status == "Failed to Start" {
		systray.SetIcon(iconError)
	} else {
		systray.SetIcon(iconIdle)
	}
}

func (s *SystrayApp) updatePhase(p nfc.Phase) {
	s.mPhase.SetTitle("Session: " + p.String())
	switch p {
	case nfc.PhasePolling:
		systray.SetIcon(iconPolling)
		s.mCancel.Enable()
	case nfc.PhaseTagConnected, nfc.PhaseCommandInFlight:
		systray.SetIcon(iconConnected)
		s.mCancel.Enable()
	default:
		systray.SetIcon(iconIdle)
		s.mCancel.Disable()
	}
}

func (s *SystrayApp) updateTag(tag *nfc.TagSummary) {
	if tag == nil {
		s.mTagUID.SetTitle("Tag UID: None")
		s.mTagType.SetTitle("Tag Type: None")
		return
	}
	s.mTagUID.SetTitle("Tag UID: " + tag.UID)
	kind := string(tag.Kind)
	if tag.Capabilities.Family != "" {
		kind = tag.Capabilities.Family + " (" + kind + ")"
	}
	s.mTagType.SetTitle("Tag Type: " + kind)
}

func (s *SystrayApp) updateURL() {
	if url := s.webSocketURL(); url != "" {
		s.mURL.SetTitle("URL: " + url)
	}
}

// webSocketURL is the address clients on the LAN connect to, or "" when
// stopped.
func (s *SystrayApp) webSocketURL() string {
	if !s.agent.Running() {
		return ""
	}
	_, port, err := net.SplitHostPort(s.agent.Addr())
	if err != nil {
		return ""
	}
	ip := "localhost"
	if ips := getLocalIPs(); len(ips) > 0 {
		ip = ips[0]
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(ip, port), server.PathWebSocket)
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
