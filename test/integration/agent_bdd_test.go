//go:build integration

package integration

import (
	"context"
	"net"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/agent"
	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/connection"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
	"github.com/eliteGoblin/focusd/kiosk/internal/infra"
	"github.com/eliteGoblin/focusd/kiosk/internal/policy"
	"github.com/eliteGoblin/focusd/kiosk/internal/usecase"
	"github.com/eliteGoblin/focusd/kiosk/test/fixtures"
)

// noWindows keeps the enforcement loop away from the desktop the tests
// run on.
type noWindows struct{}

func (noWindows) Enumerate() ([]domain.WindowHandle, error)       { return nil, nil }
func (noWindows) IsVisible(domain.WindowHandle) bool              { return false }
func (noWindows) Exists(domain.WindowHandle) bool                 { return false }
func (noWindows) OwnerPID(domain.WindowHandle) (int, error)       { return 0, nil }
func (noWindows) Hide(domain.WindowHandle) error                  { return nil }
func (noWindows) Show(domain.WindowHandle, domain.ShowMode) error { return nil }
func (noWindows) Close(domain.WindowHandle) error                 { return nil }

const timeout = 5 * time.Second

var _ = Describe("Kiosk agent", func() {
	var (
		tmpDir     string
		controller *fixtures.FakeController
		presenter  *infra.LogPresenter
		recorder   *infra.FileStatusRegistry
		cancel     context.CancelFunc
		runErr     chan error
	)

	startAgent := func(profile policy.Profile) {
		cfg := profile.ConnectionConfig(controller.Host())
		cfg.Port = controller.Port()
		cfg.ReconnectDelay = 100 * time.Millisecond
		cfg.DebounceDelay = 100 * time.Millisecond
		if cfg.HeartbeatInterval > 0 {
			cfg.HeartbeatInterval = 200 * time.Millisecond
		}

		logger := zap.NewNop()
		clk := clock.Real()
		manager := connection.NewManager(cfg, &net.Dialer{}, profile.Handshaker(), clk, logger)

		apps := usecase.NewActiveApps()
		pm := infra.NewProcessManager()
		wm := noWindows{}
		presenter = infra.NewLogPresenter(logger)
		recorder = infra.NewFileStatusRegistry(tmpDir)

		a := agent.New(agent.Config{
			Profile:                  profile.ID(),
			Controller:               cfg.Address(),
			AgentID:                  "agent-under-test",
			EnforcementInterval:      policy.DefaultEnforcementInterval,
			ReconnectAfterSessionEnd: profile.ReconnectAfterSessionEnd(),
		}, agent.Deps{
			Connector: manager,
			Enforcer:  usecase.NewEnforcer(wm, pm, policy.BlockList(true), apps, presenter, logger),
			Launcher:  usecase.NewLauncher(infra.NewProcessLauncher(), wm, pm, apps, presenter, clk, logger),
			Apps:      apps,
			Presenter: presenter,
			Recorder:  recorder,
			Clock:     clk,
		}, logger)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runErr = make(chan error, 1)
		go func() { runErr <- a.Run(ctx) }()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "kioskd-integration-*")
		Expect(err).NotTo(HaveOccurred())

		controller, err = fixtures.NewFakeController()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(runErr, timeout).Should(Receive())
		}
		controller.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("plain controller", func() {
		BeforeEach(func() {
			startAgent(policy.NewPlainProfile())
		})

		It("should announce its address first and report it is waiting", func() {
			rec, err := controller.Next(timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Fields).To(Equal(map[string]any{"client_ip": "127.0.0.1"}))

			status, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Fields["state"]).To(Equal("inactive"))
			Expect(status.Fields["client_id"]).To(Equal("agent-under-test"))

			Eventually(presenter.Status, timeout).Should(Equal("Status: Connected (127.0.0.1)"))
			Expect(presenter.Locked()).To(BeTrue())
		})

		It("should send heartbeats while connected", func() {
			_, err := controller.NextOfType("heartbeat", timeout)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should run a session to expiry", func() {
			_, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(controller.Send(`{"type":"session_start","duration":2,"apps":[{"name":"Notepad","path":"notepad.exe"}],"timestamp":"2024-01-15T10:30:00.000000"}`)).To(Succeed())

			active, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Fields["state"]).To(Equal("active"))
			Expect(active.Fields["remaining_time"]).To(BeNumerically("==", 2))
			Eventually(presenter.Locked, timeout).Should(BeFalse())

			ended, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended.Fields["state"]).To(Equal("ended"))
			Eventually(presenter.Locked, timeout).Should(BeTrue())
		})

		It("should skip malformed records and keep going", func() {
			_, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(controller.Send(`{this is not json`)).To(Succeed())
			Expect(controller.Send(`{"type":"session_start","duration":"soon"}`)).To(Succeed())
			Expect(controller.Send(`{"type":"session_start","duration":600,"timestamp":"2024-01-15T10:30:00.000000"}`)).To(Succeed())

			active, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Fields["state"]).To(Equal("active"))
			Expect(controller.Connections()).To(Equal(1))
		})

		It("should pause and resume", func() {
			_, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(controller.Send(`{"type":"session_start","duration":600}`)).To(Succeed())
			_, err = controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(controller.Send(`{"type":"session_pause"}`)).To(Succeed())
			paused, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(paused.Fields["state"]).To(Equal("paused"))
			Eventually(presenter.Locked, timeout).Should(BeTrue())

			Expect(controller.Send(`{"type":"session_resume"}`)).To(Succeed())
			resumed, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(resumed.Fields["state"]).To(Equal("active"))
		})

		It("should reconnect after the controller drops it", func() {
			_, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())

			controller.DropAll()

			Eventually(controller.Connections, timeout).Should(Equal(2))
			rec, err := controller.Next(timeout)
			Expect(err).NotTo(HaveOccurred())
			for rec.Conn != 2 {
				rec, err = controller.Next(timeout)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(rec.Fields).To(HaveKey("client_ip"))
		})

		It("should publish its status file while running", func() {
			Eventually(func() domain.ConnectionStatus {
				st, err := recorder.Load()
				if err != nil || st == nil {
					return ""
				}
				return st.Connection
			}, timeout).Should(Equal(domain.StatusConnected))
		})

		It("should stop when removed", func() {
			_, err := controller.NextOfType("client_status", timeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(controller.Send(`{"type":"remove_client"}`)).To(Succeed())

			var err2 error
			Eventually(runErr, timeout).Should(Receive(&err2))
			Expect(err2).To(MatchError(agent.ErrRemoved))
			cancel()
			cancel = nil

			st, err := recorder.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(BeNil(), "status file removed on exit")
		})
	})

	Describe("login controller", func() {
		BeforeEach(func() {
			startAgent(policy.NewLoginProfile(policy.Credentials{Username: "alice", Password: "pw"}))
		})

		It("should send the address then the credentials", func() {
			rec, err := controller.Next(timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Fields).To(HaveKey("client_ip"))

			auth, err := controller.NextOfType("auth", timeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(auth.Fields["username"]).To(Equal("alice"))
			Expect(auth.Fields["password"]).To(Equal("pw"))
		})

		It("should reconnect after a session ends", func() {
			_, err := controller.NextOfType("auth", timeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(controller.Send(`{"type":"session_started","duration":600}`)).To(Succeed())
			Expect(controller.Send(`{"type":"session_end"}`)).To(Succeed())

			Eventually(controller.Connections, timeout).Should(Equal(2))
		})

		It("should exit on a rejected login", func() {
			_, err := controller.NextOfType("auth", timeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(controller.Send(`{"type":"auth_error","message":"bad password"}`)).To(Succeed())

			var err2 error
			Eventually(runErr, timeout).Should(Receive(&err2))
			Expect(err2).To(MatchError(ContainSubstring("bad password")))
			cancel()
			cancel = nil
		})
	})
})
