package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmouse/openmouse/internal/devicesvc"
	"github.com/openmouse/openmouse/mouse"
	"github.com/openmouse/openmouse/pkg/agent"
	"github.com/openmouse/openmouse/pkg/profileyaml"
)

// deviceWait bounds how long one-shot commands wait for the addressed
// device to be probed after startup.
const deviceWait = 5 * time.Second

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "openmouse"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:      filepath.Join(configDir, "data"),
		TuningConfig: filepath.Join(configDir, "tuning.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "openmoused",
		Short: "Gaming mouse configuration daemon",
		Long:  `openmoused discovers configurable mice and manages their onboard profiles.`,
	}
	var a *agent.Agent
	agentProvider := func() *agent.Agent {
		return a
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.TuningConfig, "tuning-config", cfg.TuningConfig, "tuning config file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return a.Close()
	}
	rootCmd.AddCommand(NewRun(agentProvider))
	rootCmd.AddCommand(NewListDevices(agentProvider))
	rootCmd.AddCommand(NewShow(agentProvider))
	rootCmd.AddCommand(NewSetDPI(agentProvider))
	rootCmd.AddCommand(NewSetRate(agentProvider))
	rootCmd.AddCommand(NewSetActiveProfile(agentProvider))
	rootCmd.AddCommand(NewExport(agentProvider))
	rootCmd.AddCommand(NewApply(agentProvider))
	return rootCmd
}

func NewRun(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Long:  `Run the daemon until interrupted, keeping track of mice as they come and go.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return agent().Run(cmd.Context())
		},
	}
}

// deviceListing is the JSON shape of the list-devices output.
type deviceListing struct {
	Connected []connectedDevice  `json:"connected"`
	Known     []devicesvc.Record `json:"known"`
}

type connectedDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Profiles int    `json:"profiles"`
	Dirty    bool   `json:"dirty"`
}

func NewListDevices(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List configurable mice",
		Long:  `List currently connected mice alongside every mouse seen before.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				// Probing runs asynchronously after discovery, give it a
				// moment to settle.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(1 * time.Second):
				}
				listing := deviceListing{
					Connected: []connectedDevice{},
					Known:     []devicesvc.Record{},
				}
				for _, d := range agent().Devices().Devices() {
					listing.Connected = append(listing.Connected, connectedDevice{
						ID:       d.ID,
						Name:     d.Device.Info().Name,
						Driver:   d.Driver,
						Profiles: len(d.Device.Profiles()),
						Dirty:    d.Device.Dirty(),
					})
				}
				known, err := agent().Devices().Known()
				if err != nil {
					return err
				}
				listing.Known = append(listing.Known, known...)
				return printJSON(cmd, listing)
			})
		},
	}
}

type profileListing struct {
	Index       int                 `json:"index"`
	Name        string              `json:"name,omitempty"`
	Enabled     bool                `json:"enabled"`
	Active      bool                `json:"active"`
	RateMS      uint8               `json:"rateMs,omitempty"`
	Dirty       bool                `json:"dirty"`
	Resolutions []resolutionListing `json:"resolutions,omitempty"`
	Buttons     []string            `json:"buttons,omitempty"`
	Leds        []ledListing        `json:"leds,omitempty"`
}

type resolutionListing struct {
	DPI     uint16 `json:"dpi"`
	Active  bool   `json:"active,omitempty"`
	Default bool   `json:"default,omitempty"`
}

type ledListing struct {
	Mode       string `json:"mode"`
	Color      string `json:"color"`
	PeriodMS   uint16 `json:"periodMs,omitempty"`
	Brightness uint8  `json:"brightness,omitempty"`
}

func NewShow(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "show <device>",
		Short: "Show the profiles of a mouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				managed, err := waitDevice(ctx, agent().Devices(), args[0])
				if err != nil {
					return err
				}
				var listing []profileListing
				for _, p := range managed.Device.Profiles() {
					entry := profileListing{
						Index:   p.Index(),
						Name:    p.Name(),
						Enabled: p.Enabled(),
						Active:  p.Active(),
						RateMS:  p.ReportRateMS(),
						Dirty:   p.Dirty(),
					}
					for _, r := range p.Resolutions() {
						entry.Resolutions = append(entry.Resolutions, resolutionListing{
							DPI:     r.DPI(),
							Active:  r.IsActive(),
							Default: r.IsDefault(),
						})
					}
					for _, b := range p.Buttons() {
						entry.Buttons = append(entry.Buttons, describeAction(b.Action()))
					}
					for _, l := range p.Leds() {
						entry.Leds = append(entry.Leds, ledListing{
							Mode:       l.Mode().String(),
							Color:      fmt.Sprintf("#%02x%02x%02x", l.Color().R, l.Color().G, l.Color().B),
							PeriodMS:   l.PeriodMS(),
							Brightness: l.Brightness(),
						})
					}
					listing = append(listing, entry)
				}
				return printJSON(cmd, listing)
			})
		},
	}
}

func NewSetDPI(agent agentProvider) *cobra.Command {
	var profileIdx int
	var slot int
	cmd := &cobra.Command{
		Use:   "set-dpi <device> <dpi>",
		Short: "Change a resolution slot and write it to the mouse",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dpi, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid resolution %q: %w", args[1], err)
			}
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				managed, err := waitDevice(ctx, agent().Devices(), args[0])
				if err != nil {
					return err
				}
				profile, err := selectProfile(managed.Device, profileIdx)
				if err != nil {
					return err
				}
				resolution, err := selectResolution(profile, slot)
				if err != nil {
					return err
				}
				if err := resolution.SetDPI(uint16(dpi)); err != nil {
					return err
				}
				return agent().Devices().Commit(ctx, managed.ID)
			})
		},
	}
	cmd.Flags().IntVar(&profileIdx, "profile", -1, "profile index (default: the active profile)")
	cmd.Flags().IntVar(&slot, "slot", -1, "resolution slot (default: the active slot)")
	return cmd
}

func NewSetRate(agent agentProvider) *cobra.Command {
	var profileIdx int
	cmd := &cobra.Command{
		Use:   "set-rate <device> <interval-ms>",
		Short: "Change the report interval and write it to the mouse",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("invalid interval %q: %w", args[1], err)
			}
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				managed, err := waitDevice(ctx, agent().Devices(), args[0])
				if err != nil {
					return err
				}
				profile, err := selectProfile(managed.Device, profileIdx)
				if err != nil {
					return err
				}
				if err := profile.SetReportRate(uint8(ms)); err != nil {
					return err
				}
				return agent().Devices().Commit(ctx, managed.ID)
			})
		},
	}
	cmd.Flags().IntVar(&profileIdx, "profile", -1, "profile index (default: the active profile)")
	return cmd
}

func NewSetActiveProfile(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "set-active-profile <device> <profile>",
		Short: "Switch the mouse to another onboard profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid profile index %q: %w", args[1], err)
			}
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				managed, err := waitDevice(ctx, agent().Devices(), args[0])
				if err != nil {
					return err
				}
				return managed.Device.SetActiveProfile(ctx, index)
			})
		},
	}
}

func NewExport(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "export <device>",
		Short: "Write the profiles of a mouse to stdout as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				managed, err := waitDevice(ctx, agent().Devices(), args[0])
				if err != nil {
					return err
				}
				data, err := profileyaml.Marshal(profileyaml.Snapshot(managed.Device))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}

func NewApply(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <device> <file>",
		Short: "Apply a YAML profile document and write it to the mouse",
		Long:  `Apply a document produced by export. Only the differences against the current state are written.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			doc, err := profileyaml.Unmarshal(data)
			if err != nil {
				return err
			}
			return withRunningAgent(cmd, agent(), func(ctx context.Context) error {
				managed, err := waitDevice(ctx, agent().Devices(), args[0])
				if err != nil {
					return err
				}
				if err := profileyaml.Apply(doc, managed.Device); err != nil {
					return err
				}
				return agent().Devices().Commit(ctx, managed.ID)
			})
		},
	}
}

// withRunningAgent runs the agent in the background for the duration of a
// one-shot command.
func withRunningAgent(cmd *cobra.Command, a *agent.Agent, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run(ctx)
	}()
	select {
	case err := <-runErr:
		if err != nil {
			return err
		}
		return fmt.Errorf("agent stopped before becoming ready")
	case <-a.Ready():
	}

	opErr := fn(ctx)
	cancel()
	if err := <-runErr; err != nil && opErr == nil {
		return err
	}
	return opErr
}

// waitDevice polls until the addressed device has been probed. Devices show
// up shortly after startup, so a bounded wait beats failing immediately.
func waitDevice(ctx context.Context, svc *devicesvc.Service, id string) (*devicesvc.ManagedDevice, error) {
	deadline := time.After(deviceWait)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d, err := svc.Get(id); err == nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("device not connected: %s", id)
		case <-ticker.C:
		}
	}
}

func selectProfile(dev *mouse.Device, index int) (*mouse.Profile, error) {
	if index < 0 {
		p := dev.ActiveProfile()
		if p == nil {
			return nil, fmt.Errorf("device has no active profile, pass --profile")
		}
		return p, nil
	}
	return dev.Profile(index)
}

func selectResolution(p *mouse.Profile, slot int) (*mouse.Resolution, error) {
	resolutions := p.Resolutions()
	if slot < 0 {
		for _, r := range resolutions {
			if r.IsActive() {
				return r, nil
			}
		}
		return nil, fmt.Errorf("profile has no active resolution slot, pass --slot")
	}
	if slot >= len(resolutions) {
		return nil, fmt.Errorf("profile has %d resolution slots, no slot %d", len(resolutions), slot)
	}
	return resolutions[slot], nil
}

func describeAction(a mouse.Action) string {
	switch a.Kind {
	case mouse.ActionNone:
		return "disabled"
	case mouse.ActionButton:
		return fmt.Sprintf("button %d", a.Button)
	case mouse.ActionKey:
		if a.Modifiers != 0 {
			return fmt.Sprintf("key 0x%02x mod 0x%02x", a.Key, a.Modifiers)
		}
		return fmt.Sprintf("key 0x%02x", a.Key)
	case mouse.ActionConsumer:
		return fmt.Sprintf("consumer 0x%04x", a.Consumer)
	case mouse.ActionSpecial:
		return fmt.Sprintf("special 0x%02x", uint8(a.Special))
	case mouse.ActionMacro:
		return fmt.Sprintf("macro of %d steps", len(a.Macro))
	}
	return a.Kind.String()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
