// Command arcvm boots a guest program against the register-machine
// emulator: it builds the boot-state physical address space, wires a
// console and an optional drive onto the I/O bus, and runs the CPU
// under the debug interface spec.md §6 and §4.9 describe. Flag wiring
// grounded on oisee-z80-optimizer/cmd/z80opt/main.go's cobra/pflag use.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arcvm/arcvm/internal/config"
	"github.com/arcvm/arcvm/internal/emulator"
	"github.com/arcvm/arcvm/internal/iobus"
	"github.com/arcvm/arcvm/internal/iobus/stub"
)

const (
	consoleBase = 0xFFFFFF00
	driveBase   = 0xFFFFFF10
	driveSize   = 1 << 20
	driveVector = 32
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		programPath    string
		ramSize        uint64
		display        string
		drivePath      string
		consoleTarget  string
		debugTransport string
		configPath     string
	)

	root := &cobra.Command{
		Use:           "arcvm",
		Short:         "register-machine emulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(bootArgs{
				programPath:    programPath,
				ramSize:        ramSize,
				display:        display,
				drivePath:      drivePath,
				consoleTarget:  consoleTarget,
				debugTransport: debugTransport,
				configPath:     configPath,
			})
		},
	}

	flags := root.Flags()
	flags.StringVarP(&programPath, "program", "p", "", "program image to load at the BIOS base address")
	flags.Uint64VarP(&ramSize, "ram", "m", 16<<20, "RAM size in bytes")
	flags.StringVarP(&display, "display", "d", "none", "display backend: sdl, xcb, or none")
	flags.StringVarP(&drivePath, "drive", "D", "", "drive image file to attach as block storage")
	flags.StringVarP(&consoleTarget, "console", "c", "stdio", "console transport: stdio, file:PATH, or port:N")
	flags.StringVar(&debugTransport, "debug", "disabled", "debug transport: disabled, stdio, file:PATH, or port:N")
	flags.StringVar(&configPath, "config", "", "machine-profile file supplying -p and -D when those flags are not given")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "arcvm:", err)
		return 1
	}
	return exitCode
}

// exitCode is set by boot's halt-reason handling; 0 is the zero value
// cobra's Execute leaves in place when nothing overrides it (a guest
// halt is always exit 0 per spec.md §6).
var exitCode int

type bootArgs struct {
	programPath    string
	ramSize        uint64
	display        string
	drivePath      string
	consoleTarget  string
	debugTransport string
	configPath     string
}

func boot(a bootArgs) error {
	if a.configPath != "" {
		profile, err := config.Load(a.configPath)
		if err != nil {
			exitCode = 1
			return err
		}
		merged := config.Merge(profile, a.programPath, a.ramSize, a.display, a.drivePath, a.consoleTarget, a.debugTransport)
		a.programPath, a.ramSize, a.display = merged.ProgramPath, merged.RAMSize, merged.Display
		a.drivePath, a.consoleTarget, a.debugTransport = merged.DrivePath, merged.ConsoleTarget, merged.DebugTarget
	}

	if a.programPath == "" {
		exitCode = 1
		return fmt.Errorf("-p/--program is required")
	}
	image, err := os.ReadFile(a.programPath)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("read program image: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	bus := iobus.New()
	console := stub.NewConsole(consoleBase)
	bus.Register(console)
	if a.drivePath != "" {
		data, err := os.ReadFile(a.drivePath)
		if err != nil {
			exitCode = 1
			return fmt.Errorf("read drive image: %w", err)
		}
		drive := stub.NewStorage(driveBase, driveSize, driveVector, bus.RaiseInterrupt)
		drive.Load(0, data)
		bus.Register(drive)
	}

	m := emulator.New(a.ramSize, image, bus, log.With("component", "arcvm"))
	m.DebugTransport = a.debugTransport

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		m.Shutdown()
		cancel()
	}()

	err = m.Run(ctx)
	if h := m.CPU.Halted(); h != nil {
		log.Info("guest halted", "reason", h.Error())
		exitCode = 0
		return nil
	}
	if err != nil {
		exitCode = 1
		return err
	}
	return nil
}
