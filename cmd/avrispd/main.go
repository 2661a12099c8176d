package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tinyavr/avrispbridge/avrisp"
	"github.com/tinyavr/avrispbridge/cmd/avrispd/version"
)

var (
	portName     string
	spiBackend   string
	speedKHz     int
	eraseCeiling int
	logLevel     string
	logFormat    string
	logFile      string
	verbose      bool

	mosiPin, misoPin, sckPin, resetPin string
	hwSPIName, hwResetPin              string
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "avrispd",
		Short:            "avrispd bridges STK500v1 host-tool frames to an AVR target over SPI.",
		Long:             "avrispd speaks the STK500v1 subset over a USB-CDC serial port and drives an AVR target's serial-programming pins in response.",
		Args:             cobra.NoArgs,
		RunE:             run,
		PersistentPreRun: preRun,
	}

	cmd.Flags().StringVar(&portName, "port", "", "serial device presenting the USB-CDC endpoint (required)")
	cmd.Flags().StringVar(&spiBackend, "spi", "software", "SPI backend to use: \"software\" (bit-banged GPIO) or \"hardware\" (periph.io peripheral)")
	cmd.Flags().IntVar(&speedKHz, "speed-khz", 100, "software backend bit clock, in kHz (ignored by the hardware backend)")
	cmd.Flags().IntVar(&eraseCeiling, "erase-ceiling", 0, "override the chip-erase safety ceiling (0 keeps the built-in default)")

	cmd.Flags().StringVar(&mosiPin, "gpio-mosi", "GPIO10", "software backend: MOSI pin name")
	cmd.Flags().StringVar(&misoPin, "gpio-miso", "GPIO9", "software backend: MISO pin name")
	cmd.Flags().StringVar(&sckPin, "gpio-sck", "GPIO11", "software backend: SCK pin name")
	cmd.Flags().StringVar(&resetPin, "gpio-reset", "GPIO25", "software backend: target RESET pin name")

	cmd.Flags().StringVar(&hwSPIName, "spi-port", "/dev/spidev0.0", "hardware backend: SPI port name")
	cmd.Flags().StringVar(&hwResetPin, "spi-reset-pin", "GPIO25", "hardware backend: target RESET pin name")

	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "path to a file to also write logs to")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum level to log: trace, debug, info, warn, error, fatal, panic")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also print logs to stdout")

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print avrispd's version and exit.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info)
		},
	}
}

func preRun(cmd *cobra.Command, args []string) {
	if verbose {
		logrus.SetOutput(colorable.NewColorableStdout())
		logrus.SetFormatter(&prefixed.TextFormatter{
			DisableColors:   false,
			TimestampFormat: "15:04:05",
			FullTimestamp:   true,
			ForceFormatting: true,
		})
	} else {
		logrus.SetOutput(ioutil.Discard)
	}

	if strings.ToLower(logFormat) == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to open log file %s: %v\n", logFile, err)
			os.Exit(1)
		}
		if strings.ToLower(logFormat) == "json" {
			logrus.AddHook(lfshook.NewHook(file, &logrus.JSONFormatter{}))
		} else {
			logrus.AddHook(lfshook.NewHook(file, &logrus.TextFormatter{}))
		}
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level %q: %v\n", logLevel, err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	avrisp.SetLogger(logrus.StandardLogger())
}

func run(cmd *cobra.Command, args []string) error {
	if portName == "" {
		return fmt.Errorf("--port is required")
	}

	link, err := buildSPILink()
	if err != nil {
		return fmt.Errorf("configuring SPI backend: %w", err)
	}
	if err := link.Init(); err != nil {
		return fmt.Errorf("initializing SPI backend: %w", err)
	}
	if speedKHz > 0 && spiBackend == "software" {
		halfPeriodUs := uint32(1000 / (2 * speedKHz))
		if halfPeriodUs == 0 {
			halfPeriodUs = 1
		}
		link.SetSpeed(halfPeriodUs)
	}

	io, err := avrisp.OpenSerialHostIO(portName)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}
	defer io.Close()

	bridge := avrisp.NewBridge(io, link)
	if eraseCeiling > 0 {
		bridge.SetEraseCeiling(uint32(eraseCeiling))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logrus.Info("shutting down on signal")
		cancel()
	}()

	logrus.Infof("avrispd listening on %s (spi=%s)", portName, spiBackend)
	if err := bridge.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func buildSPILink() (avrisp.SPILink, error) {
	switch spiBackend {
	case "hardware":
		return avrisp.NewHardwareSPI(hwSPIName, hwResetPin)
	case "software":
		return avrisp.NewSoftwareSPIFromPinNames(mosiPin, misoPin, sckPin, resetPin)
	default:
		return nil, fmt.Errorf("unknown --spi backend %q, want \"software\" or \"hardware\"", spiBackend)
	}
}
