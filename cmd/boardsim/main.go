package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Station-Manager/types"
	bugst "go.bug.st/serial"

	"github.com/Station-Manager/sensorboard"
)

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device path")
	baud := flag.Int("baud", 9600, "baud rate")
	dataBits := flag.Int("databits", 8, "data bits")
	parity := flag.String("parity", "N", "parity (N,E,O)")
	stopBits := flag.Int("stopbits", 1, "stop bits (1 or 2)")
	name := flag.String("name", "telemetry_board", "board name used in status reports")
	capacity := flag.Int("capacity", sensorboard.DefaultLineCapacity, "command line buffer capacity")
	report := flag.Duration("report", 2*time.Second, "status report interval (0 disables)")
	relays := flag.String("relays", "computer:13,fan:5,mount:6,cameras:7,weather:8", "comma-separated name:pin relay list")
	stdio := flag.Bool("stdio", false, "run the parser over stdin/stdout instead of a serial port")

	flag.Parse()

	bank := sensorboard.NewRelayBank()
	if err := addRelays(bank, *relays); err != nil {
		log.Fatalf("relays: %v", err)
	}

	if *stdio {
		runStdio(bank, *capacity)
		return
	}

	cfg := types.SerialConfig{
		PortName: *device,
		BaudRate: *baud,
		DataBits: *dataBits,
	}

	// map parity
	switch strings.ToUpper(*parity) {
	case "N":
		cfg.Parity = bugst.NoParity
	case "E":
		cfg.Parity = bugst.EvenParity
	case "O":
		cfg.Parity = bugst.OddParity
	default:
		log.Fatalf("unsupported parity %q (use N,E,O)", *parity)
	}

	// map stop bits
	switch *stopBits {
	case 1:
		cfg.StopBits = bugst.OneStopBit
	case 2:
		cfg.StopBits = bugst.TwoStopBits
	default:
		log.Fatalf("unsupported stopbits %d (use 1 or 2)", *stopBits)
	}

	link, err := sensorboard.Open(cfg, bank, sensorboard.Options{
		BoardName:      *name,
		LineCapacity:   *capacity,
		ReportInterval: *report,
		Diagnostics:    true,
	})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer link.Close()

	log.Printf("simulating %s on %s (baud=%d, relays on pins %v)...",
		*name, cfg.PortName, cfg.BaudRate, bank.Pins())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	stats := link.Stats()
	log.Printf("done: %d lines, %d pin commands, %d named commands, %d mismatches",
		stats.Lines, stats.PinCommands, stats.NameCommands, stats.Mismatches)
}

// runStdio feeds stdin through the assembler line machinery and prints the
// resulting relay mutations, for protocol experiments without hardware.
func runStdio(bank *sensorboard.RelayBank, capacity int) {
	echo := sensorboard.HandlerFuncs{
		PinValue: func(pin, value uint8) {
			bank.HandlePinValue(pin, value)
			fmt.Printf("pin %d <- %d\n", pin, value)
		},
		NameValue: func(name []byte, value uint8) {
			bank.HandleNameValue(name, value)
			fmt.Printf("%s <- %d\n", name, value)
		},
	}

	asm := sensorboard.NewAssembler(capacity, echo, os.Stdout)
	src := &sensorboard.SliceSource{}

	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 256)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			src.Feed(buf[:n])
			asm.Poll(src)
		}
		if err != nil {
			break
		}
	}

	stats := asm.Stats()
	fmt.Fprintf(os.Stderr, "%d lines, %d matched, %d mismatched\n",
		stats.Lines, stats.PinCommands+stats.NameCommands, stats.Mismatches)
}

// addRelays parses "name:pin,name:pin" into the bank.
func addRelays(bank *sensorboard.RelayBank, spec string) error {
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, pinStr, ok := strings.Cut(entry, ":")
		if !ok {
			return fmt.Errorf("malformed relay %q (want name:pin)", entry)
		}
		pin, err := strconv.ParseUint(pinStr, 10, 8)
		if err != nil {
			return fmt.Errorf("malformed pin in %q: %w", entry, err)
		}
		bank.AddRelay(name, uint8(pin))
	}
	return nil
}
