package main

import (
	"encoding/hex"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/temoto/meshview/helpers/cli"
	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/moteprobe"
)

const usage = `syntax: commands separated by whitespace
(main)
- test     echo test, 10 rounds
- test=N   echo test, N rounds
- size=N   set echo payload size, default 16
- sN       pause N milliseconds
- @XX...   frame payload from hex XX..., transmit, frames received are printed

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

const defaultEchoRounds = 10

var log = log2.NewStderr(log2.LDebug)

type tool struct {
	probe    *moteprobe.MoteProbe
	reg      *moteprobe.Registry
	echoSize int
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	modeName := cmdline.String("mode", "serial", "serial|socket")
	devicePath := cmdline.String("device", "/dev/ttyUSB0", "")
	baud := cmdline.Int("baud", moteprobe.DefaultBaudrate, "")
	socketHost := cmdline.String("socket", "", "host[:port] for socket mode")
	cmdline.Parse(os.Args[1:]) //nolint:errcheck

	log.SetFlags(log2.LInteractiveFlags)

	var tr moteprobe.Transport
	var err error
	var mode moteprobe.Mode
	var portname string
	switch *modeName {
	case "serial":
		mode = moteprobe.ModeSerial
		portname = *devicePath
		tr, err = moteprobe.NewSerial(*devicePath, *baud)
	case "socket":
		mode = moteprobe.ModeSocket
		portname = *socketHost
		tr, err = moteprobe.NewSocket(*socketHost, 10*time.Second)
	default:
		log.Fatalf("unknown mode=%s, want serial|socket", *modeName)
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	self := &tool{
		reg:      moteprobe.NewRegistry(log),
		echoSize: 16,
	}
	self.probe = moteprobe.New(mode, portname, tr, self.reg, log)
	self.subscribePrinter()
	self.probe.Start()
	defer self.probe.Close()

	cli.MainLoop("meshview-cli", self.executor, completer)
}

func (self *tool) subscribePrinter() {
	err := self.reg.Subscribe(self.probe.Portname(), func(_ string, payload []byte) {
		log.Infof("< %x", payload)
	})
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func (self *tool) executor(line string) {
	words := strings.Split(line, " ")
	loopn := uint64(1)
	rest := make([]string, 0, len(words))
	for _, word := range words {
		word = strings.TrimSpace(word)
		switch {
		case word == "":
		case strings.HasPrefix(word, "loop="):
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				log.Errorf("word=%s: %s", word, err)
				return
			}
			loopn = i
		default:
			rest = append(rest, word)
		}
	}

	for i := uint64(0); i < loopn; i++ {
		for _, word := range rest {
			if err := self.execCommand(word); err != nil {
				log.Errorf(errors.ErrorStack(err))
				return
			}
		}
	}
}

func (self *tool) execCommand(word string) error {
	switch {
	case word == "help":
		log.Infof(usage)
		return nil
	case word == "log=yes":
		log.SetLevel(log2.LDebug)
		return nil
	case word == "log=no":
		log.SetLevel(log2.LInfo)
		return nil
	case word == "test":
		return self.runEchoTest(defaultEchoRounds)
	case strings.HasPrefix(word, "test="):
		n, err := strconv.ParseUint(word[5:], 10, 32)
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		return self.runEchoTest(int(n))
	case strings.HasPrefix(word, "size="):
		n, err := strconv.ParseUint(word[5:], 10, 16)
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		self.echoSize = int(n)
		return nil
	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		time.Sleep(time.Duration(i) * time.Millisecond)
		return nil
	case word[0] == '@':
		payload, err := hex.DecodeString(word[1:])
		if err != nil {
			return errors.Annotatef(err, "word=%s", word)
		}
		log.Infof("> %x", payload)
		return self.probe.Send(payload)
	default:
		return errors.Errorf("invalid command: '%s'", word)
	}
}

func (self *tool) runEchoTest(rounds int) error {
	// the tester needs the port's registry slot for itself
	self.reg.Unsubscribe(self.probe.Portname())
	defer self.subscribePrinter()

	tester := moteprobe.NewSerialTester(self.probe, self.reg, moteprobe.DefaultEchoTimeout, log)
	stats, err := tester.Run(rounds, self.echoSize)
	if err != nil {
		return errors.Trace(err)
	}
	log.Infof("echo sent=%d ok=%d timeout=%d corrupt=%d", stats.Sent, stats.Ok, stats.Timeout, stats.Corrupt)
	return nil
}

func completer(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "test", Description: "echo test"},
		{Text: "size=N", Description: "set echo payload size"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "@XX", Description: "transmit frame with hex payload"},
	}
	return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
}
