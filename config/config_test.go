package config

import (
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/temoto/meshview/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, "", c.Mode)
		}, ""},

		{"serial",
			`mode = "serial" serial { devices = ["/dev/ttyUSB0"] baudrate = 115200 }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "serial", c.Mode)
				assert.Equal(t, []string{"/dev/ttyUSB0"}, c.Serial.Devices)
				assert.Equal(t, 115200, c.Serial.Baudrate)
			},
			"",
		},

		{"emulated", `
mode = "emulated"
root = "emulated1"
emulated { num_motes = 5 auto_boot = true }
server { listen = "127.0.0.1:9000" }
ebm { enable = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 5, c.Emulated.NumMotes)
				assert.True(t, c.Emulated.AutoBoot)
				assert.Equal(t, "emulated1", c.Root)
				assert.Equal(t, "127.0.0.1:9000", c.Server.ListenAddr)
				assert.True(t, c.Ebm.Enable)
			},
			"",
		},

		{"testbed", `
mode = "testbed"
testbed {
	broker_url = "tcp://broker:1883"
	motes = ["0102030405060708"]
	network_timeout_sec = 30
}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "tcp://broker:1883", c.Testbed.BrokerURL)
				assert.Equal(t, []string{"0102030405060708"}, c.Testbed.Motes)
				assert.Equal(t, 30, c.Testbed.NetworkTimeoutSec)
			},
			"",
		},

		{"include-normalize", `
mode = "socket"
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "mode-socket" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "socket", c.Mode)
			}, ""},

		{"include-overwrites", `
mode = "serial"
include "mode-socket" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "socket", c.Mode)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"mode-socket":  `mode = "socket"`,
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../meshview.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	MustReadConfig(log, NewOsFullReader(), "../meshview.hcl")
}
