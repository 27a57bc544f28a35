// Package config reads HCL configuration with include support.
package config

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/temoto/meshview/helpers"
	"github.com/temoto/meshview/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	// Mode selects how motes attach: serial, emulated, socket, testbed.
	Mode string `hcl:"mode"`

	// Root promotes this mote, by port name or 16-bit address, to DAG
	// root right after startup.
	Root string `hcl:"root"`

	Server struct {
		// ListenAddr of the HTTP command surface, empty disables it.
		ListenAddr string `hcl:"listen"`
	} `hcl:"server"`

	Serial struct {
		// Devices pins the port list; empty means scan.
		Devices []string `hcl:"devices"`
		// Globs narrows the scan to matching device paths.
		Globs    []string `hcl:"globs"`
		Baudrate int      `hcl:"baudrate"`
	} `hcl:"serial"`

	Emulated struct {
		NumMotes int `hcl:"num_motes"`
		// AutoBoot powers every emulated mote on startup.
		AutoBoot bool `hcl:"auto_boot"`
	} `hcl:"emulated"`

	Socket struct {
		// Hosts in host or host:port form, default port 20000.
		Hosts      []string `hcl:"hosts"`
		TimeoutSec int      `hcl:"timeout_sec"`
	} `hcl:"socket"`

	Testbed struct {
		BrokerURL string `hcl:"broker_url"`
		// Motes pins the EUI-64 list; empty means discover via broker.
		Motes             []string `hcl:"motes"`
		DiscoverSec       int      `hcl:"discover_sec"`
		NetworkTimeoutSec int      `hcl:"network_timeout_sec"`
	} `hcl:"testbed"`

	Ebm struct {
		Enable bool `hcl:"enable"`
	} `hcl:"ebm"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
