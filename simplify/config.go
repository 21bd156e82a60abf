// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package simplify

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/SnellerInc/midend/extract"
	"sigs.k8s.io/yaml"
)

// Order is the order in which the classes
// of a worklist are visited within a round.
type Order uint8

const (
	// Forward visits classes by ascending ID.
	Forward Order = iota
	// Reverse visits classes by descending ID.
	Reverse
)

func (o Order) String() string {
	if o == Reverse {
		return "reverse"
	}
	return "forward"
}

// MarshalText implements encoding.TextMarshaler.
func (o Order) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Order) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "forward":
		*o = Forward
	case "reverse":
		*o = Reverse
	default:
		return fmt.Errorf("unknown worklist order %q", b)
	}
	return nil
}

// Logger is the interface used for
// diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(f string, args ...interface{})
}

// Config controls the fixpoint driver.
type Config struct {
	// MaxIterations bounds the number of
	// match-and-apply rounds per Func.
	MaxIterations int `json:"max_iterations" toml:"max_iterations"`
	// MaxRewrites bounds the number of applied
	// rewrites that changed the graph.
	MaxRewrites int `json:"max_rewrites" toml:"max_rewrites"`
	// MaxNodes bounds the size of the graph;
	// no rewrite is applied once it is reached.
	MaxNodes int `json:"max_nodes" toml:"max_nodes"`
	// Order is the worklist order. The result
	// of a saturated run does not depend on it.
	Order Order `json:"order" toml:"order"`
	// Costs overrides the base cost of ops by name.
	Costs map[string]int64 `json:"costs,omitempty" toml:"costs"`
	// VectorWeight, if positive, overrides the
	// host-dependent weight of vector ops.
	VectorWeight int64 `json:"vector_weight,omitempty" toml:"vector_weight"`
	// Parallel is the number of Funcs SimplifyAll
	// works on at once; zero means GOMAXPROCS.
	Parallel int `json:"parallel,omitempty" toml:"parallel"`
	// Logger, if non-nil, receives budget
	// warnings and run summaries.
	Logger Logger `json:"-" toml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 64,
		MaxRewrites:   1 << 16,
		MaxNodes:      1 << 20,
	}
}

// LoadConfig reads a configuration file on top of
// DefaultConfig. Files ending in .toml are TOML;
// .yaml, .yml and .json files are YAML.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		if keys := md.Undecoded(); len(keys) > 0 {
			return nil, fmt.Errorf("loading %s: unknown key %s", path, keys[0])
		}
	case ".yaml", ".yml", ".json":
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(buf, c); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("loading %s: unknown config format %q", path, ext)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the budgets and cost overrides of c.
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 || c.MaxRewrites <= 0 || c.MaxNodes <= 0 {
		return fmt.Errorf("budgets must be positive")
	}
	if c.Parallel < 0 {
		return fmt.Errorf("negative parallelism %d", c.Parallel)
	}
	if c.VectorWeight < 0 {
		return fmt.Errorf("negative vector weight %d", c.VectorWeight)
	}
	_, err := c.CostModel()
	return err
}

// CostModel returns the cost table described by c.
func (c *Config) CostModel() (*extract.Table, error) {
	t := extract.DefaultCosts()
	if c.VectorWeight > 0 {
		t.VectorWeight = c.VectorWeight
	}
	names := make([]string, 0, len(c.Costs))
	for name := range c.Costs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t.Set(name, c.Costs[name]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (c *Config) parallel() int {
	if c.Parallel > 0 {
		return c.Parallel
	}
	return runtime.GOMAXPROCS(0)
}

func (c *Config) logf(f string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(f, args...)
	}
}
