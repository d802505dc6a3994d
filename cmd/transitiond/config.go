// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/naoina/toml"
	"gopkg.in/yaml.v3"

	"github.com/dome-network/geth-transition/eth/ethconfig"
)

// envPrefix prefixes every environment variable the node reads.
const envPrefix = "TRANSITIOND"

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type nodeConfig struct {
	HTTPHost    string `toml:",omitempty" yaml:"httpHost"`
	HTTPPort    int    `toml:",omitempty" yaml:"httpPort"`
	JWTSecret   string `toml:",omitempty" yaml:"jwtSecret"` // Engine API secret file
	NodeKeyFile string `toml:",omitempty" yaml:"nodeKeyFile"`
	DBEngine    string `toml:",omitempty" yaml:"dbEngine"`
}

type metricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	HTTP    string `yaml:"http"`
	Port    int    `yaml:"port"`
}

type logConfig struct {
	Verbosity  int    `yaml:"verbosity"`
	File       string `toml:",omitempty" yaml:"file"`
	MaxSize    int    `yaml:"maxSize"` // Megabytes per rotated file
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type transitiondConfig struct {
	Eth     ethconfig.Config `yaml:"eth"`
	Node    nodeConfig       `yaml:"node"`
	Metrics metricsConfig    `yaml:"metrics"`
	Log     logConfig        `yaml:"log"`
}

func defaultConfig() transitiondConfig {
	return transitiondConfig{
		Eth: ethconfig.Defaults,
		Node: nodeConfig{
			HTTPHost: "localhost",
			HTTPPort: 8551,
			DBEngine: "pebble",
		},
		Metrics: metricsConfig{
			HTTP: "127.0.0.1",
			Port: 6060,
		},
		Log: logConfig{
			Verbosity:  3,
			MaxSize:    100,
			MaxBackups: 10,
		},
	}
}

// loadConfig reads a TOML or, judging by the file extension, YAML
// configuration file into cfg.
func loadConfig(file string, cfg *transitiondConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bufio.NewReader(f))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		return nil
	default:
		err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
		// Add file name to errors that have a line number.
		if _, ok := err.(*toml.LineError); ok {
			err = errors.New(file + ", " + err.Error())
		}
		return err
	}
}

// envOverlay lists the settings that can be given through the environment.
type envOverlay struct {
	DataDir   string `envconfig:"DATADIR"`
	NetworkID uint64 `envconfig:"NETWORKID"`
	Mine      bool   `envconfig:"MINE"`
	Etherbase string `envconfig:"ETHERBASE"`
	HTTPPort  int    `envconfig:"HTTP_PORT"`
	Verbosity int    `envconfig:"VERBOSITY"`
	LogFile   string `envconfig:"LOG_FILE"`
}

// applyEnv overrides cfg with TRANSITIOND_* environment variables. Unset
// variables leave the configured value alone.
func applyEnv(cfg *transitiondConfig) error {
	env := envOverlay{
		DataDir:   cfg.Eth.DataDir,
		NetworkID: cfg.Eth.NetworkId,
		Mine:      cfg.Eth.Miner.Enabled,
		HTTPPort:  cfg.Node.HTTPPort,
		Verbosity: cfg.Log.Verbosity,
		LogFile:   cfg.Log.File,
	}
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("error processing environment: %w", err)
	}
	if env.Etherbase != "" {
		if !common.IsHexAddress(env.Etherbase) {
			return fmt.Errorf("invalid %s_ETHERBASE %q", envPrefix, env.Etherbase)
		}
		cfg.Eth.Miner.Etherbase = common.HexToAddress(env.Etherbase)
	}
	cfg.Eth.DataDir = env.DataDir
	cfg.Eth.NetworkId = env.NetworkID
	cfg.Eth.Miner.Enabled = env.Mine
	cfg.Node.HTTPPort = env.HTTPPort
	cfg.Log.Verbosity = env.Verbosity
	cfg.Log.File = env.LogFile
	return nil
}
