/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"encoding/base64"
	"path/filepath"
	"time"

	"github.com/hyperledger/fabric-x-bookie/common/checksum"
	"github.com/hyperledger/fabric-x-bookie/common/utils"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type RawBytes []byte

func (bytes RawBytes) MarshalYAML() (interface{}, error) {
	return base64.StdEncoding.EncodeToString(bytes), nil
}

func (bytes *RawBytes) UnmarshalYAML(node *yaml.Node) error {
	value := node.Value
	ba, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return err
	}
	*bytes = ba
	return nil
}

const (
	DefaultEntryLogFileName      = "entries.log"
	DefaultIndexDirName          = "index"
	DefaultWriteBufferBytes      = 64 * 1024
	DefaultReadBufferBytes       = 512
	DefaultUnpersistedBytesBound = 4 * 1024 * 1024
	DefaultLogSpec               = "info"
	DefaultMetricsLogInterval    = 10 * time.Second
)

type BookieConfig struct {
	// Storage
	Directory             string
	EntryLogFileName      string
	WriteBufferBytes      int
	ReadBufferBytes       int
	UnpersistedBytesBound int64
	// Digest
	DigestType    checksum.DigestType
	Password      RawBytes
	UseV2Protocol bool
	// Observability
	LogSpec                 string
	MonitoringListenAddress string
	MetricsLogInterval      time.Duration
}

// Defaults returns a configuration storing under dir with CRC32C digests.
func Defaults(dir string) *BookieConfig {
	return &BookieConfig{
		Directory:             dir,
		EntryLogFileName:      DefaultEntryLogFileName,
		WriteBufferBytes:      DefaultWriteBufferBytes,
		ReadBufferBytes:       DefaultReadBufferBytes,
		UnpersistedBytesBound: DefaultUnpersistedBytesBound,
		DigestType:            checksum.CRC32C,
		LogSpec:               DefaultLogSpec,
		MetricsLogInterval:    DefaultMetricsLogInterval,
	}
}

func (c *BookieConfig) Validate() error {
	if c.Directory == "" {
		return errors.Wrap(utils.ErrInvalidArgument, "directory is not set")
	}
	if c.EntryLogFileName == "" {
		return errors.Wrap(utils.ErrInvalidArgument, "entry log file name is not set")
	}
	if filepath.Base(c.EntryLogFileName) != c.EntryLogFileName {
		return errors.Wrapf(utils.ErrInvalidArgument, "entry log file name %s must not contain a directory", c.EntryLogFileName)
	}
	if c.WriteBufferBytes <= 0 {
		return errors.Wrapf(utils.ErrInvalidArgument, "write buffer bytes must be positive, got %d", c.WriteBufferBytes)
	}
	if c.ReadBufferBytes < 0 {
		return errors.Wrapf(utils.ErrInvalidArgument, "read buffer bytes must not be negative, got %d", c.ReadBufferBytes)
	}
	switch c.DigestType {
	case checksum.CRC32, checksum.CRC32C, checksum.DUMMY:
	case checksum.HMAC:
		if c.Password == nil {
			return errors.Wrap(checksum.ErrKeyConfiguration, "HMAC digest requires a password")
		}
	default:
		return errors.Wrapf(checksum.ErrUnsupportedDigestType, "digest type %d", int32(c.DigestType))
	}
	if c.MetricsLogInterval < 0 {
		return errors.Wrapf(utils.ErrInvalidArgument, "metrics log interval must not be negative, got %s", c.MetricsLogInterval)
	}
	return nil
}

func (c *BookieConfig) EntryLogPath() string {
	return filepath.Join(c.Directory, c.EntryLogFileName)
}

func (c *BookieConfig) IndexPath() string {
	return filepath.Join(c.Directory, DefaultIndexDirName)
}

// ReadConfig loads and validates the configuration at path.
func ReadConfig(path string) (*BookieConfig, error) {
	conf := &BookieConfig{}
	if err := utils.ReadFromYAML(conf, path); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration in %s", path)
	}
	return conf, nil
}

func (c *BookieConfig) WriteConfig(path string) error {
	return utils.WriteToYAML(c, path)
}
