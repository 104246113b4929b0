/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/hyperledger/fabric-x-bookie/common/checksum"
	"github.com/hyperledger/fabric-x-bookie/common/utils"
	"github.com/stretchr/testify/require"
)

func TestBookieConfigToYaml(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	conf := Defaults(dir)
	conf.DigestType = checksum.HMAC
	conf.Password = RawBytes("secret")
	conf.UseV2Protocol = true
	conf.MonitoringListenAddress = "127.0.0.1:0"
	conf.MetricsLogInterval = 3 * time.Second

	path := path.Join(dir, "bookie.yaml")
	require.NoError(t, conf.WriteConfig(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "digesttype: HMAC")
	require.Contains(t, string(raw), "password: c2VjcmV0")
	require.Contains(t, string(raw), "metricsloginterval: 3s")

	confFromYAML, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, conf, confFromYAML)
}

func TestReadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := path.Join(dir, "bookie.yaml")

	conf := Defaults(dir)
	conf.WriteBufferBytes = 0
	require.NoError(t, conf.WriteConfig(path))

	_, err := ReadConfig(path)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	_, err = ReadConfig(path + ".missing")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("digesttype: SHA256\n"), 0o644))
	_, err = ReadConfig(path)
	require.ErrorIs(t, err, checksum.ErrUnsupportedDigestType)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name        string
		modify      func(*BookieConfig)
		expectedErr error
	}{
		{name: "defaults", modify: func(*BookieConfig) {}},
		{name: "no directory", modify: func(c *BookieConfig) { c.Directory = "" }, expectedErr: utils.ErrInvalidArgument},
		{name: "no file name", modify: func(c *BookieConfig) { c.EntryLogFileName = "" }, expectedErr: utils.ErrInvalidArgument},
		{name: "nested file name", modify: func(c *BookieConfig) { c.EntryLogFileName = "a/b.log" }, expectedErr: utils.ErrInvalidArgument},
		{name: "negative read buffer", modify: func(c *BookieConfig) { c.ReadBufferBytes = -1 }, expectedErr: utils.ErrInvalidArgument},
		{name: "zero read buffer", modify: func(c *BookieConfig) { c.ReadBufferBytes = 0 }},
		{name: "eager flush", modify: func(c *BookieConfig) { c.UnpersistedBytesBound = 0 }},
		{name: "hmac without password", modify: func(c *BookieConfig) { c.DigestType = checksum.HMAC }, expectedErr: checksum.ErrKeyConfiguration},
		{name: "hmac with empty password", modify: func(c *BookieConfig) {
			c.DigestType = checksum.HMAC
			c.Password = RawBytes{}
		}},
		{name: "unset digest", modify: func(c *BookieConfig) { c.DigestType = checksum.DigestTypeUnset }, expectedErr: checksum.ErrUnsupportedDigestType},
		{name: "dummy digest", modify: func(c *BookieConfig) { c.DigestType = checksum.DUMMY }},
		{name: "negative interval", modify: func(c *BookieConfig) { c.MetricsLogInterval = -time.Second }, expectedErr: utils.ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := Defaults(t.TempDir())
			tc.modify(conf)
			err := conf.Validate()
			if tc.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestPaths(t *testing.T) {
	conf := Defaults("/var/bookie")
	require.Equal(t, "/var/bookie/entries.log", conf.EntryLogPath())
	require.Equal(t, "/var/bookie/index", conf.IndexPath())
}
